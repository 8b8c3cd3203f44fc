//go:build linux

package internal

import (
	"errors"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/talostrading/poll/pollerrors"
	"golang.org/x/sys/unix"
)

type EventFd struct {
	fd int
}

func NewEventFd() (*EventFd, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, os.NewSyscallError("eventfd", err)
	}
	return &EventFd{fd: fd}, nil
}

func (e *EventFd) Write(x uint64) (int, error) {
	/* #nosec G103 -- the use of unsafe has been audited */
	return unix.Write(e.fd, (*(*[8]byte)(unsafe.Pointer(&x)))[:])
}

func (e *EventFd) Read(b []byte) (int, error) {
	return unix.Read(e.fd, b)
}

func (e *EventFd) Fd() int {
	return e.fd
}

func (e *EventFd) Close() error {
	return unix.Close(e.fd)
}

// Waker signals a Selector through an eventfd registered for reads. The
// registration is edge triggered, so every write is a new edge and the
// counter is only drained when it would overflow.
type Waker struct {
	s      *Selector
	efd    *EventFd
	closed atomic.Bool
}

func NewWaker(s *Selector, token uint64) (*Waker, error) {
	efd, err := NewEventFd()
	if err != nil {
		return nil, err
	}

	if err := s.Register(efd.Fd(), token, InterestReadable); err != nil {
		_ = efd.Close()
		return nil, err
	}

	return &Waker{s: s, efd: efd}, nil
}

func (w *Waker) Wake() error {
	if w.closed.Load() {
		return pollerrors.ErrClosed
	}

	for {
		_, err := w.efd.Write(1)
		switch err {
		case nil:
			return nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			// The counter is at its maximum: reset it and try again.
			w.reset()
		default:
			return os.NewSyscallError("eventfd_write", err)
		}
	}
}

func (w *Waker) reset() {
	var b [8]byte
	_, _ = w.efd.Read(b[:])
}

// Close deregisters the eventfd, unless the Selector is already closed, and
// closes it.
func (w *Waker) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := w.s.Deregister(w.efd.Fd())
	if errors.Is(err, pollerrors.ErrClosed) {
		err = nil
	}
	if closeErr := w.efd.Close(); closeErr != nil && err == nil {
		err = os.NewSyscallError("close", closeErr)
	}
	return err
}
