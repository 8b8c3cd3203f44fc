//go:build dragonfly || netbsd || openbsd

package internal

import (
	"errors"
	"os"
	"sync/atomic"

	"github.com/talostrading/poll/pollerrors"
	"golang.org/x/sys/unix"
)

// Wake ups arrive through the pipe's read end, registered like any other
// descriptor, so no kevent record is special.
func (s *Selector) isWakeup(*unix.Kevent_t) bool {
	return false
}

// Waker writes a byte into a pipe whose read end is registered with the
// Selector. The read filter is EV_CLEAR, so every write is a new edge and
// the pipe is only drained when it fills up.
type Waker struct {
	s      *Selector
	pipe   *Pipe
	closed atomic.Bool
}

func NewWaker(s *Selector, token uint64) (*Waker, error) {
	p, err := NewPipe()
	if err != nil {
		return nil, err
	}

	if err := s.Register(p.ReadFd(), token, InterestReadable); err != nil {
		_ = p.Close()
		return nil, err
	}
	return &Waker{s: s, pipe: p}, nil
}

func (w *Waker) Wake() error {
	if w.closed.Load() {
		return pollerrors.ErrClosed
	}

	b := [1]byte{1}
	for {
		_, err := w.pipe.Write(b[:])
		switch err {
		case nil:
			return nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			w.drain()
		default:
			return os.NewSyscallError("pipe_write", err)
		}
	}
}

func (w *Waker) drain() {
	var b [512]byte
	for {
		n, err := w.pipe.Read(b[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close deregisters the read end, unless the Selector is already closed, and
// closes the pipe.
func (w *Waker) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := w.s.Deregister(w.pipe.ReadFd())
	if errors.Is(err, pollerrors.ErrClosed) {
		err = nil
	}
	if closeErr := w.pipe.Close(); closeErr != nil && err == nil {
		err = os.NewSyscallError("close", closeErr)
	}
	return err
}
