//go:build linux

package internal

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/talostrading/poll/pollerrors"
	"golang.org/x/sys/unix"
)

// Handle is a raw file descriptor.
type Handle = int

// Selector is backed by one epoll instance. Registrations are edge
// triggered; the kernel already serializes epoll_ctl against epoll_wait so
// no user space table is kept.
type Selector struct {
	// fd is the file descriptor returned by epoll_create1.
	fd int

	// raw receives the kernel records before translation. Only the goroutine
	// inside Select touches it.
	raw []unix.EpollEvent

	closed atomic.Bool

	log *logrus.Entry
}

func NewSelector(log *logrus.Entry) (*Selector, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &Selector{
		fd:  fd,
		log: log,
	}, nil
}

func createEvent(flags uint32, token uint64) unix.EpollEvent {
	// The data union of epoll_event is opaque to the kernel: Fd and Pad are
	// its two halves.
	return unix.EpollEvent{
		Events: flags,
		Fd:     int32(uint32(token)),
		Pad:    int32(uint32(token >> 32)),
	}
}

func eventToken(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}

// interestToEpoll maps interest onto epoll flags. EPOLLERR and EPOLLHUP are
// always reported by the kernel, whatever is asked for. AIO and LIO have no
// epoll counterpart and are dropped.
func interestToEpoll(interest Interest) uint32 {
	var flags uint32
	if interest&InterestReadable != 0 {
		flags |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&InterestWritable != 0 {
		flags |= unix.EPOLLOUT
	}
	if interest&InterestPriority != 0 {
		flags |= unix.EPOLLPRI
	}
	if flags == 0 {
		return 0
	}
	return flags | unix.EPOLLET
}

// epollToFlags translates what the kernel reported:
//   - EPOLLIN or EPOLLPRI: readable
//   - EPOLLOUT: writable
//   - EPOLLERR: error
//   - EPOLLHUP, or EPOLLIN together with EPOLLRDHUP: read closed
//   - EPOLLHUP, or EPOLLOUT together with EPOLLERR, or a lone EPOLLERR:
//     write closed
func epollToFlags(events uint32) EventFlags {
	var flags EventFlags
	if events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		flags |= FlagReadable
	}
	if events&unix.EPOLLOUT != 0 {
		flags |= FlagWritable
	}
	if events&unix.EPOLLERR != 0 {
		flags |= FlagError
	}
	if events&unix.EPOLLHUP != 0 ||
		(events&unix.EPOLLIN != 0 && events&unix.EPOLLRDHUP != 0) {
		flags |= FlagReadClosed
	}
	if events&unix.EPOLLHUP != 0 ||
		(events&unix.EPOLLOUT != 0 && events&unix.EPOLLERR != 0) ||
		events == unix.EPOLLERR {
		flags |= FlagWriteClosed
	}
	if events&unix.EPOLLPRI != 0 {
		flags |= FlagPriority
	}
	return flags
}

func (s *Selector) Register(fd Handle, token uint64, interest Interest) error {
	if s.closed.Load() {
		return pollerrors.ErrClosed
	}

	flags := interestToEpoll(interest)
	if flags == 0 {
		return pollerrors.ErrInvalidInput
	}

	ev := createEvent(flags, token)
	if err := unix.EpollCtl(s.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		if err == unix.EEXIST {
			return pollerrors.ErrAlreadyRegistered
		}
		return os.NewSyscallError("epoll_ctl_add", err)
	}
	return nil
}

func (s *Selector) Reregister(fd Handle, token uint64, interest Interest) error {
	if s.closed.Load() {
		return pollerrors.ErrClosed
	}

	flags := interestToEpoll(interest)
	if flags == 0 {
		return pollerrors.ErrInvalidInput
	}

	ev := createEvent(flags, token)
	if err := unix.EpollCtl(s.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		if err == unix.ENOENT {
			return pollerrors.ErrNotFound
		}
		return os.NewSyscallError("epoll_ctl_mod", err)
	}
	return nil
}

// Deregister removes fd from the epoll set. A descriptor closed before being
// deregistered was already dropped by the kernel; the EBADF it produces is
// reported as success.
func (s *Selector) Deregister(fd Handle) error {
	if s.closed.Load() {
		return pollerrors.ErrClosed
	}

	if err := unix.EpollCtl(s.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		switch err {
		case unix.ENOENT:
			return pollerrors.ErrNotFound
		case unix.EBADF:
			s.log.WithField("handle", fd).Debug("deregistering closed descriptor")
			return nil
		}
		return os.NewSyscallError("epoll_ctl_del", err)
	}
	return nil
}

// Select fills events with at most len(events) records and returns how many
// were written. EINTR is returned wrapped; retrying is up to the caller.
func (s *Selector) Select(events []Event, timeout time.Duration) (int, error) {
	if s.closed.Load() {
		return 0, pollerrors.ErrClosed
	}
	if len(events) == 0 {
		return 0, pollerrors.ErrInvalidInput
	}

	if cap(s.raw) < len(events) {
		s.raw = make([]unix.EpollEvent, len(events))
	}
	raw := s.raw[:len(events)]

	n, err := unix.EpollWait(s.fd, raw, TimeoutMillis(timeout))
	if err != nil {
		return 0, os.NewSyscallError("epoll_wait", err)
	}

	for i := 0; i < n; i++ {
		events[i] = Event{
			Token: eventToken(&raw[i]),
			Flags: epollToFlags(raw[i].Events),
		}
	}
	return n, nil
}

func (s *Selector) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return os.NewSyscallError("close", unix.Close(s.fd))
}
