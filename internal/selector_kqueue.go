//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package internal

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/talostrading/poll/pollerrors"
	"golang.org/x/sys/unix"
)

// Handle is a raw file descriptor.
type Handle = int

type registration struct {
	token    uint64
	interest Interest
}

// Selector is backed by one kqueue. Every interest bit is its own filter
// entry on the descriptor; all of them map back to the registration's token
// through table.
type Selector struct {
	kq int

	// mu guards table. It is held around table edits and the kevent changes
	// that go with them, never around the blocking kevent in Select.
	mu    sync.RWMutex
	table map[int]registration

	// raw receives the kernel records before translation. Only the goroutine
	// inside Select touches it.
	raw []unix.Kevent_t

	// wakerToken is the token reported for user triggered wake ups, on the
	// platforms that wake through EVFILT_USER.
	wakerToken atomic.Uint64

	closed atomic.Bool

	log *logrus.Entry
}

func NewSelector(log *logrus.Entry) (*Selector, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	unix.CloseOnExec(kq)

	return &Selector{
		kq:    kq,
		table: make(map[int]registration),
		log:   log,
	}, nil
}

// filters returns the kqueue filters for interest. Bits without a filter on
// this platform are dropped.
func filters(interest Interest) []int {
	fs := make([]int, 0, 2)
	if interest&InterestReadable != 0 {
		fs = append(fs, unix.EVFILT_READ)
	}
	if interest&InterestWritable != 0 {
		fs = append(fs, unix.EVFILT_WRITE)
	}
	if interest&InterestAIO != 0 && filterAIO != filterNone {
		fs = append(fs, filterAIO)
	}
	if interest&InterestLIO != 0 && filterLIO != filterNone {
		fs = append(fs, filterLIO)
	}
	return fs
}

// kevent is swapped out by tests to fail chosen changes.
var kevent = unix.Kevent

// change applies a single filter change. Changes are submitted one at a time
// so that the failure of one is never mistaken for the failure of another.
func (s *Selector) change(fd, filter, flags int) error {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, fd, filter, flags)
	for {
		_, err := kevent(s.kq, []unix.Kevent_t{ev}, nil, nil)
		if err != unix.EINTR {
			return err
		}
	}
}

// add arms the filters in fs. If one fails, the filters armed by this call
// are deleted again; filters not in fs are never touched.
func (s *Selector) add(fd int, fs []int) error {
	for i, filter := range fs {
		err := s.change(fd, filter, unix.EV_ADD|unix.EV_CLEAR)
		// EPIPE is what macOS reports when adding a write filter to a pipe
		// whose reader is gone. The filter still fires with EV_EOF.
		if err != nil && err != unix.EPIPE {
			for _, added := range fs[:i] {
				_ = s.change(fd, added, unix.EV_DELETE)
			}
			return os.NewSyscallError("kevent_add", err)
		}
	}
	return nil
}

// stale reports whether the registration recorded for fd no longer exists in
// the kernel, which happens when fd was closed without being deregistered
// and the descriptor number was reused.
func (s *Selector) stale(fd int, reg registration) bool {
	fs := filters(reg.interest)
	if len(fs) == 0 {
		return true
	}
	err := s.change(fd, fs[0], unix.EV_ENABLE)
	return err == unix.ENOENT || err == unix.EBADF
}

func (s *Selector) Register(fd Handle, token uint64, interest Interest) error {
	if s.closed.Load() {
		return pollerrors.ErrClosed
	}

	fs := filters(interest)
	if len(fs) == 0 {
		return pollerrors.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if reg, ok := s.table[fd]; ok {
		if !s.stale(fd, reg) {
			return pollerrors.ErrAlreadyRegistered
		}
		s.log.WithField("handle", fd).Debug("replacing registration of a reused descriptor")
		delete(s.table, fd)
	}

	if err := s.add(fd, fs); err != nil {
		return err
	}
	s.table[fd] = registration{token: token, interest: interest}
	return nil
}

// Reregister arms the filters the new interest adds, then removes the filters
// it no longer asks for. Filters present before and after are left alone, so
// their queued events survive, and a failed add leaves the registration as it
// was.
func (s *Selector) Reregister(fd Handle, token uint64, interest Interest) error {
	if s.closed.Load() {
		return pollerrors.ErrClosed
	}

	fs := filters(interest)
	if len(fs) == 0 {
		return pollerrors.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.table[fd]
	if !ok {
		return pollerrors.ErrNotFound
	}

	if err := s.add(fd, filters(interest&^reg.interest)); err != nil {
		return err
	}
	for _, filter := range filters(reg.interest &^ interest) {
		if err := s.change(fd, filter, unix.EV_DELETE); err != nil && err != unix.ENOENT {
			return os.NewSyscallError("kevent_delete", err)
		}
	}

	s.table[fd] = registration{token: token, interest: interest}
	return nil
}

// Deregister deletes every filter of fd. ENOENT and EBADF mean fd was
// closed underneath us, in which case the kernel already dropped the filters.
func (s *Selector) Deregister(fd Handle) error {
	if s.closed.Load() {
		return pollerrors.ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.table[fd]
	if !ok {
		return pollerrors.ErrNotFound
	}
	delete(s.table, fd)

	for _, filter := range filters(reg.interest) {
		err := s.change(fd, filter, unix.EV_DELETE)
		switch err {
		case nil:
		case unix.ENOENT, unix.EBADF:
			s.log.WithField("handle", fd).Debug("deregistering closed descriptor")
		default:
			return os.NewSyscallError("kevent_delete", err)
		}
	}
	return nil
}

func keventFlags(ev *unix.Kevent_t) EventFlags {
	var flags EventFlags

	switch filter := int(ev.Filter); {
	case filter == unix.EVFILT_READ:
		flags |= FlagReadable
		if ev.Flags&unix.EV_EOF != 0 {
			flags |= FlagReadClosed
		}
	case filter == unix.EVFILT_WRITE:
		flags |= FlagWritable
		if ev.Flags&unix.EV_EOF != 0 {
			flags |= FlagWriteClosed
		}
	case filterAIO != filterNone && filter == filterAIO:
		flags |= FlagAIO
	case filterLIO != filterNone && filter == filterLIO:
		flags |= FlagLIO
	}

	// With EV_EOF the kernel puts the socket error, if any, into fflags.
	if ev.Flags&unix.EV_ERROR != 0 || (ev.Flags&unix.EV_EOF != 0 && ev.Fflags != 0) {
		flags |= FlagError
	}
	return flags
}

// Select fills events with at most len(events) records and returns how many
// were written. Readiness of two filters of the same descriptor returned next
// to each other is merged into one event.
func (s *Selector) Select(events []Event, timeout time.Duration) (int, error) {
	if s.closed.Load() {
		return 0, pollerrors.ErrClosed
	}
	if len(events) == 0 {
		return 0, pollerrors.ErrInvalidInput
	}

	var ts *unix.Timespec
	if timeout >= 0 { // 0 does a poll
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}

	if cap(s.raw) < len(events) {
		s.raw = make([]unix.Kevent_t, len(events))
	}
	raw := s.raw[:len(events)]

	n, err := unix.Kevent(s.kq, nil, raw, ts)
	if err != nil {
		return 0, os.NewSyscallError("kevent", err)
	}

	out := 0
	lastFd := -1

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := 0; i < n; i++ {
		ev := &raw[i]

		if s.isWakeup(ev) {
			events[out] = Event{Token: s.wakerToken.Load(), Flags: FlagReadable}
			out++
			lastFd = -1
			continue
		}

		fd := int(ev.Ident)
		reg, ok := s.table[fd]
		if !ok {
			// Deregistered while the event was in flight.
			continue
		}

		flags := keventFlags(ev)
		if out > 0 && fd == lastFd {
			events[out-1].Flags |= flags
			continue
		}

		events[out] = Event{Token: reg.token, Flags: flags}
		out++
		lastFd = fd
	}
	return out, nil
}

func (s *Selector) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return os.NewSyscallError("close", unix.Close(s.kq))
}
