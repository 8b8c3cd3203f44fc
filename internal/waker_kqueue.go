//go:build darwin || freebsd

package internal

import (
	"os"

	"github.com/talostrading/poll/pollerrors"
	"golang.org/x/sys/unix"
)

// wakerIdent identifies the EVFILT_USER entry. User filter identifiers live
// in their own namespace, so this cannot collide with a descriptor.
const wakerIdent = 0

func (s *Selector) isWakeup(ev *unix.Kevent_t) bool {
	return ev.Filter == unix.EVFILT_USER && int(ev.Ident) == wakerIdent
}

// Waker triggers an EVFILT_USER entry on the Selector's kqueue. The entry is
// EV_CLEAR, so triggers issued before the next Select collapse into one
// event.
type Waker struct {
	s *Selector
}

func NewWaker(s *Selector, token uint64) (*Waker, error) {
	if s.closed.Load() {
		return nil, pollerrors.ErrClosed
	}

	s.wakerToken.Store(token)

	var ev unix.Kevent_t
	unix.SetKevent(&ev, wakerIdent, unix.EVFILT_USER, unix.EV_ADD|unix.EV_CLEAR)
	if _, err := unix.Kevent(s.kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		return nil, os.NewSyscallError("kevent_add", err)
	}
	return &Waker{s: s}, nil
}

func (w *Waker) Wake() error {
	if w.s.closed.Load() {
		return pollerrors.ErrClosed
	}

	var ev unix.Kevent_t
	unix.SetKevent(&ev, wakerIdent, unix.EVFILT_USER, 0)
	ev.Fflags = unix.NOTE_TRIGGER

	for {
		_, err := unix.Kevent(w.s.kq, []unix.Kevent_t{ev}, nil, nil)
		if err != unix.EINTR {
			return os.NewSyscallError("kevent_trigger", err)
		}
	}
}

// Close is a no-op: the filter lives as long as the kqueue.
func (w *Waker) Close() error {
	return nil
}
