//go:build windows

package internal

import (
	"os"

	"github.com/talostrading/poll/pollerrors"
	"golang.org/x/sys/windows"
)

// Waker posts a completion packet with wakerKey to the Selector's port.
// Wakes issued before the packet is dequeued collapse into one event.
type Waker struct {
	s *Selector
}

func NewWaker(s *Selector, token uint64) (*Waker, error) {
	if s.closed.Load() {
		return nil, pollerrors.ErrClosed
	}
	s.wakerToken.Store(token)
	return &Waker{s: s}, nil
}

func (w *Waker) Wake() error {
	if w.s.closed.Load() {
		return pollerrors.ErrClosed
	}
	if !w.s.wakePending.CompareAndSwap(false, true) {
		return nil
	}

	if err := windows.PostQueuedCompletionStatus(w.s.port, 0, wakerKey, nil); err != nil {
		w.s.wakePending.Store(false)
		return os.NewSyscallError("PostQueuedCompletionStatus", err)
	}
	return nil
}

// Close is a no-op: nothing is held besides the Selector's port.
func (w *Waker) Close() error {
	return nil
}
