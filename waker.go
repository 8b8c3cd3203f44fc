package poll

import (
	"sync/atomic"

	"github.com/talostrading/poll/internal"
	"github.com/talostrading/poll/pollerrors"
)

// Waker makes a blocked Wait return from another goroutine. The Wait reports
// a readable event carrying the Waker's token. Wakes issued before Wait gets
// to them may be merged into one event.
//
// Only one Waker can be open per Poll; closing it lets a new one be created.
// A Waker must not outlive its Poll: once the Poll is closed Wake returns
// pollerrors.ErrClosed where that can be detected and is undefined otherwise.
type Waker struct {
	r      *Registry
	w      *internal.Waker
	closed atomic.Bool
}

func NewWaker(r *Registry, token Token) (*Waker, error) {
	if r == nil {
		return nil, pollerrors.ErrInvalidInput
	}
	if !r.hasWaker.CompareAndSwap(false, true) {
		return nil, pollerrors.ErrAlreadyRegistered
	}

	w, err := internal.NewWaker(r.selector, uint64(token))
	if err != nil {
		r.hasWaker.Store(false)
		return nil, err
	}

	r.log.WithField("token", uint64(token)).Trace("created waker")
	return &Waker{r: r, w: w}, nil
}

// Wake is safe to call from any goroutine, any number of times. It returns
// pollerrors.ErrClosed once the Waker is closed.
func (w *Waker) Wake() error {
	if w.closed.Load() {
		return pollerrors.ErrClosed
	}
	return w.w.Wake()
}

// Close releases the Waker and frees its Poll for a new one. Closing twice is
// a no-op.
func (w *Waker) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := w.w.Close()
	w.r.hasWaker.Store(false)
	w.r.log.Trace("closed waker")
	return err
}
