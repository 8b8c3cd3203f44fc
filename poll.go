package poll

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/talostrading/poll/internal"
	"github.com/talostrading/poll/pollerrors"
	"github.com/talostrading/poll/pollopts"
)

// Forever makes Wait block until an event arrives. Any negative timeout
// does the same.
const Forever time.Duration = -1

// Poll waits for readiness on the sources registered with its Registry.
//
// Only one goroutine may Wait at a time. Registering, deregistering and
// waking are safe from any goroutine.
type Poll struct {
	registry *Registry

	detect  bool
	waiting atomic.Bool
	closed  atomic.Bool
}

func New(opts ...pollopts.Option) (*Poll, error) {
	entry := logrus.NewEntry(log)
	detect := true

	for _, opt := range opts {
		switch opt.Type() {
		case pollopts.TypeLogger:
			if v := opt.Value().(*logrus.Entry); v != nil {
				entry = v
			}
		case pollopts.TypeDetectConcurrentWait:
			detect = opt.Value().(bool)
		default:
			return nil, fmt.Errorf("%w: unknown option %s", pollerrors.ErrInvalidInput, opt.Type())
		}
	}

	selector, err := internal.NewSelector(entry)
	if err != nil {
		return nil, err
	}

	return &Poll{
		registry: &Registry{
			selector: selector,
			log:      entry,
		},
		detect: detect,
	}, nil
}

func MustPoll(opts ...pollopts.Option) *Poll {
	p, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Poll) Registry() *Registry {
	return p.registry
}

// Wait blocks until at least one registered source is ready, a Waker fires,
// or timeout expires, then fills events with what happened. The previous
// contents of events are discarded first, also when Wait fails. On timeout
// events is left empty and the error is nil.
//
// A negative timeout, such as Forever, blocks indefinitely. A zero timeout
// checks once without blocking. Positive timeouts are rounded up to the
// granularity of the platform and clamped to what it can represent.
// Interrupted waits are resumed with what is left of the timeout.
func (p *Poll) Wait(events *Events, timeout time.Duration) error {
	if events == nil || events.Capacity() == 0 {
		return pollerrors.ErrInvalidInput
	}
	events.Clear()

	if p.closed.Load() {
		return pollerrors.ErrClosed
	}

	if p.detect {
		if !p.waiting.CompareAndSwap(false, true) {
			return pollerrors.ErrConcurrentWait
		}
		defer p.waiting.Store(false)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		n, err := p.registry.selector.Select(events.buf, timeout)
		if err == nil {
			events.n = n
			return nil
		}
		if !errors.Is(err, syscall.EINTR) {
			return err
		}

		if timeout > 0 {
			timeout = time.Until(deadline)
			if timeout <= 0 {
				return nil
			}
		}
	}
}

// Close releases the selector. Registered sources are not closed. A second
// Close returns io.EOF.
func (p *Poll) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return io.EOF
	}
	if err := p.registry.selector.Close(); err != nil {
		p.registry.log.WithError(err).Warn("closing selector")
		return err
	}
	return nil
}
