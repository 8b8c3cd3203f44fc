package poll

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/talostrading/poll/internal"
	"github.com/talostrading/poll/pollerrors"
)

// Registry registers sources with a Poll. It is safe to use from any
// goroutine, including while another goroutine is blocked in Wait: changes
// apply to that Wait or to the next one.
type Registry struct {
	selector *internal.Selector
	log      *logrus.Entry

	// hasWaker is set while a Waker is open on this Registry.
	hasWaker atomic.Bool
}

// Register adds src under token for the directions in interest. It fails
// with pollerrors.ErrAlreadyRegistered if the underlying handle is known.
func (r *Registry) Register(src Source, token Token, interest Interest) error {
	if src == nil || interest == 0 {
		return pollerrors.ErrInvalidInput
	}
	return src.Register(r, token, interest)
}

// Reregister changes the token and interest of a registered src. Readiness
// already queued for it is kept.
func (r *Registry) Reregister(src Source, token Token, interest Interest) error {
	if src == nil || interest == 0 {
		return pollerrors.ErrInvalidInput
	}
	return src.Reregister(r, token, interest)
}

// Deregister removes src. Events produced before the call may still show up
// in a Wait running concurrently, but none after it returns.
//
// Deregistering a handle that was closed first is not an error on any
// platform; deregistering first is still the right order.
func (r *Registry) Deregister(src Source) error {
	if src == nil {
		return pollerrors.ErrInvalidInput
	}
	return src.Deregister(r)
}

func (r *Registry) registerHandle(h internal.Handle, token Token, interest Interest) error {
	r.log.WithFields(logrus.Fields{
		"token":    uint64(token),
		"interest": interest,
		"handle":   h,
	}).Trace("registering event source with poller")

	return r.selector.Register(h, uint64(token), internal.Interest(interest))
}

func (r *Registry) reregisterHandle(h internal.Handle, token Token, interest Interest) error {
	r.log.WithFields(logrus.Fields{
		"token":    uint64(token),
		"interest": interest,
		"handle":   h,
	}).Trace("reregistering event source with poller")

	return r.selector.Reregister(h, uint64(token), internal.Interest(interest))
}

func (r *Registry) deregisterHandle(h internal.Handle) error {
	r.log.WithField("handle", h).Trace("deregistering event source from poller")

	return r.selector.Deregister(h)
}
