package poll

import (
	"fmt"

	"github.com/talostrading/poll/internal"
)

// Event is the readiness of one registration as reported by one Wait.
//
// The predicates are hints, and more than one can hold at once: a socket
// reset by its peer is typically readable, writable, errored and closed in
// both directions in the same event. IsReadClosed and IsWriteClosed are not
// reported on every platform for every kind of source.
type Event struct {
	raw internal.Event
}

func (e Event) Token() Token {
	return Token(e.raw.Token)
}

func (e Event) is(f internal.EventFlags) bool {
	return e.raw.Flags&f != 0
}

func (e Event) IsReadable() bool    { return e.is(internal.FlagReadable) }
func (e Event) IsWritable() bool    { return e.is(internal.FlagWritable) }
func (e Event) IsError() bool       { return e.is(internal.FlagError) }
func (e Event) IsReadClosed() bool  { return e.is(internal.FlagReadClosed) }
func (e Event) IsWriteClosed() bool { return e.is(internal.FlagWriteClosed) }
func (e Event) IsPriority() bool    { return e.is(internal.FlagPriority) }
func (e Event) IsAIO() bool         { return e.is(internal.FlagAIO) }
func (e Event) IsLIO() bool         { return e.is(internal.FlagLIO) }

func (e Event) String() string {
	return fmt.Sprintf(
		"Event{token=%d readable=%t writable=%t error=%t read_closed=%t write_closed=%t priority=%t aio=%t lio=%t}",
		e.raw.Token,
		e.IsReadable(),
		e.IsWritable(),
		e.IsError(),
		e.IsReadClosed(),
		e.IsWriteClosed(),
		e.IsPriority(),
		e.IsAIO(),
		e.IsLIO(),
	)
}
