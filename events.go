package poll

import (
	"iter"

	"github.com/talostrading/poll/internal"
)

// Events is the fixed capacity buffer Wait writes into. It is never grown:
// readiness beyond its capacity stays with the kernel for the next Wait.
type Events struct {
	buf []internal.Event
	n   int
}

// NewEvents returns a buffer holding at most capacity events. A zero
// capacity buffer is rejected by Wait.
func NewEvents(capacity int) *Events {
	if capacity < 0 {
		capacity = 0
	}
	return &Events{buf: make([]internal.Event, capacity)}
}

func (e *Events) Capacity() int {
	return len(e.buf)
}

func (e *Events) Len() int {
	return e.n
}

func (e *Events) IsEmpty() bool {
	return e.n == 0
}

// At returns the i-th event of the last Wait. It panics if i is out of
// [0, Len()).
func (e *Events) At(i int) Event {
	if i < 0 || i >= e.n {
		panic("poll: event index out of range")
	}
	return Event{raw: e.buf[i]}
}

// All yields the events of the last Wait in the order the kernel reported
// them.
func (e *Events) All() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for i := 0; i < e.n; i++ {
			if !yield(Event{raw: e.buf[i]}) {
				return
			}
		}
	}
}

func (e *Events) Clear() {
	e.n = 0
}
