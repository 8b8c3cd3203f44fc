package poll

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/talostrading/poll/internal"
)

func TestEventsBuffer(t *testing.T) {
	assert := assert.New(t)

	events := NewEvents(4)
	assert.Equal(4, events.Capacity())
	assert.Equal(0, events.Len())
	assert.True(events.IsEmpty())

	events.buf[0] = internal.Event{Token: 1, Flags: internal.FlagReadable}
	events.buf[1] = internal.Event{Token: 2, Flags: internal.FlagWritable | internal.FlagError}
	events.n = 2

	assert.False(events.IsEmpty())
	assert.Equal(Token(1), events.At(0).Token())
	assert.True(events.At(1).IsError())

	var tokens []Token
	for ev := range events.All() {
		tokens = append(tokens, ev.Token())
	}
	assert.Equal([]Token{1, 2}, tokens)

	// Breaking out early stops the iteration.
	count := 0
	for range events.All() {
		count++
		break
	}
	assert.Equal(1, count)

	assert.Panics(func() { events.At(2) })

	events.Clear()
	assert.True(events.IsEmpty())
	assert.Equal(4, events.Capacity())
	assert.Panics(func() { events.At(0) })
}

func TestNewEventsNegativeCapacity(t *testing.T) {
	assert.Equal(t, 0, NewEvents(-1).Capacity())
}

func TestEventPredicates(t *testing.T) {
	assert := assert.New(t)

	ev := Event{raw: internal.Event{
		Token: 5,
		Flags: internal.FlagReadable | internal.FlagReadClosed | internal.FlagWriteClosed,
	}}

	assert.Equal(Token(5), ev.Token())
	assert.True(ev.IsReadable())
	assert.False(ev.IsWritable())
	assert.False(ev.IsError())
	assert.True(ev.IsReadClosed())
	assert.True(ev.IsWriteClosed())
	assert.False(ev.IsPriority())
	assert.False(ev.IsAIO())
	assert.False(ev.IsLIO())

	assert.Equal(
		"Event{token=5 readable=true writable=false error=false read_closed=true write_closed=true priority=false aio=false lio=false}",
		ev.String())
}
