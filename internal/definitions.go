package internal

import (
	"math"
	"time"
)

// Interest is the set of readiness directions a registration asks for. The
// bit values are shared with the public poll.Interest.
type Interest uint8

const (
	InterestReadable Interest = 1 << iota
	InterestWritable
	InterestPriority
	InterestAIO
	InterestLIO
)

// EventFlags is the readiness reported for one registration by one Select.
type EventFlags uint16

const (
	FlagReadable EventFlags = 1 << iota
	FlagWritable
	FlagError
	FlagReadClosed
	FlagWriteClosed
	FlagPriority
	FlagAIO
	FlagLIO
)

// Event is the platform independent form every selector translates its
// native records into.
type Event struct {
	Token uint64
	Flags EventFlags
}

// selector is what every platform backend provides. Exactly one
// implementation is compiled into a given build.
type selector interface {
	Register(h Handle, token uint64, interest Interest) error
	Reregister(h Handle, token uint64, interest Interest) error
	Deregister(h Handle) error
	Select(events []Event, timeout time.Duration) (int, error)
	Close() error
}

var _ selector = (*Selector)(nil)

// TimeoutMillis converts a Select timeout into the millisecond form taken by
// epoll_wait and GetQueuedCompletionStatus. Negative means forever (-1).
// Positive values are rounded up so that a sub-millisecond timeout does not
// degrade into a busy poll, and clamped to what an int32 holds.
func TimeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout == 0 {
		return 0
	}

	ms := timeout / time.Millisecond
	if timeout%time.Millisecond != 0 {
		ms++
	}
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
