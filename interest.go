package poll

import (
	"strings"

	"github.com/talostrading/poll/internal"
)

// Interest is the non-empty set of readiness directions a source is
// registered for.
type Interest uint8

const (
	Readable = Interest(internal.InterestReadable)
	Writable = Interest(internal.InterestWritable)

	// Priority asks for out of band data. Only epoll and the completion port
	// selector honour it.
	Priority = Interest(internal.InterestPriority)

	// AIO and LIO are the kqueue filters of the same name, on the platforms
	// that have them.
	AIO = Interest(internal.InterestAIO)
	LIO = Interest(internal.InterestLIO)
)

// Add returns the union of i and other.
func (i Interest) Add(other Interest) Interest {
	return i | other
}

// Remove returns i without other. The second value is false, and i is
// returned unchanged, when nothing would be left.
func (i Interest) Remove(other Interest) (Interest, bool) {
	if r := i &^ other; r != 0 {
		return r, true
	}
	return i, false
}

func (i Interest) IsReadable() bool { return i&Readable != 0 }
func (i Interest) IsWritable() bool { return i&Writable != 0 }
func (i Interest) IsPriority() bool { return i&Priority != 0 }
func (i Interest) IsAIO() bool      { return i&AIO != 0 }
func (i Interest) IsLIO() bool      { return i&LIO != 0 }

func (i Interest) String() string {
	var parts []string
	if i.IsReadable() {
		parts = append(parts, "READABLE")
	}
	if i.IsWritable() {
		parts = append(parts, "WRITABLE")
	}
	if i.IsPriority() {
		parts = append(parts, "PRIORITY")
	}
	if i.IsAIO() {
		parts = append(parts, "AIO")
	}
	if i.IsLIO() {
		parts = append(parts, "LIO")
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, " | ")
}
