package poll

import "strconv"

// Token identifies a registration in the events it produces. It is chosen by
// the caller and never interpreted: two sources sharing a token only make the
// caller's bookkeeping ambiguous.
type Token uint64

func (t Token) String() string {
	return "Token(" + strconv.FormatUint(uint64(t), 10) + ")"
}
