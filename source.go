package poll

// Source is anything that can be registered with a Registry. Types wrapping a
// socket or a descriptor implement it by delegating to the Source they wrap,
// usually a SourceFd on unix or a SourceSocket on windows.
//
//	type Conn struct{ fd int }
//
//	func (c *Conn) Register(r *poll.Registry, t poll.Token, i poll.Interest) error {
//		return poll.SourceFd(c.fd).Register(r, t, i)
//	}
//
// Callers go through the Registry rather than calling these directly.
type Source interface {
	Register(r *Registry, token Token, interest Interest) error
	Reregister(r *Registry, token Token, interest Interest) error
	Deregister(r *Registry) error
}
