//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd

package poll

// SourceFd registers a raw file descriptor. The descriptor must be in
// non-blocking mode and stays owned by the caller, who should deregister it
// before closing it.
type SourceFd int

func (fd SourceFd) Register(r *Registry, token Token, interest Interest) error {
	return r.registerHandle(int(fd), token, interest)
}

func (fd SourceFd) Reregister(r *Registry, token Token, interest Interest) error {
	return r.reregisterHandle(int(fd), token, interest)
}

func (fd SourceFd) Deregister(r *Registry) error {
	return r.deregisterHandle(int(fd))
}
