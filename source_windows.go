//go:build windows

package poll

import "golang.org/x/sys/windows"

// SourceSocket registers a raw SOCKET. The socket must be in non-blocking
// mode and stays owned by the caller.
type SourceSocket windows.Handle

func (s SourceSocket) Register(r *Registry, token Token, interest Interest) error {
	return r.registerHandle(windows.Handle(s), token, interest)
}

func (s SourceSocket) Reregister(r *Registry, token Token, interest Interest) error {
	return r.reregisterHandle(windows.Handle(s), token, interest)
}

func (s SourceSocket) Deregister(r *Registry) error {
	return r.deregisterHandle(windows.Handle(s))
}
