package pollerrors

import "errors"

// Kernel failures are not listed here: they surface as *os.SyscallError
// values naming the failing call, so callers can use errors.Is with the
// underlying errno.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrAlreadyRegistered = errors.New("source already registered")
	ErrNotFound          = errors.New("source not registered")
	ErrClosed            = errors.New("poller closed")
	ErrConcurrentWait    = errors.New("wait already in progress")
)
