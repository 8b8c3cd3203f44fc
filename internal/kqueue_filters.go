//go:build dragonfly || netbsd || openbsd

package internal

const (
	filterNone = 0

	// Neither EVFILT_AIO nor EVFILT_LIO is usable here.
	filterAIO = filterNone
	filterLIO = filterNone
)
