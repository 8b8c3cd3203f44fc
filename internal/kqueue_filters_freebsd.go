//go:build freebsd

package internal

const (
	filterNone = 0

	filterAIO = -3  // EVFILT_AIO
	filterLIO = -10 // EVFILT_LIO
)
