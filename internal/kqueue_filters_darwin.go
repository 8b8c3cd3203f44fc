//go:build darwin

package internal

const (
	filterNone = 0

	filterAIO = -3 // EVFILT_AIO
	filterLIO = filterNone
)
