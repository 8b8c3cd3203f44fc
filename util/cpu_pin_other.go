//go:build !linux

package util

import "errors"

var ErrPinUnsupported = errors.New("thread pinning is only supported on linux")

func PinThread(cpu int) error {
	return ErrPinUnsupported
}
