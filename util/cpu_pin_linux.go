//go:build linux

package util

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinThread locks the calling goroutine to its OS thread and binds that
// thread to cpu, so a Wait loop is not migrated mid measurement. The
// goroutine stays locked until it exits.
func PinThread(cpu int) error {
	runtime.LockOSThread()

	set := &unix.CPUSet{}
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, set); err != nil {
		return fmt.Errorf("could not pin to cpu %d: %w", cpu, err)
	}

	verify := &unix.CPUSet{}
	if err := unix.SchedGetaffinity(0, verify); err != nil {
		return err
	}
	if verify.Count() != 1 || !verify.IsSet(cpu) {
		return fmt.Errorf("could not pin to cpu %d", cpu)
	}
	return nil
}
