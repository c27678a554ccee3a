//go:build windows

package process

import (
	"errors"
	"syscall"
)

const processQueryInformation = 0x0400

// platformTreeKiller walks the descendant tree; Windows has no process-group kill.
// The primary process is left to Process.Kill.
type platformTreeKiller struct{}

func (platformTreeKiller) KillTree(pid int) error {
	if pid <= 0 {
		return nil
	}
	procs, err := descendants(pid)
	return errors.Join(err, killAll(procs))
}

// KillGroup is a no-op: without the primary process there is no safe handle
// on its descendants.
func (platformTreeKiller) KillGroup(int) error { return nil }

// processExists reports whether pid refers to a live process.
func processExists(pid int) bool {
	h, err := syscall.OpenProcess(processQueryInformation, false, uint32(pid))
	if err != nil {
		return false
	}
	_ = syscall.CloseHandle(h)
	return true
}
