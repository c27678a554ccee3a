//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// platformTreeKiller signals the child's process group, then sweeps any
// descendant that moved to another group or session before the signal.
type platformTreeKiller struct{}

func (platformTreeKiller) KillTree(pid int) error {
	if pid <= 0 {
		return nil
	}
	// Snapshot first: once the group dies, orphans are reparented and lose the link to pid.
	escaped, walkErr := descendants(pid)
	var errs []error
	if err := (platformTreeKiller{}).KillGroup(pid); err != nil {
		errs = append(errs, err)
	}
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	if err := killAll(escaped); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// KillGroup signals the group only. A group id is not reused while members remain.
func (platformTreeKiller) KillGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// processExists reports whether pid refers to a live process.
func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
