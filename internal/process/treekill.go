package process

import (
	"errors"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// TreeKiller terminates a process together with its known descendants.
// Implementations are best-effort: a process that is already gone is not an error.
type TreeKiller interface {
	KillTree(pid int) error
}

// GroupKiller signals only the process group led by pid. It is the safe
// choice once pid itself has been reaped and may belong to another process.
type GroupKiller interface {
	KillGroup(pid int) error
}

// TreeKillerFunc adapts a function to TreeKiller.
type TreeKillerFunc func(pid int) error

func (f TreeKillerFunc) KillTree(pid int) error { return f(pid) }

// NewTreeKiller returns the implementation for the current platform.
func NewTreeKiller() TreeKiller { return platformTreeKiller{} }

// descendants lists every live descendant of pid, deepest first.
func descendants(pid int) ([]*gopsproc.Process, error) {
	root, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		if errors.Is(err, gopsproc.ErrorProcessNotRunning) {
			return nil, nil
		}
		return nil, err
	}
	var out []*gopsproc.Process
	var walk func(p *gopsproc.Process) error
	walk = func(p *gopsproc.Process) error {
		children, err := p.Children()
		if err != nil {
			if errors.Is(err, gopsproc.ErrorNoChildren) || errors.Is(err, gopsproc.ErrorProcessNotRunning) {
				return nil
			}
			return err
		}
		for _, c := range children {
			if err := walk(c); err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	}
	return out, walk(root)
}

// killAll kills each process, ignoring ones that already exited.
func killAll(procs []*gopsproc.Process) error {
	var errs []error
	for _, p := range procs {
		if running, _ := p.IsRunning(); !running {
			continue
		}
		if err := p.Kill(); err != nil && !errors.Is(err, gopsproc.ErrorProcessNotRunning) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
