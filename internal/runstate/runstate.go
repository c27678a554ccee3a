// Package runstate records the running instance in small state files so other
// invocations (for example `deskvisor status`) can find it.
package runstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

const (
	pidName      = "pid"
	portName     = "port"
	shellPIDName = "shell.pid"

	fileMode = 0o644
	dirMode  = 0o755
)

// ErrNoState is returned by Read when no instance has recorded its state.
var ErrNoState = errors.New("runstate: no recorded instance")

// State identifies the running backend and the shell that owns it.
type State struct {
	ShellPID   int `json:"shell_pid"`
	ServicePID int `json:"service_pid"`
	Port       int `json:"port"`
}

// URL returns the loopback address of the recorded service.
func (s State) URL() string { return fmt.Sprintf("http://127.0.0.1:%d", s.Port) }

// Dir is a state directory.
type Dir string

// DefaultDir is the per-user cache directory for name, falling back to the temp dir.
func DefaultDir(name string) Dir {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return Dir(filepath.Join(base, name))
}

func (d Dir) path(name string) string { return filepath.Join(string(d), name) }

// Write atomically replaces the state files.
func (d Dir) Write(s State) error {
	if d == "" {
		return nil
	}
	if err := os.MkdirAll(string(d), dirMode); err != nil {
		return err
	}
	files := []struct {
		name string
		val  int
	}{
		{shellPIDName, s.ShellPID},
		{portName, s.Port},
		// pid last: its presence marks a complete record
		{pidName, s.ServicePID},
	}
	for _, f := range files {
		if err := writeFile(d.path(f.name), []byte(strconv.Itoa(f.val))); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	return nil
}

// Clear removes the state files. Missing files are not an error.
func (d Dir) Clear() error {
	if d == "" {
		return nil
	}
	var errs []error
	for _, name := range []string{pidName, portName, shellPIDName} {
		if err := os.Remove(d.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Read loads the recorded state.
func (d Dir) Read() (State, error) {
	var s State
	pid, err := d.readInt(pidName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, ErrNoState
		}
		return s, err
	}
	s.ServicePID = pid
	if s.Port, err = d.readInt(portName); err != nil {
		return s, err
	}
	// older records may not carry the shell pid
	s.ShellPID, _ = d.readInt(shellPIDName)
	return s, nil
}

// Alive reports whether the recorded service process still exists.
func (s State) Alive() bool {
	if s.ServicePID <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(s.ServicePID))
	return err == nil && ok
}

func (d Dir) readInt(name string) (int, error) {
	b, err := os.ReadFile(d.path(name))
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}
