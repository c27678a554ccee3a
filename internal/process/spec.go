package process

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/loykin/deskvisor/internal/logger"
)

// Spec describes the backend service to launch.
type Spec struct {
	Name    string            // used for log file names and log attributes
	Binary  string            // absolute path to the service executable
	Args    []string          // extra arguments placed before --port
	Port    int               // allocated port, injected as --port <PORT>
	Verbose bool              // append --verbose
	WorkDir string            // optional working dir
	Env     []string          // full child environment; nil inherits the shell's
	Log     logger.FileConfig // stdout/stderr capture; inherits the shell's streams when empty
}

// Validate checks the spawn preconditions without touching the OS process table.
func (s *Spec) Validate() error {
	if s.Port <= 0 {
		return ErrPortNotAllocated
	}
	if s.Binary == "" {
		return fmt.Errorf("%w: empty path", ErrBinaryNotFound)
	}
	fi, err := os.Stat(s.Binary)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBinaryNotFound, s.Binary)
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrBinaryNotFound, s.Binary)
	}
	return nil
}

// CommandArgs returns the argument vector passed to the binary.
func (s *Spec) CommandArgs() []string {
	args := make([]string, 0, len(s.Args)+3)
	args = append(args, s.Args...)
	args = append(args, "--port", strconv.Itoa(s.Port))
	if s.Verbose {
		args = append(args, "--verbose")
	}
	return args
}

// BuildCommand constructs the *exec.Cmd for the spec with process-group attributes applied.
func (s *Spec) BuildCommand() *exec.Cmd {
	// #nosec G204 -- binary comes from the application bundle
	cmd := exec.Command(s.Binary, s.CommandArgs()...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if s.Env != nil {
		cmd.Env = s.Env
	}
	configureSysProcAttr(cmd)
	return cmd
}

func (s *Spec) displayName() string {
	if s.Name != "" {
		return s.Name
	}
	return "backend"
}
