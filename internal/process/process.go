package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Process is the running backend instance. It exclusively owns the OS handle.
type Process struct {
	spec      Spec
	cmd       *exec.Cmd
	mu        sync.Mutex
	status    Status
	outCloser io.WriteCloser
	errCloser io.WriteCloser

	waitOnce sync.Once
	waitDone chan struct{} // closed once cmd.Wait has returned
	waitErr  error
}

// Spawn validates spec and starts the service. Precondition failures return
// ErrPortNotAllocated or ErrBinaryNotFound without creating a process; a
// rejected start returns ErrSpawnFailure.
func Spawn(spec Spec) (*Process, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	p := &Process{spec: spec, waitDone: make(chan struct{})}
	cmd := spec.BuildCommand()
	if err := p.configureOutput(cmd); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailure, err)
	}
	if err := cmd.Start(); err != nil {
		p.closeWriters()
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawnFailure, spec.Binary, err)
	}
	p.setStarted(cmd)
	return p, nil
}

func (p *Process) configureOutput(cmd *exec.Cmd) error {
	if !p.spec.Log.Enabled() {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return nil
	}
	outW, errW, err := p.spec.Log.Writers(p.spec.displayName())
	if err != nil {
		return err
	}
	p.outCloser, p.errCloser = outW, errW
	if outW != nil {
		cmd.Stdout = outW
	} else {
		cmd.Stdout = os.Stdout
	}
	if errW != nil {
		cmd.Stderr = errW
	} else {
		cmd.Stderr = os.Stderr
	}
	return nil
}

func (p *Process) setStarted(cmd *exec.Cmd) {
	p.mu.Lock()
	p.cmd = cmd
	p.status = Status{
		Name:      p.spec.displayName(),
		PID:       cmd.Process.Pid,
		Port:      p.spec.Port,
		Running:   true,
		StartedAt: time.Now(),
	}
	p.mu.Unlock()
}

// PID returns the OS process identifier.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.PID
}

// Port returns the port the service was told to listen on.
func (p *Process) Port() int { return p.spec.Port }

// Spec returns a copy of the spec the process was started with.
func (p *Process) Spec() Spec { return p.spec }

// Kill terminates the primary process. Killing a process that already exited is not an error.
func (p *Process) Kill() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Wait blocks until the process has exited and been reaped. It is safe to call
// from several goroutines; the first caller reaps and every caller receives the
// same exit error.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.mu.Lock()
		cmd := p.cmd
		p.mu.Unlock()
		err := cmd.Wait()
		p.markExited(err)
		p.closeWriters()
		p.waitErr = err
		close(p.waitDone)
	})
	<-p.waitDone
	return p.waitErr
}

// Done is closed once the process has been reaped by Wait.
func (p *Process) Done() <-chan struct{} { return p.waitDone }

// Exited reports whether the process has been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.waitDone:
		return true
	default:
		return false
	}
}

func (p *Process) markExited(err error) {
	p.mu.Lock()
	p.status.Running = false
	p.status.StoppedAt = time.Now()
	if err != nil {
		p.status.ExitErr = err.Error()
	}
	p.mu.Unlock()
}

func (p *Process) closeWriters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outCloser != nil {
		_ = p.outCloser.Close()
		p.outCloser = nil
	}
	if p.errCloser != nil {
		_ = p.errCloser.Close()
		p.errCloser = nil
	}
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
