// Package supervisor owns the single backend service of an application
// lifetime: it allocates the port, spawns the process and is the only code
// path that stops it.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/deskvisor/internal/history"
	"github.com/loykin/deskvisor/internal/logger"
	"github.com/loykin/deskvisor/internal/metrics"
	"github.com/loykin/deskvisor/internal/portalloc"
	"github.com/loykin/deskvisor/internal/process"
	"github.com/loykin/deskvisor/internal/runstate"
)

// DefaultGraceDelay separates the group kill from the primary kill.
const DefaultGraceDelay = 100 * time.Millisecond

// ErrAlreadyStarted is returned by Start after a service has been spawned once.
var ErrAlreadyStarted = errors.New("service already started in this lifetime")

// Trigger names what asked for the stop.
type Trigger string

const (
	TriggerWindowClose Trigger = "window_close"
	TriggerSignal      Trigger = "signal"
	TriggerTeardown    Trigger = "teardown"
	TriggerAPI         Trigger = "api"
)

// StopResult reports whether a Stop call did any work.
type StopResult int

const (
	NoOp StopResult = iota
	Stopped
)

func (r StopResult) String() string {
	if r == Stopped {
		return "stopped"
	}
	return "noop"
}

// Config describes the service to supervise.
type Config struct {
	Name       string
	Binary     string
	Args       []string
	Range      portalloc.Range
	Verbose    bool
	WorkDir    string
	Env        []string
	Log        logger.FileConfig
	GraceDelay time.Duration
}

// Supervisor guards the service slot. The zero value is not usable; use New.
type Supervisor struct {
	cfg Config

	mu       sync.Mutex
	proc     *process.Process // the slot; nil when empty
	port     int
	started  bool
	stopping chan struct{} // closed when the in-flight stop has reaped the process

	killer  process.TreeKiller
	logger  *slog.Logger
	hist    *history.Recorder
	state   runstate.Dir
	onExit  func(process.Status)
	sleepFn func(time.Duration)
}

func New(cfg Config) *Supervisor {
	if cfg.Range == (portalloc.Range{}) {
		cfg.Range = portalloc.DefaultRange
	}
	if cfg.GraceDelay < 0 {
		cfg.GraceDelay = 0
	}
	if cfg.Name == "" {
		cfg.Name = "backend"
	}
	return &Supervisor{
		cfg:     cfg,
		killer:  process.NewTreeKiller(),
		logger:  slog.Default(),
		sleepFn: time.Sleep,
	}
}

// SetTreeKiller replaces the platform tree killer.
func (s *Supervisor) SetTreeKiller(k process.TreeKiller) {
	s.mu.Lock()
	if k != nil {
		s.killer = k
	}
	s.mu.Unlock()
}

func (s *Supervisor) SetLogger(l *slog.Logger) {
	s.mu.Lock()
	if l != nil {
		s.logger = l
	}
	s.mu.Unlock()
}

// SetHistory configures where lifecycle events are recorded.
func (s *Supervisor) SetHistory(r *history.Recorder) {
	s.mu.Lock()
	s.hist = r
	s.mu.Unlock()
}

// SetStateDir enables pid/port state files in d.
func (s *Supervisor) SetStateDir(d runstate.Dir) {
	s.mu.Lock()
	s.state = d
	s.mu.Unlock()
}

// OnUnexpectedExit registers fn to run when the service dies before any Stop.
// The service is not restarted.
func (s *Supervisor) OnUnexpectedExit(fn func(process.Status)) {
	s.mu.Lock()
	s.onExit = fn
	s.mu.Unlock()
}

// Start allocates a port and spawns the service. It is allowed to succeed once.
// Errors wrap portalloc.ErrAllPortsExhausted, process.ErrBinaryNotFound or
// process.ErrSpawnFailure.
func (s *Supervisor) Start() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return 0, ErrAlreadyStarted
	}

	port, err := portalloc.FindAvailable(s.cfg.Range)
	if err != nil {
		metrics.IncSpawn("port_exhausted")
		return 0, err
	}
	spec := process.Spec{
		Name:    s.cfg.Name,
		Binary:  s.cfg.Binary,
		Args:    s.cfg.Args,
		Port:    port,
		Verbose: s.cfg.Verbose,
		WorkDir: s.cfg.WorkDir,
		Env:     s.cfg.Env,
		Log:     s.cfg.Log,
	}
	p, err := process.Spawn(spec)
	if err != nil {
		metrics.IncSpawn(spawnResult(err))
		return 0, err
	}

	s.proc, s.port, s.started = p, port, true
	metrics.IncSpawn("ok")
	s.logger.Info("service spawned", "name", s.cfg.Name, "pid", p.PID(), "port", port, "binary", s.cfg.Binary)
	s.hist.Record(history.Event{Type: history.EventSpawn, Name: s.cfg.Name, PID: p.PID(), Port: port})
	if err := s.state.Write(runstate.State{ShellPID: os.Getpid(), ServicePID: p.PID(), Port: port}); err != nil {
		s.logger.Warn("write run state", "dir", string(s.state), "error", err)
	}
	go s.watch(p)
	return port, nil
}

func spawnResult(err error) string {
	switch {
	case errors.Is(err, process.ErrBinaryNotFound):
		return "binary_missing"
	case errors.Is(err, process.ErrPortNotAllocated):
		return "port_not_allocated"
	default:
		return "spawn_failed"
	}
}

// watch reaps the process if it dies on its own and reports it.
func (s *Supervisor) watch(p *process.Process) {
	err := p.Wait()
	s.mu.Lock()
	current := s.proc == p
	onExit := s.onExit
	s.mu.Unlock()
	if !current {
		return
	}
	s.logger.Warn("service exited unexpectedly", "pid", p.PID(), "error", err)
	if onExit != nil {
		onExit(p.Snapshot())
	}
}

// Stop terminates the service and its descendants exactly once. Callers that
// find the slot empty get NoOp; if another stop is still in flight they wait
// for it to reap first. Kill and wait failures are logged, never returned.
func (s *Supervisor) Stop(trigger Trigger) StopResult {
	s.mu.Lock()
	p := s.proc
	if p == nil {
		done := s.stopping
		s.mu.Unlock()
		if done != nil {
			<-done
		}
		metrics.IncStop(string(trigger), NoOp.String())
		s.logger.Debug("stop is a no-op", "trigger", trigger)
		return NoOp
	}
	s.proc = nil
	done := make(chan struct{})
	s.stopping = done
	killer, log, grace := s.killer, s.logger, s.cfg.GraceDelay
	s.mu.Unlock()
	defer close(done)

	pid := p.PID()
	log.Info("stopping service", "pid", pid, "port", p.Port(), "trigger", trigger)

	if err := killTree(killer, p); err != nil {
		metrics.IncStopWarning("kill_tree")
		log.Warn("kill process tree", "pid", pid, "error", err)
	}
	if grace > 0 {
		s.sleepFn(grace)
	}
	if err := p.Kill(); err != nil {
		metrics.IncStopWarning("kill")
		log.Warn("kill service", "pid", pid, "error", err)
	}
	if err := p.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.Debug("service reaped", "pid", pid, "exit", err)
		} else {
			metrics.IncStopWarning("wait")
			log.Warn("wait for service", "pid", pid, "error", err)
		}
	}

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if err := state.Clear(); err != nil {
		log.Warn("clear run state", "error", err)
	}
	s.hist.Record(history.Event{Type: history.EventStop, Name: s.cfg.Name, PID: pid, Port: p.Port(), Detail: string(trigger)})
	metrics.IncStop(string(trigger), Stopped.String())
	log.Info("service stopped", "pid", pid, "trigger", trigger)
	return Stopped
}

// killTree kills the service's descendants. Once the service has been reaped
// its pid may already name an unrelated process, so only the group is signalled.
func killTree(k process.TreeKiller, p *process.Process) error {
	if !p.Exited() {
		return k.KillTree(p.PID())
	}
	if gk, ok := k.(process.GroupKiller); ok {
		return gk.KillGroup(p.PID())
	}
	return nil
}

// Port returns the allocated port, or 0 before Start.
func (s *Supervisor) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// URL returns the service address, or "" before Start.
func (s *Supervisor) URL() string {
	if p := s.Port(); p > 0 {
		return portalloc.URL(p)
	}
	return ""
}

// Running reports whether the slot holds a live process.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	return p != nil && !p.Exited()
}

// PID returns the service process id, or 0 when the slot is empty.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.PID()
}

// Snapshot returns the status of the process in the slot.
func (s *Supervisor) Snapshot() (process.Status, bool) {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	if p == nil {
		return process.Status{}, false
	}
	return p.Snapshot(), true
}

// Name returns the configured service name.
func (s *Supervisor) Name() string { return s.cfg.Name }

func (s *Supervisor) String() string {
	return fmt.Sprintf("supervisor(%s, port=%d)", s.cfg.Name, s.Port())
}
