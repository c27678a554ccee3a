// Package lifecycle connects window events, OS signals and readiness to the
// service supervisor.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"vawter.tech/stopper"

	"github.com/loykin/deskvisor/internal/history"
	"github.com/loykin/deskvisor/internal/metrics"
	"github.com/loykin/deskvisor/internal/portalloc"
	"github.com/loykin/deskvisor/internal/process"
	"github.com/loykin/deskvisor/internal/readiness"
	"github.com/loykin/deskvisor/internal/supervisor"
)

// DefaultDevURL is where development mode expects the backend.
const DefaultDevURL = "http://127.0.0.1:5000"

// ErrInvalidTransition is returned when Start is called outside NotStarted.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Service is the part of the supervisor the lifecycle drives.
type Service interface {
	Start() (int, error)
	Stop(trigger supervisor.Trigger) supervisor.StopResult
	PID() int
}

// Prober runs a readiness check in the background and reports once.
type Prober interface {
	Start(url string, fn func(readiness.Outcome)) <-chan struct{}
}

type Config struct {
	Mode   Mode
	DevURL string
	// Signals that trigger a stop; defaults to SIGINT and SIGTERM.
	Signals []os.Signal
}

// Snapshot is a point-in-time view of the lifecycle.
type Snapshot struct {
	Mode      Mode      `json:"mode"`
	State     string    `json:"state"`
	URL       string    `json:"url,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Ready     bool      `json:"ready"`
	Navigated bool      `json:"navigated"`
	Since     time.Time `json:"since"`
}

// Glue owns the state machine.
type Glue struct {
	cfg    Config
	svc    Service
	win    Window
	probe  Prober
	logger *slog.Logger
	hist   *history.Recorder

	mu        sync.Mutex
	state     State
	since     time.Time
	url       string
	ready     bool
	navigated bool
	probeDone <-chan struct{}
	stopped   chan struct{} // closed by the caller that moves Stopping to Stopped

	armCtx      context.Context
	sigCtx      context.Context
	stopSignals context.CancelFunc
}

// New wires a Glue. svc may be nil in development mode.
func New(cfg Config, svc Service, win Window, probe Prober, logger *slog.Logger) *Glue {
	if cfg.Mode == "" {
		cfg.Mode = ModeProduction
	}
	if cfg.DevURL == "" {
		cfg.DevURL = DefaultDevURL
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Glue{cfg: cfg, svc: svc, win: win, probe: probe, logger: logger, since: time.Now(), stopped: make(chan struct{})}
	metrics.SetCurrentState(NotStarted.String(), true)
	return g
}

// SetHistory records ready/timeout events to r.
func (g *Glue) SetHistory(r *history.Recorder) { g.hist = r }

// State returns the current state.
func (g *Glue) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Glue) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Snapshot{
		Mode:      g.cfg.Mode,
		State:     g.state.String(),
		URL:       g.url,
		Ready:     g.ready,
		Navigated: g.navigated,
		Since:     g.since,
	}
	if g.svc != nil {
		s.PID = g.svc.PID()
	}
	return s
}

// transition must be called with g.mu held.
func (g *Glue) transition(to State) {
	from := g.state
	if from == to {
		return
	}
	g.state = to
	g.since = time.Now()
	metrics.RecordStateTransition(from.String(), to.String())
	metrics.SetCurrentState(from.String(), false)
	metrics.SetCurrentState(to.String(), true)
	g.logger.Debug("lifecycle transition", "from", from.String(), "to", to.String())
}

// Start spawns the service in production mode and starts the readiness probe.
// Startup failures move the machine to a terminal state and are returned.
func (g *Glue) Start() error {
	if g.cfg.Mode == ModeDevelopment {
		g.logger.Info("development mode, backend expected to be running", "url", g.cfg.DevURL)
		g.mu.Lock()
		g.url = g.cfg.DevURL
		g.mu.Unlock()
		g.startProbe(g.cfg.DevURL)
		return nil
	}

	g.mu.Lock()
	if g.state != NotStarted {
		st := g.state
		g.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, st)
	}
	g.transition(Starting)
	g.mu.Unlock()

	port, err := g.svc.Start()

	g.mu.Lock()
	if err != nil {
		g.transition(failureState(err))
		g.mu.Unlock()
		return err
	}
	g.url = portalloc.URL(port)
	if g.state != Starting {
		// a shutdown trigger arrived while spawning; it owns the rest
		g.mu.Unlock()
		return nil
	}
	g.transition(Running)
	url := g.url
	g.mu.Unlock()

	g.startProbe(url)
	return nil
}

func failureState(err error) State {
	switch {
	case errors.Is(err, portalloc.ErrAllPortsExhausted):
		return PortExhausted
	case errors.Is(err, process.ErrBinaryNotFound):
		return BinaryMissing
	default:
		return SpawnFailed
	}
}

func (g *Glue) startProbe(url string) {
	if g.probe == nil {
		return
	}
	begun := time.Now()
	done := g.probe.Start(url, func(o readiness.Outcome) {
		metrics.ObserveReadiness(o.String(), time.Since(begun).Seconds())
		g.onReadiness(o)
	})
	g.mu.Lock()
	g.probeDone = done
	g.mu.Unlock()
}

// onReadiness navigates on success unless the service is already going away.
func (g *Glue) onReadiness(o readiness.Outcome) {
	pid := 0
	if g.svc != nil {
		pid = g.svc.PID()
	}
	if !o.Ready {
		g.logger.Warn("service not ready, window stays on placeholder", "url", o.URL, "attempts", o.Attempts, "error", o.LastErr)
		g.hist.Record(history.Event{Type: history.EventTimeout, PID: pid, Detail: o.URL})
		return
	}
	g.hist.Record(history.Event{Type: history.EventReady, PID: pid, Detail: o.URL})

	g.mu.Lock()
	g.ready = true
	if g.state == Stopping || g.state == Stopped {
		g.mu.Unlock()
		g.logger.Info("service answered after stop, navigation suppressed", "url", o.URL)
		return
	}
	if g.navigated {
		g.mu.Unlock()
		return
	}
	g.navigated = true
	g.mu.Unlock()

	if g.win == nil {
		return
	}
	if err := g.win.Navigate(o.URL); err != nil {
		g.logger.Warn("navigate window", "url", o.URL, "error", err)
		return
	}
	g.logger.Info("window navigated to service", "url", o.URL, "attempts", o.Attempts)
}

// ProbeDone is closed once the readiness probe has reported; nil before Start.
func (g *Glue) ProbeDone() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.probeDone
}

// Shutdown funnels every trigger into one stop of the service. Callers that
// lose the race return only once the machine has reached Stopped.
func (g *Glue) Shutdown(trigger supervisor.Trigger) supervisor.StopResult {
	if g.svc == nil {
		return supervisor.NoOp
	}
	g.mu.Lock()
	active := g.state == Running || g.state == Starting
	inFlight := g.state == Stopping
	if active {
		g.transition(Stopping)
	}
	g.mu.Unlock()

	res := g.svc.Stop(trigger)

	switch {
	case active:
		g.mu.Lock()
		g.transition(Stopped)
		g.mu.Unlock()
		close(g.stopped)
	case inFlight:
		<-g.stopped
	}
	g.logger.Debug("shutdown", "trigger", trigger, "result", res.String())
	return res
}

// Arm subscribes to the stop signals. Call it before Start so an interrupt
// that arrives while the service is spawning is held for Run instead of
// killing the shell with the service left behind. Later calls are no-ops;
// Run arms with its own ctx when Arm was not called.
func (g *Glue) Arm(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sigCtx != nil {
		return
	}
	g.armCtx = ctx
	g.sigCtx, g.stopSignals = signal.NotifyContext(ctx, g.cfg.Signals...)
}

// Disarm releases the signal subscription made by Arm.
func (g *Glue) Disarm() {
	g.mu.Lock()
	stop := g.stopSignals
	g.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Run blocks until the window closes, a signal arrives or ctx is cancelled,
// and stops the service in every case, including a panic unwinding through Run.
func (g *Glue) Run(ctx context.Context) error {
	defer g.Shutdown(supervisor.TriggerTeardown)

	g.Arm(ctx)
	defer g.Disarm()
	g.mu.Lock()
	ctx, sigCtx := g.armCtx, g.sigCtx
	g.mu.Unlock()

	sctx := stopper.WithContext(sigCtx)
	closed := make(chan struct{})
	var events <-chan WindowEvent
	if g.win != nil {
		events = g.win.Events()
	}
	sctx.Go(func(sctx *stopper.Context) error {
		for {
			select {
			case <-sctx.Stopping():
				return nil
			case <-sctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					g.logger.Info("window event stream closed")
					close(closed)
					return nil
				}
				switch ev.Kind {
				case CloseRequested:
					g.logger.Info("window close requested")
					g.Shutdown(supervisor.TriggerWindowClose)
					g.win.AllowClose()
					close(closed)
					return nil
				case Destroyed:
					g.logger.Info("window destroyed")
				}
			}
		}
	})

	select {
	case <-closed:
	case <-sigCtx.Done():
		trigger := supervisor.TriggerSignal
		if ctx.Err() != nil {
			trigger = supervisor.TriggerTeardown
		}
		g.logger.Info("shutdown requested", "trigger", trigger)
		g.Shutdown(trigger)
	}

	sctx.Stop(100 * time.Millisecond)
	return sctx.Wait()
}
