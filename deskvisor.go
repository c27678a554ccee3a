package deskvisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/deskvisor/internal/config"
	"github.com/loykin/deskvisor/internal/history"
	"github.com/loykin/deskvisor/internal/history/sqlite"
	"github.com/loykin/deskvisor/internal/lifecycle"
	"github.com/loykin/deskvisor/internal/metrics"
	"github.com/loykin/deskvisor/internal/readiness"
	"github.com/loykin/deskvisor/internal/runstate"
	iapi "github.com/loykin/deskvisor/internal/server"
	"github.com/loykin/deskvisor/internal/shell"
	"github.com/loykin/deskvisor/internal/supervisor"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Snapshot = lifecycle.Snapshot

type State = lifecycle.State

type RunState = runstate.State

// LoadConfig reads a TOML config file (empty path means defaults) with
// DESKVISOR_* environment overrides.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// StateDir returns the run-state directory configured in c.
func StateDir(c *Config) runstate.Dir {
	if c != nil && c.StateDir != "" {
		return runstate.Dir(c.StateDir)
	}
	return runstate.DefaultDir("deskvisor")
}

// ReadRunState returns the instance recorded in dir.
func ReadRunState(dir string) (RunState, error) { return runstate.Dir(dir).Read() }

// App is a fully wired desktop shell: placeholder window, service supervisor,
// readiness probe, lifecycle glue and the optional ops endpoint.
type App struct {
	cfg    *Config
	logger *slog.Logger
	sup    *supervisor.Supervisor
	win    *shell.Window
	glue   *lifecycle.Glue
	hist   *sqlite.Sink

	opsAddr net.Addr
	ready   chan struct{}
}

// New validates c and assembles the application. Nothing is started yet.
func New(c *Config) (*App, error) {
	if c == nil {
		return nil, errors.New("nil config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	log := c.Log.NewSlogger()
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("register metrics", "error", err)
	}

	a := &App{cfg: c, logger: log, ready: make(chan struct{})}

	rec := history.NewRecorder(log)
	if c.History.SQLite != "" {
		s, err := sqlite.New(c.History.SQLite)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		a.hist = s
		rec.Add(s)
	}

	var svc lifecycle.Service
	if c.ModeValue() == lifecycle.ModeProduction {
		sc, err := c.SupervisorConfig()
		if err != nil {
			a.closeHistory()
			return nil, err
		}
		a.sup = supervisor.New(sc)
		a.sup.SetLogger(log.With(slog.String("process", sc.Name)))
		a.sup.SetHistory(rec)
		a.sup.SetStateDir(StateDir(c))
		svc = a.sup
	}

	pc := c.ProbeConfig()
	pc.Logger = log
	pc.OnAttempt = func(int, error) { metrics.IncReadinessAttempt() }
	probe := readiness.New(pc)

	a.win = shell.New(shell.Config{
		Title:       c.Window.Title,
		Listen:      c.Window.Listen,
		OpenBrowser: c.Window.OpenBrowser,
		Logger:      log,
	})
	a.glue = lifecycle.New(lifecycle.Config{Mode: c.ModeValue(), DevURL: c.DevURL}, svc, a.win, probe, log)
	a.glue.SetHistory(rec)
	return a, nil
}

// Run serves the window, starts the service and blocks until the window is
// closed, a signal arrives or ctx is cancelled. Startup failures are returned;
// the service is stopped on every exit path.
func (a *App) Run(ctx context.Context) error {
	defer a.closeHistory()
	if err := a.win.Start(ctx); err != nil {
		return fmt.Errorf("start window: %w", err)
	}
	defer func() {
		if err := a.win.Close(); err != nil {
			a.logger.Warn("close window", "error", err)
		}
	}()

	if a.cfg.Ops.Listen != "" {
		var hr iapi.HistoryReader
		if a.hist != nil {
			hr = a.hist
		}
		srv, addr, err := iapi.NewServer(a.cfg.Ops.Listen, a.cfg.Ops.Base, a.glue, hr)
		if err != nil {
			return fmt.Errorf("start ops server: %w", err)
		}
		a.opsAddr = addr
		a.logger.Info("ops endpoint listening", "addr", addr.String())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); !iapi.IsClosed(err) {
				a.logger.Warn("stop ops server", "error", err)
			}
		}()
	}

	a.glue.Arm(ctx)
	defer a.glue.Disarm()
	if err := a.glue.Start(); err != nil {
		a.logger.Error("service startup failed", "state", a.glue.State().String(), "error", err)
		return err
	}
	close(a.ready)
	return a.glue.Run(ctx)
}

// Started is closed once the service has been started and Run is waiting for a trigger.
func (a *App) Started() <-chan struct{} { return a.ready }

// Snapshot returns the lifecycle view.
func (a *App) Snapshot() Snapshot { return a.glue.Snapshot() }

// WindowURL is the placeholder address, empty before Run.
func (a *App) WindowURL() string { return a.win.URL() }

// OpsAddr is the ops endpoint address, nil when disabled or before Run.
func (a *App) OpsAddr() net.Addr { return a.opsAddr }

// Handler exposes the window routes, mainly for embedding.
func (a *App) Handler() http.Handler { return a.win.Handler() }

// Stop stops the service as if the window had been closed.
func (a *App) Stop() bool {
	return a.glue.Shutdown(supervisor.TriggerAPI) == supervisor.Stopped
}

func (a *App) closeHistory() {
	if a.hist != nil {
		if err := a.hist.Close(); err != nil {
			a.logger.Warn("close history", "error", err)
		}
		a.hist = nil
	}
}
