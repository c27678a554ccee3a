package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/loykin/deskvisor/internal/history"
	"github.com/loykin/deskvisor/internal/lifecycle"
	"github.com/loykin/deskvisor/internal/metrics"
	"github.com/loykin/deskvisor/internal/supervisor"
)

// Router provides the local operations endpoints.
// Endpoints:
//   GET  {basePath}/healthz
//   GET  {basePath}/status            lifecycle snapshot plus resource usage
//   GET  {basePath}/history?limit=20  recent lifecycle events, newest first
//   POST {basePath}/stop              stops the service (trigger "api")
//   GET  /metrics                     Prometheus exposition
// basePath may be empty or start with '/'; no trailing slash.

// Lifecycle is what the router reads and drives.
type Lifecycle interface {
	Snapshot() lifecycle.Snapshot
	Shutdown(trigger supervisor.Trigger) supervisor.StopResult
}

// HistoryReader lists recent events.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Event, error)
}

type Router struct {
	lc       Lifecycle
	hist     HistoryReader
	basePath string
	sample   func(pid int) (metrics.ResourceUsage, error)
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(lc Lifecycle, basePath string) *Router {
	return &Router{lc: lc, basePath: sanitizeBase(basePath), sample: metrics.SampleProcess}
}

// SetHistory enables the history endpoint.
func (r *Router) SetHistory(h HistoryReader) { r.hist = h }

// Handler returns an http.Handler powered by echo.
func (r *Router) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	g := e.Group(r.basePath)
	g.GET("/healthz", r.handleHealth)
	g.GET("/status", r.handleStatus)
	g.GET("/history", r.handleHistory)
	g.POST("/stop", r.handleStop)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	return e
}

// NewServer binds addr and serves the router in the background.
// Close or Shutdown the returned server to stop it.
func NewServer(addr, basePath string, lc Lifecycle, hist HistoryReader) (*http.Server, net.Addr, error) {
	r := NewRouter(lc, basePath)
	if hist != nil {
		r.SetHistory(hist)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	server := &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()
	return server, ln.Addr(), nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	lifecycle.Snapshot
	Resources *metrics.ResourceUsage `json:"resources,omitempty"`
}

type stopResp struct {
	Result string `json:"result"`
}

func (r *Router) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c echo.Context) error {
	snap := r.lc.Snapshot()
	resp := statusResp{Snapshot: snap}
	if snap.PID > 0 && snap.State == lifecycle.Running.String() {
		if u, err := r.sample(snap.PID); err == nil {
			resp.Resources = &u
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (r *Router) handleHistory(c echo.Context) error {
	if r.hist == nil {
		return c.JSON(http.StatusNotFound, errorResp{Error: "history not configured"})
	}
	limit := parseLimit(c.QueryParam("limit"), 20, 500)
	events, err := r.hist.Recent(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
	if events == nil {
		events = []history.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

func (r *Router) handleStop(c echo.Context) error {
	res := r.lc.Shutdown(supervisor.TriggerAPI)
	return c.JSON(http.StatusOK, stopResp{Result: res.String()})
}

// IsClosed reports whether err only says the server was shut down.
func IsClosed(err error) bool { return err == nil || errors.Is(err, http.ErrServerClosed) }
