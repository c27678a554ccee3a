// Package shell is the loopback window the desktop user sees: a placeholder
// page served over HTTP that redirects to the backend once it is ready, and
// a close endpoint that stands for the window's close button.
package shell

import (
	"context"
	_ "embed"
	"errors"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"vawter.tech/stopper"

	"github.com/loykin/deskvisor/internal/lifecycle"
)

//go:embed placeholder.html
var placeholderHTML string

var placeholderTmpl = template.Must(template.New("placeholder").Parse(placeholderHTML))

// Default tuning.
const (
	DefaultCloseTimeout = 10 * time.Second
	defaultPollMillis   = 500
)

// ErrClosed is returned by Navigate once the window has closed.
var ErrClosed = errors.New("window closed")

type Config struct {
	// Title is shown on the placeholder page.
	Title string
	// Listen is the loopback address; empty picks a free port.
	Listen string
	// OpenBrowser opens the placeholder in the default browser on Start.
	OpenBrowser bool
	// CloseTimeout bounds how long POST /api/close waits for AllowClose.
	CloseTimeout time.Duration
	Logger       *slog.Logger
}

// Window serves the placeholder and implements lifecycle.Window.
type Window struct {
	cfg    Config
	logger *slog.Logger
	events chan lifecycle.WindowEvent
	engine *gin.Engine
	srv    *http.Server
	ln     net.Listener
	sctx   *stopper.Context

	// opener is replaced in tests.
	opener func(string) error

	mu        sync.Mutex
	target    string
	closing   bool
	closed    bool
	allowed   chan struct{}
	allowOnce sync.Once
}

var _ lifecycle.Window = (*Window)(nil)

func New(cfg Config) *Window {
	if cfg.Title == "" {
		cfg.Title = "deskvisor"
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	w := &Window{
		cfg:     cfg,
		logger:  cfg.Logger,
		events:  make(chan lifecycle.WindowEvent, 4),
		allowed: make(chan struct{}),
		opener:  openBrowser,
	}
	w.engine = w.routes()
	return w
}

func (w *Window) routes() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/", w.handlePlaceholder)
	g.GET("/api/target", w.handleTarget)
	g.POST("/api/close", w.handleClose)
	g.POST("/api/destroyed", w.handleDestroyed)
	return g
}

// Handler exposes the routes for embedding and tests.
func (w *Window) Handler() http.Handler { return w.engine }

// Start binds the listener, serves in the background and optionally opens
// the browser on the placeholder.
func (w *Window) Start(ctx context.Context) error {
	addr := w.cfg.Listen
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	w.ln = ln
	w.srv = &http.Server{
		Handler:           w.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	w.sctx = stopper.WithContext(ctx)
	w.sctx.Go(func(sctx *stopper.Context) error {
		if err := w.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	w.sctx.Go(func(sctx *stopper.Context) error {
		select {
		case <-sctx.Stopping():
		case <-sctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return w.srv.Shutdown(shutdownCtx)
	})
	w.logger.Info("window placeholder serving", "url", w.URL())
	if w.cfg.OpenBrowser {
		if err := w.opener(w.URL()); err != nil {
			w.logger.Warn("open browser", "url", w.URL(), "error", err)
		}
	}
	return nil
}

// URL is the placeholder address, empty before Start.
func (w *Window) URL() string {
	if w.ln == nil {
		return ""
	}
	return "http://" + w.ln.Addr().String()
}

// Close stops the HTTP server and ends the event stream.
func (w *Window) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.events)
	w.mu.Unlock()
	if w.sctx == nil {
		return nil
	}
	w.sctx.Stop(time.Second)
	return w.sctx.Wait()
}

// Navigate sets the URL the placeholder redirects to.
func (w *Window) Navigate(url string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.target = url
	return nil
}

// Target returns the navigation target, empty until Navigate.
func (w *Window) Target() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.target
}

func (w *Window) Events() <-chan lifecycle.WindowEvent { return w.events }

// AllowClose releases every pending close request.
func (w *Window) AllowClose() {
	w.allowOnce.Do(func() { close(w.allowed) })
}

// emit delivers ev unless the window is closed. It never blocks the caller.
func (w *Window) emit(ev lifecycle.WindowEvent) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	select {
	case w.events <- ev:
		return true
	default:
		w.logger.Warn("window event dropped", "event", ev.Kind.String())
		return false
	}
}

type targetResp struct {
	URL string `json:"url"`
}

type closeResp struct {
	Closed bool `json:"closed"`
}

func (w *Window) handlePlaceholder(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	_ = placeholderTmpl.Execute(c.Writer, map[string]any{
		"Title":      w.cfg.Title,
		"PollMillis": defaultPollMillis,
	})
}

func (w *Window) handleTarget(c *gin.Context) {
	t := w.Target()
	if t == "" {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, targetResp{URL: t})
}

// handleClose is the window's close button: it raises CloseRequested and
// answers once the lifecycle has allowed the close.
func (w *Window) handleClose(c *gin.Context) {
	w.mu.Lock()
	first := !w.closing
	w.closing = true
	w.mu.Unlock()
	if first {
		w.emit(lifecycle.WindowEvent{Kind: lifecycle.CloseRequested})
	}
	select {
	case <-w.allowed:
		c.JSON(http.StatusOK, closeResp{Closed: true})
	case <-time.After(w.cfg.CloseTimeout):
		c.JSON(http.StatusAccepted, closeResp{Closed: false})
	case <-c.Request.Context().Done():
	}
}

func (w *Window) handleDestroyed(c *gin.Context) {
	w.emit(lifecycle.WindowEvent{Kind: lifecycle.Destroyed})
	c.Status(http.StatusNoContent)
}
