// Package readiness polls the backend over HTTP until it answers.
//
// The probe is bounded by its attempt budget only. There is no cancellation:
// a probe that outlives the service simply observes failures until the
// budget runs out.
package readiness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/deskvisor/internal/logger"
)

// Defaults: 20 attempts every 500ms, roughly ten seconds in total.
const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultMaxAttempts = 20
	DefaultTimeout     = time.Second
)

// ErrReadinessTimeout is reported when the attempt budget is exhausted.
var ErrReadinessTimeout = errors.New("service did not become ready")

// Outcome is the single result of a probe run: Ready(url) or TimedOut.
type Outcome struct {
	Ready    bool
	URL      string
	Attempts int
	// LastErr is the failure of the final attempt when not ready.
	LastErr error
}

// Err returns nil when ready, otherwise an error wrapping ErrReadinessTimeout.
func (o Outcome) Err() error {
	if o.Ready {
		return nil
	}
	if o.LastErr != nil {
		return errors.Join(ErrReadinessTimeout, o.LastErr)
	}
	return ErrReadinessTimeout
}

func (o Outcome) String() string {
	if o.Ready {
		return "ready"
	}
	return "timed_out"
}

// Config tunes a Probe. Zero values fall back to the defaults.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
	// Client overrides the HTTP client; its Timeout is left untouched.
	Client *http.Client
	Logger *slog.Logger
	// OnAttempt is called after every attempt with its 1-based number and result.
	OnAttempt func(attempt int, err error)
}

// Probe checks a URL until it returns a 2xx status.
type Probe struct {
	interval    time.Duration
	maxAttempts int
	client      *http.Client
	logger      *slog.Logger
	onAttempt   func(int, error)
}

func New(cfg Config) *Probe {
	p := &Probe{
		interval:    cfg.Interval,
		maxAttempts: cfg.MaxAttempts,
		client:      cfg.Client,
		logger:      cfg.Logger,
		onAttempt:   cfg.OnAttempt,
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = DefaultMaxAttempts
	}
	if p.client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 || timeout > DefaultTimeout {
			timeout = DefaultTimeout
		}
		p.client = &http.Client{Timeout: timeout}
	}
	if p.logger == nil {
		p.logger = logger.Discard()
	}
	return p
}

// PollUntilReady sleeps, checks url, and repeats until success or the budget is spent.
func (p *Probe) PollUntilReady(url string) Outcome {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		time.Sleep(p.interval)
		lastErr = p.check(url)
		if p.onAttempt != nil {
			p.onAttempt(attempt, lastErr)
		}
		if lastErr == nil {
			p.logger.Info("service ready", slog.String("url", url), slog.Int("attempt", attempt))
			return Outcome{Ready: true, URL: url, Attempts: attempt}
		}
		p.logger.Debug("service not ready", slog.String("url", url), slog.Int("attempt", attempt), slog.Any("error", lastErr))
	}
	p.logger.Warn("service readiness timed out",
		slog.String("url", url),
		slog.Int("attempts", p.maxAttempts),
		slog.Any("error", lastErr))
	return Outcome{URL: url, Attempts: p.maxAttempts, LastErr: lastErr}
}

// Start runs PollUntilReady on a new goroutine and hands the outcome to fn exactly once.
// The returned channel is closed after fn returns.
func (p *Probe) Start(url string, fn func(Outcome)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		o := p.PollUntilReady(url)
		if fn != nil {
			fn(o)
		}
	}()
	return done
}

// StatusError is returned for a non-2xx response.
type StatusError struct{ Code int }

func (e *StatusError) Error() string { return fmt.Sprintf("unexpected status %d", e.Code) }

func (p *Probe) check(url string) error {
	resp, err := p.client.Get(url)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
