package history

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventSpawn   EventType = "spawn"
	EventReady   EventType = "ready"
	EventTimeout EventType = "timeout"
	EventStop    EventType = "stop"
)

// Event represents a lifecycle event of the backend service.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	Port       int       `json:"port"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Recorder fans events out to every configured sink. Send failures are logged
// and never returned; history must not interfere with supervision.
type Recorder struct {
	mu      sync.RWMutex
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
}

// DefaultSendTimeout bounds a single sink write.
const DefaultSendTimeout = 2 * time.Second

func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sinks: sinks, timeout: DefaultSendTimeout, logger: logger}
}

// Add registers another sink.
func (r *Recorder) Add(s Sink) {
	if r == nil || s == nil {
		return
	}
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

// Record stamps e (when OccurredAt is zero) and sends it to all sinks.
// A nil Recorder drops the event.
func (r *Recorder) Record(e Event) {
	if r == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	r.mu.RLock()
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.RUnlock()
	for _, s := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := s.Send(ctx, e); err != nil {
			r.logger.Warn("history send failed", "type", e.Type, "error", err)
		}
		cancel()
	}
}
