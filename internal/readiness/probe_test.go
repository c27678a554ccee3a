package readiness

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readyAfter answers 503 for the first n requests and 200 afterwards.
func readyAfter(n int32) (*httptest.Server, *atomic.Int32) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= n {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	return srv, &hits
}

func TestPollUntilReadyStopsOnFirstSuccess(t *testing.T) {
	srv, hits := readyAfter(5)
	defer srv.Close()

	p := New(Config{Interval: 5 * time.Millisecond, MaxAttempts: 20})
	o := p.PollUntilReady(srv.URL)

	require.True(t, o.Ready)
	assert.NoError(t, o.Err())
	assert.Equal(t, 6, o.Attempts)
	assert.Equal(t, srv.URL, o.URL)
	assert.EqualValues(t, 6, hits.Load(), "no requests after success")
}

func TestPollUntilReadyExhaustsBudget(t *testing.T) {
	srv, hits := readyAfter(1 << 30)
	defer srv.Close()

	var attempts []int
	p := New(Config{
		Interval:    time.Millisecond,
		MaxAttempts: 4,
		OnAttempt:   func(a int, err error) { attempts = append(attempts, a) },
	})
	o := p.PollUntilReady(srv.URL)

	assert.False(t, o.Ready)
	assert.Equal(t, 4, o.Attempts)
	assert.EqualValues(t, 4, hits.Load())
	assert.Equal(t, []int{1, 2, 3, 4}, attempts)
	assert.True(t, errors.Is(o.Err(), ErrReadinessTimeout))
	var se *StatusError
	assert.True(t, errors.As(o.Err(), &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "timed_out", o.String())
}

func TestPollUntilReadyConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	o := New(Config{Interval: time.Millisecond, MaxAttempts: 3}).PollUntilReady(url)
	assert.False(t, o.Ready)
	assert.ErrorIs(t, o.Err(), ErrReadinessTimeout)
}

func TestPollTreatsAny2xxAsReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	o := New(Config{Interval: time.Millisecond, MaxAttempts: 1}).PollUntilReady(srv.URL)
	assert.True(t, o.Ready)
	assert.Equal(t, 1, o.Attempts)
}

func TestPollPerAttemptTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	start := time.Now()
	o := New(Config{Interval: time.Millisecond, MaxAttempts: 2, Timeout: 50 * time.Millisecond}).PollUntilReady(srv.URL)
	assert.False(t, o.Ready)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDefaults(t *testing.T) {
	p := New(Config{Timeout: 5 * time.Second})
	assert.Equal(t, DefaultInterval, p.interval)
	assert.Equal(t, DefaultMaxAttempts, p.maxAttempts)
	assert.Equal(t, DefaultTimeout, p.client.Timeout, "per-attempt timeout is capped at one second")
}

func TestStartReportsOnceInBackground(t *testing.T) {
	srv, _ := readyAfter(2)
	defer srv.Close()

	var mu sync.Mutex
	var outcomes []Outcome
	done := New(Config{Interval: time.Millisecond, MaxAttempts: 10}).Start(srv.URL, func(o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("probe did not finish")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Ready)
	assert.Equal(t, 3, outcomes[0].Attempts)
}
