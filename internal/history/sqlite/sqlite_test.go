package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/deskvisor/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "history.db")

	sink, err := New("sqlite://" + dbPath)
	require.NoError(t, err)
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)

	events := []history.Event{
		{Type: history.EventSpawn, OccurredAt: base, Name: "backend", PID: 4242, Port: 5555},
		{Type: history.EventReady, OccurredAt: base.Add(3 * time.Second), Name: "backend", PID: 4242, Port: 5555, Detail: "attempts=6"},
		{Type: history.EventStop, OccurredAt: base.Add(10 * time.Second), Name: "backend", PID: 4242, Port: 5555, Detail: "window_close"},
	}
	for _, e := range events {
		require.NoError(t, sink.Send(ctx, e))
	}

	got, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, history.EventStop, got[0].Type)
	assert.Equal(t, "window_close", got[0].Detail)
	assert.Equal(t, history.EventSpawn, got[2].Type)
	assert.Equal(t, 5555, got[2].Port)
	assert.Empty(t, got[2].Detail)
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventTimeout, Name: "backend", PID: 1, Port: 5600}))

	got, err := sink.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, history.EventTimeout, got[0].Type)
	assert.False(t, got[0].OccurredAt.IsZero())
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	_, err := New("  ")
	require.Error(t, err)
}

func TestSQLiteSink_ContextCancellation(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Send with cancelled context - should handle gracefully
	err = sink.Send(ctx, history.Event{Type: history.EventSpawn, Name: "cancelled"})
	if err != nil {
		t.Logf("Expected error with cancelled context: %v", err)
	}
}

func TestSQLiteSink_WithRecorder(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	r := history.NewRecorder(nil, sink)
	r.Record(history.Event{Type: history.EventSpawn, Name: "backend", PID: 7, Port: 5555})

	got, err := sink.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 7, got[0].PID)
}
