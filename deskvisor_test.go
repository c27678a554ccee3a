package deskvisor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/deskvisor/internal/history/sqlite"
	"github.com/loykin/deskvisor/internal/process"
	"github.com/loykin/deskvisor/internal/runstate"
)

const fakeServiceEnv = "DESKVISOR_FAKE_SERVICE"

func TestMain(m *testing.M) {
	if os.Getenv(fakeServiceEnv) == "1" {
		serveFake(os.Args[1:])
		return
	}
	os.Exit(m.Run())
}

func serveFake(args []string) {
	port := 0
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "--port" {
			port, _ = strconv.Atoi(args[i+1])
		}
	}
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		os.Exit(3)
	}
	_ = http.Serve(ln, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	c, err := LoadConfig("")
	require.NoError(t, err)
	c.Window.OpenBrowser = false
	c.Window.Listen = "127.0.0.1:0"
	c.StateDir = filepath.Join(t.TempDir(), "state")
	c.Readiness.Interval = 20 * time.Millisecond
	c.Readiness.Attempts = 100
	c.Shutdown.Grace = 10 * time.Millisecond
	c.Log.Slog.Level = "error"
	return c
}

func closeWindow(t *testing.T, a *App) {
	t.Helper()
	resp, err := http.Post(a.WindowURL()+"/api/close", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func waitTarget(t *testing.T, a *App) string {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(a.WindowURL() + "/api/target")
		if err == nil {
			var body struct {
				URL string `json:"url"`
			}
			ok := resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&body) == nil
			_ = resp.Body.Close()
			if ok {
				return body.URL
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("window never got a navigation target")
	return ""
}

func runApp(t *testing.T, a *App) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(context.Background()) }()
	select {
	case <-a.Started():
	case err := <-errCh:
		t.Fatalf("run failed early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not start")
	}
	return errCh
}

func TestDevelopmentModeNavigatesToDevURL(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	c := testConfig(t)
	c.Mode = "development"
	c.DevURL = backend.URL

	a, err := New(c)
	require.NoError(t, err)
	errCh := runApp(t, a)

	assert.Equal(t, backend.URL, waitTarget(t, a))
	closeWindow(t, a)
	require.NoError(t, <-errCh)
}

func TestProductionMissingBinaryIsFatal(t *testing.T) {
	c := testConfig(t)
	c.Service.Binary = filepath.Join(t.TempDir(), "missing-server")

	a, err := New(c)
	require.NoError(t, err)
	err = a.Run(context.Background())
	require.ErrorIs(t, err, process.ErrBinaryNotFound)
	assert.Equal(t, "binary_missing", a.Snapshot().State)
}

func TestProductionEndToEnd(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)
	t.Setenv(fakeServiceEnv, "1")

	c := testConfig(t)
	c.Service.Binary = exe
	c.Ops.Listen = "127.0.0.1:0"
	c.History.SQLite = filepath.Join(t.TempDir(), "history.db")

	a, err := New(c)
	require.NoError(t, err)
	errCh := runApp(t, a)

	target := waitTarget(t, a)
	snap := a.Snapshot()
	assert.Equal(t, "running", snap.State)
	assert.Equal(t, snap.URL, target)

	st, err := ReadRunState(c.StateDir)
	require.NoError(t, err)
	assert.Equal(t, target, st.URL())
	assert.True(t, st.Alive())

	resp, err := http.Get("http://" + a.OpsAddr().String() + "/status")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	_ = resp.Body.Close()
	assert.Equal(t, "running", status["state"])

	closeWindow(t, a)
	require.NoError(t, <-errCh)
	assert.Equal(t, "stopped", a.Snapshot().State)

	_, err = runstate.Dir(c.StateDir).Read()
	assert.ErrorIs(t, err, runstate.ErrNoState)

	sink, err := sqlite.New(c.History.SQLite)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	events, err := sink.Recent(context.Background(), 10)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, string(e.Type))
	}
	assert.Contains(t, types, "spawn")
	assert.Contains(t, types, "ready")
	assert.Contains(t, types, "stop")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.Service.Binary = ""
	_, err := New(c)
	require.Error(t, err)

	_, err = New(nil)
	require.Error(t, err)
}
