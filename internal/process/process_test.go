package process

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/deskvisor/internal/logger"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// writeScript creates an executable shell script standing in for the service binary.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "service.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func waitGone(t *testing.T, pid int, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if !processExists(pid) || isZombie(pid) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("pid %d still alive after %v", pid, d)
}

func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return strings.Contains(string(b), "State:\tZ")
}

func TestCommandArgsInjectPortAndVerbose(t *testing.T) {
	s := Spec{Binary: "/bin/svc", Args: []string{"serve"}, Port: 5555}
	if got := strings.Join(s.CommandArgs(), " "); got != "serve --port 5555" {
		t.Fatalf("args = %q", got)
	}
	s.Verbose = true
	if got := strings.Join(s.CommandArgs(), " "); got != "serve --port 5555 --verbose" {
		t.Fatalf("args = %q", got)
	}
}

func TestSpawnBinaryNotFound(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	p, err := Spawn(Spec{Binary: missing, Port: 5555})
	if !errors.Is(err, ErrBinaryNotFound) {
		t.Fatalf("expected ErrBinaryNotFound, got %v", err)
	}
	if p != nil {
		t.Fatalf("no process expected")
	}
}

func TestSpawnDirectoryIsNotABinary(t *testing.T) {
	_, err := Spawn(Spec{Binary: t.TempDir(), Port: 5555})
	if !errors.Is(err, ErrBinaryNotFound) {
		t.Fatalf("expected ErrBinaryNotFound, got %v", err)
	}
}

func TestSpawnPortNotAllocated(t *testing.T) {
	_, err := Spawn(Spec{Binary: os.Args[0]})
	if !errors.Is(err, ErrPortNotAllocated) {
		t.Fatalf("expected ErrPortNotAllocated, got %v", err)
	}
}

func TestSpawnFailureOnNonExecutable(t *testing.T) {
	requireUnix(t)
	path := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(path, []byte("not a program"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Spawn(Spec{Binary: path, Port: 5555})
	if !errors.Is(err, ErrSpawnFailure) {
		t.Fatalf("expected ErrSpawnFailure, got %v", err)
	}
}

func TestBuildCommandSetsProcessGroup(t *testing.T) {
	requireUnix(t)
	s := Spec{Binary: "/bin/sh", Port: 1234, WorkDir: "/", Env: []string{"A=1"}}
	cmd := s.BuildCommand()
	checkSysProcAttrs(t, cmd)
	if cmd.Dir != "/" || len(cmd.Env) != 1 || cmd.Env[0] != "A=1" {
		t.Fatalf("dir/env not applied: %q %v", cmd.Dir, cmd.Env)
	}
}

func TestSpawnKillWait(t *testing.T) {
	requireUnix(t)
	bin := writeScript(t, "exec sleep 30")
	p, err := Spawn(Spec{Name: "svc", Binary: bin, Port: 6000})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	st := p.Snapshot()
	if !st.Running || st.PID <= 0 || st.Port != 6000 || st.Name != "svc" {
		t.Fatalf("unexpected status after spawn: %+v", st)
	}
	if p.Exited() {
		t.Fatalf("fresh process reported as exited")
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}

	// concurrent waiters all observe the same reaped result
	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.Wait()
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(errs); i++ {
		if errs[i] != errs[0] {
			t.Fatalf("waiters disagree: %v vs %v", errs[0], errs[i])
		}
	}
	if !p.Exited() {
		t.Fatalf("Exited should be true after Wait")
	}
	if st := p.Snapshot(); st.Running || st.StoppedAt.IsZero() {
		t.Fatalf("status not updated on exit: %+v", st)
	}
	// killing an already reaped process is not an error
	if err := p.Kill(); err != nil {
		t.Fatalf("kill after exit: %v", err)
	}
}

func TestSpawnCapturesOutputToRotatingFiles(t *testing.T) {
	requireUnix(t)
	logs := filepath.Join(t.TempDir(), "logs")
	bin := writeScript(t, `echo "listening on $2"; echo oops 1>&2`)
	p, err := Spawn(Spec{Name: "cap", Binary: bin, Port: 7001, Log: logger.FileConfig{Dir: logs}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	ob, err := os.ReadFile(filepath.Join(logs, "cap.stdout.log"))
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if !strings.Contains(string(ob), "listening on 7001") {
		t.Fatalf("stdout missing content: %q", string(ob))
	}
	eb, err := os.ReadFile(filepath.Join(logs, "cap.stderr.log"))
	if err != nil {
		t.Fatalf("read stderr: %v", err)
	}
	if !strings.Contains(string(eb), "oops") {
		t.Fatalf("stderr missing content: %q", string(eb))
	}
}

func TestKillTreeTerminatesDescendants(t *testing.T) {
	requireUnix(t)
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	bin := writeScript(t, "sleep 30 &\necho $! > "+pidFile+"\nwait")
	p, err := Spawn(Spec{Binary: bin, Port: 7002})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	var childPID int
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if b, err := os.ReadFile(pidFile); err == nil {
			if n, err := strconv.Atoi(strings.TrimSpace(string(b))); err == nil && n > 0 {
				childPID = n
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if childPID == 0 {
		t.Fatalf("child pid never written")
	}

	// walk errors are tolerated; the group signal is what must land
	_ = NewTreeKiller().KillTree(p.PID())
	_ = p.Wait()
	waitGone(t, childPID, 3*time.Second)
}

func TestKillGroupReachesOrphansAfterReap(t *testing.T) {
	requireUnix(t)
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	bin := writeScript(t, "sleep 30 &\necho $! > "+pidFile+"\nexit 0")
	p, err := Spawn(Spec{Binary: bin, Port: 7004})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	_ = p.Wait()

	b, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read child pid: %v", err)
	}
	childPID, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || childPID <= 0 {
		t.Fatalf("bad child pid %q", b)
	}

	gk, ok := NewTreeKiller().(GroupKiller)
	if !ok {
		t.Fatalf("platform tree killer does not implement GroupKiller")
	}
	if err := gk.KillGroup(p.PID()); err != nil {
		t.Fatalf("KillGroup: %v", err)
	}
	waitGone(t, childPID, 3*time.Second)
	if err := gk.KillGroup(p.PID()); err != nil {
		t.Fatalf("expected nil for an empty group, got %v", err)
	}
}

func TestKillTreeIgnoresMissingProcess(t *testing.T) {
	requireUnix(t)
	bin := writeScript(t, "exit 0")
	p, err := Spawn(Spec{Binary: bin, Port: 7003})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	_ = p.Wait()
	if err := NewTreeKiller().KillTree(p.PID()); err != nil {
		t.Fatalf("expected nil for a reaped process group, got %v", err)
	}
	if err := NewTreeKiller().KillTree(0); err != nil {
		t.Fatalf("expected nil for pid 0, got %v", err)
	}
}

func TestTreeKillerFunc(t *testing.T) {
	var got int
	k := TreeKillerFunc(func(pid int) error { got = pid; return nil })
	_ = k.KillTree(42)
	if got != 42 {
		t.Fatalf("func not invoked: %d", got)
	}
}
