//go:build !windows

package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"syscall"
	"testing"
	"time"

	"github.com/deskwright/shellcore/internal/validate"
)

// writeFakeCLI installs a stand-in for the external CLI the supervisor
// drives. Each allow-listed command maps to a distinct behavior.
func writeFakeCLI(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakecli")
	script := `#!/bin/sh
cmd="$1"
shift
case "$cmd" in
status) echo "one"; echo "two" ;;
version) printf '%s\n' "$@" ;;
sync) sleep 30 ;;
build) echo "boom" 1>&2; exit 3 ;;
check) printf 'colored: \033[31mred\033[0m\n' ;;
esac
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake cli: %v", err)
	}
	return path
}

func newTestSupervisor(t *testing.T, opts Options) *Supervisor {
	t.Helper()
	if opts.ExecPath == "" {
		opts.ExecPath = writeFakeCLI(t)
	}
	s := New(opts)
	t.Cleanup(s.Cleanup)
	return s
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitTerminal(t *testing.T, s *Supervisor, id string) Record {
	t.Helper()
	var rec Record
	waitFor(t, 5*time.Second, "terminal state of "+id, func() bool {
		var ok bool
		rec, ok = s.Status(id)
		return ok && rec.Status.Terminal()
	})
	return rec
}

func TestSpawnUniqueIDs(t *testing.T) {
	s := newTestSupervisor(t, Options{})
	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		id, err := s.Spawn("status", nil)
		if err != nil {
			t.Fatalf("spawn %d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestSpawnClosedWorld(t *testing.T) {
	s := newTestSupervisor(t, Options{})
	if _, err := s.Spawn("rm", []string{"-rf", "x"}); err == nil {
		t.Fatalf("expected rejection for non-allow-listed command")
	}
	if _, err := s.Spawn("status", []string{"$(whoami)"}); err == nil {
		t.Fatalf("expected rejection for hostile argument")
	}
	if got := len(s.List()); got != 0 {
		t.Fatalf("rejected spawns must not enter the registry, got %d records", got)
	}
}

func TestCompletedWithSanitizedOutput(t *testing.T) {
	s := newTestSupervisor(t, Options{})
	id, err := s.Spawn("status", nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	rec := waitTerminal(t, s, id)
	if rec.Status != StatusCompleted {
		t.Fatalf("want Completed, got %s", rec.Status)
	}
	if rec.ExitCode == nil || *rec.ExitCode != 0 {
		t.Fatalf("want exit code 0, got %v", rec.ExitCode)
	}
	if !reflect.DeepEqual(rec.Stdout, []string{"one", "two"}) {
		t.Fatalf("stdout = %v", rec.Stdout)
	}

	// color escapes never cross the boundary
	id2, err := s.Spawn("check", nil)
	if err != nil {
		t.Fatalf("spawn check: %v", err)
	}
	rec2 := waitTerminal(t, s, id2)
	if !reflect.DeepEqual(rec2.Stdout, []string{"colored: red"}) {
		t.Fatalf("sanitized stdout = %v", rec2.Stdout)
	}
}

func TestFailedExitCode(t *testing.T) {
	s := newTestSupervisor(t, Options{})
	id, err := s.Spawn("build", nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	rec := waitTerminal(t, s, id)
	if rec.Status != StatusFailed {
		t.Fatalf("want Failed, got %s", rec.Status)
	}
	if rec.ExitCode == nil || *rec.ExitCode != 3 {
		t.Fatalf("want exit code 3, got %v", rec.ExitCode)
	}
	if !reflect.DeepEqual(rec.Stderr, []string{"boom"}) {
		t.Fatalf("stderr = %v", rec.Stderr)
	}
}

func TestLiteralArgumentVector(t *testing.T) {
	s := newTestSupervisor(t, Options{})
	args := []string{"--format=long", "v1.2.3", "plain-arg"}
	id, err := s.Spawn("version", args)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	rec := waitTerminal(t, s, id)
	// the child received exactly the validated argv, proving no shell ever
	// reinterpreted anything
	if !reflect.DeepEqual(rec.Stdout, args) {
		t.Fatalf("child saw argv %v, want %v", rec.Stdout, args)
	}
}

func TestConcurrencyCeiling(t *testing.T) {
	s := newTestSupervisor(t, Options{MaxConcurrent: 2})
	a, err := s.Spawn("sync", nil)
	if err != nil {
		t.Fatalf("spawn a: %v", err)
	}
	if _, err := s.Spawn("sync", nil); err != nil {
		t.Fatalf("spawn b: %v", err)
	}
	_, err = s.Spawn("sync", nil)
	var rej *validate.RejectionError
	if !errors.As(err, &rej) || rej.Kind != validate.KindCapacity {
		t.Fatalf("want capacity rejection, got %v", err)
	}
	if got := len(s.List()); got != 2 {
		t.Fatalf("rejected spawn left a record behind: %d", got)
	}

	// freeing a slot makes spawn succeed again
	if err := s.Cancel(a); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitFor(t, 10*time.Second, "slot to free", func() bool { return s.Running() < 2 })
	if _, err := s.Spawn("sync", nil); err != nil {
		t.Fatalf("spawn after slot freed: %v", err)
	}
}

func TestCancelBeforeCompletion(t *testing.T) {
	s := newTestSupervisor(t, Options{GracePeriod: 500 * time.Millisecond})
	id, err := s.Spawn("sync", nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := s.Cancel(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// a second cancel while escalation is pending is a no-op, not an error
	if err := s.Cancel(id); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	rec := waitTerminal(t, s, id)
	if rec.Status != StatusCancelled {
		t.Fatalf("want Cancelled, got %s", rec.Status)
	}
	if rec.ExitCode == nil {
		t.Fatalf("observed exit code should be recorded for diagnostics")
	}

	if err := s.Cancel(id); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("cancel on terminal record: want ErrNotRunning, got %v", err)
	}
	if err := s.Cancel("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancel unknown id: want ErrNotFound, got %v", err)
	}
}

func TestRuntimeTimeout(t *testing.T) {
	s := newTestSupervisor(t, Options{MaxRuntime: 200 * time.Millisecond, GracePeriod: 200 * time.Millisecond})
	id, err := s.Spawn("sync", nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	rec := waitTerminal(t, s, id)
	if rec.Status != StatusTimedOut {
		t.Fatalf("want TimedOut, got %s", rec.Status)
	}
}

func TestRetentionEviction(t *testing.T) {
	s := newTestSupervisor(t, Options{Retention: 200 * time.Millisecond})
	id, err := s.Spawn("status", nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	rec := waitTerminal(t, s, id)
	if rec.Status != StatusCompleted {
		t.Fatalf("want Completed, got %s", rec.Status)
	}
	// still queryable right after the exit, gone after the window
	if _, ok := s.Status(id); !ok {
		t.Fatalf("terminal record evicted too early")
	}
	waitFor(t, 2*time.Second, "eviction", func() bool {
		_, ok := s.Status(id)
		return !ok
	})
}

func TestSpawnErrorRecordsFailure(t *testing.T) {
	s := newTestSupervisor(t, Options{ExecPath: "/nonexistent/bin/fakecli"})
	ch, cancel := s.Subscribe()
	defer cancel()
	id, err := s.Spawn("status", nil)
	if err != nil {
		t.Fatalf("spawn error must surface asynchronously, got %v", err)
	}
	rec, ok := s.Status(id)
	if !ok || rec.Status != StatusFailed {
		t.Fatalf("want Failed record, got %+v ok=%v", rec, ok)
	}
	if rec.ExitCode != nil {
		t.Fatalf("spawn failure must not carry an exit code")
	}
	select {
	case ev := <-ch:
		if ev.Type != EventError || ev.ID != id || ev.Message == "" {
			t.Fatalf("want error event for %s, got %+v", id, ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no error event delivered")
	}
}

func TestEventOrdering(t *testing.T) {
	s := newTestSupervisor(t, Options{})
	ch, cancel := s.Subscribe()
	defer cancel()
	id, err := s.Spawn("status", nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	var got []Event
	deadline := time.After(5 * time.Second)
	for {
		var ev Event
		select {
		case ev = <-ch:
		case <-deadline:
			t.Fatalf("no exit event; collected %d events", len(got))
		}
		if ev.ID != id {
			continue
		}
		got = append(got, ev)
		if ev.Type == EventExit {
			break
		}
	}

	var lines []string
	for i, ev := range got {
		switch ev.Type {
		case EventOutput:
			lines = append(lines, ev.Lines...)
		case EventExit:
			if i != len(got)-1 {
				t.Fatalf("exit event delivered before output drained: %+v", got)
			}
			if ev.Code == nil || *ev.Code != 0 {
				t.Fatalf("want exit code 0, got %+v", ev)
			}
		}
	}
	if !reflect.DeepEqual(lines, []string{"one", "two"}) {
		t.Fatalf("output events out of order: %v", lines)
	}
}

func TestCleanupGuarantee(t *testing.T) {
	s := newTestSupervisor(t, Options{GracePeriod: 500 * time.Millisecond})
	ids := []string{}
	for i := 0; i < 2; i++ {
		id, err := s.Spawn("sync", nil)
		if err != nil {
			t.Fatalf("spawn %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	pids := make([]int, 0, 2)
	for _, id := range ids {
		rec, ok := s.Status(id)
		if !ok || rec.PID <= 0 {
			t.Fatalf("running record without pid: %+v", rec)
		}
		pids = append(pids, rec.PID)
	}

	s.Cleanup()

	if !s.CleanupDone() {
		t.Fatalf("CleanupDone should report true")
	}
	if got := s.Running(); got != 0 {
		t.Fatalf("records still Running after cleanup: %d", got)
	}
	for _, pid := range pids {
		if syscall.Kill(pid, 0) == nil {
			t.Fatalf("pid %d still alive after cleanup", pid)
		}
	}
	// idempotent, and the supervisor now fails closed
	s.Cleanup()
	if _, err := s.Spawn("status", nil); !errors.Is(err, ErrShutdown) {
		t.Fatalf("spawn after cleanup: want ErrShutdown, got %v", err)
	}
}
