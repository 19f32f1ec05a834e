package supervisor

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deskwright/shellcore/internal/metrics"
	"github.com/deskwright/shellcore/internal/validate"
)

var (
	// ErrNotFound is returned by Cancel and reported by Status for ids that
	// are not (or no longer) in the registry.
	ErrNotFound = errors.New("process not found")
	// ErrNotRunning is returned by Cancel for records already in a terminal state.
	ErrNotRunning = errors.New("process not running")
	// ErrShutdown is returned by Spawn after Cleanup has completed.
	ErrShutdown = errors.New("supervisor is shut down")
)

// Options tunes the Supervisor. Zero values fall back to defaults.
type Options struct {
	ExecPath      string        // external CLI executable invoked for validated commands
	MaxConcurrent int           // concurrency ceiling for Running records
	MaxRuntime    time.Duration // per-process maximum runtime before timeout escalation
	GracePeriod   time.Duration // wait between graceful and forceful termination
	Retention     time.Duration // how long terminal records stay queryable
	Logger        *slog.Logger
}

const (
	DefaultExecPath      = "deskcli"
	DefaultMaxConcurrent = 8
	DefaultMaxRuntime    = 5 * time.Minute
	DefaultGracePeriod   = 3 * time.Second
	DefaultRetention     = 30 * time.Second

	// forceReapWait bounds how long Cleanup waits for a process after the
	// forceful signal before declaring it unkillable and moving on.
	forceReapWait = 2 * time.Second
)

func (o *Options) fillDefaults() {
	if o.ExecPath == "" {
		o.ExecPath = DefaultExecPath
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.MaxRuntime <= 0 {
		o.MaxRuntime = DefaultMaxRuntime
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Supervisor owns the registry of in-flight and recently finished child
// processes. The registry is the only shared mutable state in the core; every
// mutation happens under mu, and callers only ever receive copies.
type Supervisor struct {
	mu          sync.Mutex
	opts        Options
	records     map[string]*record
	subs        map[int]chan Event
	nextSub     int
	cleanupDone bool
	logger      *slog.Logger
}

func New(opts Options) *Supervisor {
	opts.fillDefaults()
	return &Supervisor{
		opts:    opts,
		records: make(map[string]*record),
		subs:    make(map[int]chan Event),
		logger:  opts.Logger,
	}
}

// Spawn validates the command and argument list, enforces the concurrency
// ceiling, and starts the external CLI directly (argument vector, never a
// shell). On success it returns the new record id. Validation and capacity
// failures return a *validate.RejectionError and leave no trace in the
// registry. An OS-level start failure registers a terminal Failed record and
// surfaces an asynchronous error event; the id is still returned so the
// caller can query the failure.
func (s *Supervisor) Spawn(command string, args []string) (string, error) {
	name, err := validate.ValidateCommand(command)
	if err != nil {
		metrics.IncRejection(string(validate.KindCommand))
		return "", err
	}
	cleanArgs, err := validate.ValidateArguments(args)
	if err != nil {
		metrics.IncRejection(string(validate.KindArgument))
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleanupDone {
		return "", ErrShutdown
	}
	if s.runningLocked() >= s.opts.MaxConcurrent {
		metrics.IncRejection(string(validate.KindCapacity))
		return "", &validate.RejectionError{Kind: validate.KindCapacity, Index: -1, Reason: "concurrency ceiling reached"}
	}

	id := uuid.NewString()
	rec := &record{
		Record: Record{
			ID:        id,
			Command:   name,
			Args:      cleanArgs,
			Status:    StatusRunning,
			StartedAt: time.Now(),
		},
		waitDone: make(chan struct{}),
	}

	argv := append([]string{name}, cleanArgs...)
	// #nosec G204 -- name is allow-listed and args validated; no shell involved
	cmd := exec.Command(s.opts.ExecPath, argv...)
	groupAttr(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.failSpawnLocked(rec, err)
		return id, nil
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		s.failSpawnLocked(rec, err)
		return id, nil
	}
	if err := cmd.Start(); err != nil {
		s.failSpawnLocked(rec, err)
		return id, nil
	}

	rec.cmd = cmd
	rec.PID = cmd.Process.Pid
	s.records[id] = rec
	rec.runtimeTimer = time.AfterFunc(s.opts.MaxRuntime, func() {
		_ = s.terminate(id, StatusTimedOut)
	})
	metrics.IncSpawn(name)
	metrics.SetRunning(s.runningLocked())

	var streams sync.WaitGroup
	streams.Add(2)
	go s.readStream(id, "stdout", stdout, &streams)
	go s.readStream(id, "stderr", stderr, &streams)
	go s.wait(id, cmd, &streams)

	s.logger.Debug("spawned process", "id", id, "command", name, "pid", rec.PID)
	return id, nil
}

// Cancel requests cooperative termination of a Running record: graceful
// signal now, forceful signal after the grace period if the process has not
// exited. A second Cancel while the first escalation is pending is a no-op.
func (s *Supervisor) Cancel(id string) error {
	return s.terminate(id, StatusCancelled)
}

// Status returns a copy of the record, or ok=false if the id is unknown or
// already evicted.
func (s *Supervisor) Status(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.snapshot(), true
}

// List returns copies of all registry records ordered by start time.
func (s *Supervisor) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Running reports the number of records currently in the Running state.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

// CleanupDone reports whether Cleanup has completed.
func (s *Supervisor) CleanupDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupDone
}

// Cleanup terminates every Running record within bounded time: graceful
// signal, grace-period wait, forceful signal, short reap wait. Processes
// survive none of that only if the OS refuses the kill, which is logged and
// skipped so the remaining registry still gets torn down. Cleanup is
// idempotent; after it completes Spawn fails closed and all event
// subscribers observe end-of-stream.
func (s *Supervisor) Cleanup() {
	s.mu.Lock()
	if s.cleanupDone {
		s.mu.Unlock()
		return
	}
	s.cleanupDone = true
	type target struct {
		id       string
		pid      int
		waitDone chan struct{}
	}
	targets := make([]target, 0, len(s.records))
	for id, rec := range s.records {
		if rec.Status != StatusRunning {
			continue
		}
		if rec.pending == "" {
			rec.pending = StatusCancelled
		}
		rec.stopTimers()
		targets = append(targets, target{id: id, pid: rec.PID, waitDone: rec.waitDone})
	}
	grace := s.opts.GracePeriod
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t target) {
			defer wg.Done()
			_ = signalGroup(t.pid, sigGraceful)
			select {
			case <-t.waitDone:
				return
			case <-time.After(grace):
			}
			metrics.IncForceKill()
			if err := signalGroup(t.pid, sigForceful); err != nil {
				s.logger.Error("forceful termination failed during cleanup", "id", t.id, "error", err)
				return
			}
			select {
			case <-t.waitDone:
			case <-time.After(forceReapWait):
				s.logger.Error("process did not exit after forceful termination", "id", t.id, "pid", t.pid)
			}
		}(t)
	}
	wg.Wait()

	s.mu.Lock()
	s.closeSubscribers()
	s.mu.Unlock()
	s.logger.Info("supervisor cleanup complete", "terminated", len(targets))
}

// --- internal ---

func (s *Supervisor) runningLocked() int {
	n := 0
	for _, rec := range s.records {
		if rec.Status == StatusRunning {
			n++
		}
	}
	return n
}

// terminate is the shared escalation path behind Cancel and the runtime
// timeout. The first caller claims the termination by setting pending and
// arming a single escalation timer; later callers are no-ops.
func (s *Supervisor) terminate(id string, target Status) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if rec.pending != "" {
		// An escalation is already in flight; do not double-signal.
		s.mu.Unlock()
		return nil
	}
	rec.pending = target
	pid := rec.PID
	rec.killTimer = time.AfterFunc(s.opts.GracePeriod, func() { s.forceKill(id) })
	s.mu.Unlock()

	if err := signalGroup(pid, sigGraceful); err != nil {
		s.logger.Debug("graceful signal delivery failed", "id", id, "error", err)
	}
	return nil
}

func (s *Supervisor) forceKill(id string) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok || rec.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	pid := rec.PID
	s.mu.Unlock()
	metrics.IncForceKill()
	if err := signalGroup(pid, sigForceful); err != nil {
		s.logger.Error("forceful termination failed", "id", id, "pid", pid, "error", err)
	}
}

// readStream appends sanitized output lines to the record and forwards them
// as events, in the order the OS delivered them on this stream.
func (s *Supervisor) readStream(id, stream string, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		s.appendOutput(id, stream, sc.Text())
	}
}

// appendOutput records one sanitized line. Terminal status does not stop
// delivery; only eviction does, in which case the line is dropped silently.
func (s *Supervisor) appendOutput(id, stream, line string) {
	clean := validate.SanitizeOutput(line)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return
	}
	if stream == "stderr" {
		rec.Stderr = append(rec.Stderr, clean)
	} else {
		rec.Stdout = append(rec.Stdout, clean)
	}
	s.publish(Event{Type: EventOutput, ID: id, Stream: stream, Lines: []string{clean}})
}

// wait drains both stream readers, reaps the process, and finalizes the
// record. Draining first is what guarantees output events are delivered
// before the exit event.
func (s *Supervisor) wait(id string, cmd *exec.Cmd, streams *sync.WaitGroup) {
	streams.Wait()
	err := cmd.Wait()
	s.finalize(id, err)
}

// finalize performs the single terminal transition for a record. A pending
// cancellation or timeout wins over the natural exit status; the observed
// exit code is recorded either way for diagnostics.
func (s *Supervisor) finalize(id string, waitErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status.Terminal() {
		return
	}
	code := exitCodeOf(waitErr)
	rec.ExitCode = &code
	switch {
	case rec.pending != "":
		rec.Status = rec.pending
	case code == 0:
		rec.Status = StatusCompleted
	default:
		rec.Status = StatusFailed
	}
	rec.EndedAt = time.Now()
	rec.PID = 0
	rec.stopTimers()
	close(rec.waitDone)
	s.scheduleEvictionLocked(rec)

	metrics.IncTermination(string(rec.Status))
	metrics.SetRunning(s.runningLocked())
	s.publish(Event{Type: EventExit, ID: id, Code: rec.ExitCode})
	s.logger.Debug("process finished", "id", id, "status", string(rec.Status), "exit_code", code)
}

// failSpawnLocked registers a record that never started as terminal Failed
// and surfaces the OS error as an error event. Callers must hold s.mu.
func (s *Supervisor) failSpawnLocked(rec *record, err error) {
	now := time.Now()
	rec.Status = StatusFailed
	rec.EndedAt = now
	close(rec.waitDone)
	s.records[rec.ID] = rec
	s.scheduleEvictionLocked(rec)
	metrics.IncTermination(string(StatusFailed))
	s.publish(Event{Type: EventError, ID: rec.ID, Message: validate.SanitizeOutput(err.Error())})
	s.logger.Error("spawn failed", "id", rec.ID, "command", rec.Command, "error", err)
}

// scheduleEvictionLocked retains the terminal record for the configured
// window so late Status queries still observe the final state, then removes
// it. Output arriving for an evicted id is dropped.
func (s *Supervisor) scheduleEvictionLocked(rec *record) {
	id := rec.ID
	rec.evictTimer = time.AfterFunc(s.opts.Retention, func() {
		s.mu.Lock()
		delete(s.records, id)
		s.mu.Unlock()
	})
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
