package supervisor

import (
	"os/exec"
	"time"
)

// Status is the lifecycle state of a supervised process record.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether s is a final state. A record in a terminal state
// never transitions again.
func (s Status) Terminal() bool { return s != StatusRunning && s != "" }

// Record is the externally visible snapshot of one supervised process.
// Command and Args hold the validated values actually executed, never the
// raw caller input. Stdout/Stderr are sanitized, append-only line sequences.
type Record struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Args      []string  `json:"args"`
	Status    Status    `json:"status"`
	Stdout    []string  `json:"stdout"`
	Stderr    []string  `json:"stderr"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	PID       int       `json:"-"` // valid only while Running; never serialized
}

// record is the registry entry. It is owned exclusively by the Supervisor and
// mutated only under the Supervisor mutex; callers only ever see copies.
type record struct {
	Record

	cmd      *exec.Cmd
	waitDone chan struct{} // closed once the waiter goroutine has finalized

	// pending holds the terminal status claimed by an explicit cancel or a
	// runtime timeout. It wins the race against the natural exit status.
	pending Status

	killTimer    *time.Timer // graceful->forceful escalation, one per termination
	runtimeTimer *time.Timer // max-runtime guard
	evictTimer   *time.Timer // retention eviction after a terminal transition
}

// snapshot copies the public view with cloned slices so registry state can
// never be mutated through a returned Record.
func (r *record) snapshot() Record {
	out := r.Record
	out.Args = append([]string(nil), r.Args...)
	out.Stdout = append([]string(nil), r.Stdout...)
	out.Stderr = append([]string(nil), r.Stderr...)
	if r.ExitCode != nil {
		c := *r.ExitCode
		out.ExitCode = &c
	}
	return out
}

func (r *record) stopTimers() {
	if r.killTimer != nil {
		r.killTimer.Stop()
		r.killTimer = nil
	}
	if r.runtimeTimer != nil {
		r.runtimeTimer.Stop()
		r.runtimeTimer = nil
	}
}
