package client

import "time"

// ExecuteRequest asks the daemon to run an allow-listed command.
type ExecuteRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// ExecuteResponse carries the opaque record id for a spawned process.
type ExecuteResponse struct {
	ID string `json:"id"`
}

// ProcessView mirrors the bridge's record projection.
type ProcessView struct {
	ID        string     `json:"id"`
	Command   string     `json:"command"`
	Args      []string   `json:"args"`
	Status    string     `json:"status"`
	Stdout    []string   `json:"stdout"`
	Stderr    []string   `json:"stderr"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
}

// ErrorResponse is the daemon's error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
