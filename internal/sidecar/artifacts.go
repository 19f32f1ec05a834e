package sidecar

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Readiness values persisted in the status artifact.
const (
	StatusStarting = "starting"
	StatusReady    = "ready"
)

// Artifacts is the on-disk contract between the bootstrapper (single writer)
// and the application's startup sequencer (single reader): a pid file with a
// plain-text OS process id and a status file holding "starting" or "ready".
// Both live under one well-known directory and are removed on clean shutdown.
type Artifacts struct {
	Dir string
}

func (a Artifacts) pidPath(name string) string    { return filepath.Join(a.Dir, name+".pid") }
func (a Artifacts) statusPath(name string) string { return filepath.Join(a.Dir, name+".status") }

// WritePID persists the sidecar's OS pid. The directory is created on demand.
func (a Artifacts) WritePID(name string, pid int) error {
	if err := os.MkdirAll(a.Dir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(a.pidPath(name), []byte(strconv.Itoa(pid)), 0o600)
}

// ReadPID returns the recorded pid, or 0 with no error when no artifact exists.
func (a Artifacts) ReadPID(name string) (int, error) {
	b, err := os.ReadFile(a.pidPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", a.pidPath(name), err)
	}
	return pid, nil
}

// WriteStatus persists the readiness value for name.
func (a Artifacts) WriteStatus(name, status string) error {
	if err := os.MkdirAll(a.Dir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(a.statusPath(name), []byte(status), 0o600)
}

// ReadStatus returns the recorded readiness, or "" when no artifact exists.
func (a Artifacts) ReadStatus(name string) (string, error) {
	b, err := os.ReadFile(a.statusPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Remove deletes both artifacts for name, best-effort.
func (a Artifacts) Remove(name string) {
	_ = os.Remove(a.pidPath(name))
	_ = os.Remove(a.statusPath(name))
}
