// Package shellcore is the process-orchestration core of the Deskwright
// desktop shell: it validates and supervises on-demand CLI commands on behalf
// of the untrusted UI process, bootstraps the long-running sidecar services,
// and exposes the supervisor to the UI through a constrained HTTP/websocket
// bridge.
package shellcore

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/deskwright/shellcore/internal/bridge"
	cfg "github.com/deskwright/shellcore/internal/config"
	"github.com/deskwright/shellcore/internal/env"
	"github.com/deskwright/shellcore/internal/metrics"
	"github.com/deskwright/shellcore/internal/sidecar"
	"github.com/deskwright/shellcore/internal/supervisor"
	"github.com/deskwright/shellcore/internal/validate"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Record = supervisor.Record

type Status = supervisor.Status

type Event = supervisor.Event

type EventType = supervisor.EventType

const (
	EventOutput = supervisor.EventOutput
	EventExit   = supervisor.EventExit
	EventError  = supervisor.EventError
)

type Options = supervisor.Options

type SidecarSpec = sidecar.Spec

type Config = cfg.Config

var (
	ErrNotFound   = supervisor.ErrNotFound
	ErrNotRunning = supervisor.ErrNotRunning
	ErrShutdown   = supervisor.ErrShutdown
)

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

func New(opts Options) *Supervisor {
	return &Supervisor{inner: supervisor.New(opts)}
}

func (s *Supervisor) Spawn(command string, args []string) (string, error) {
	return s.inner.Spawn(command, args)
}
func (s *Supervisor) Cancel(id string) error          { return s.inner.Cancel(id) }
func (s *Supervisor) Status(id string) (Record, bool) { return s.inner.Status(id) }
func (s *Supervisor) List() []Record                  { return s.inner.List() }
func (s *Supervisor) Running() int                    { return s.inner.Running() }
func (s *Supervisor) Cleanup()                        { s.inner.Cleanup() }
func (s *Supervisor) CleanupDone() bool               { return s.inner.CleanupDone() }
func (s *Supervisor) Subscribe() (<-chan Event, func()) {
	return s.inner.Subscribe()
}

// Commands returns the closed command allow-list.
func Commands() []string { return validate.Commands() }

// Bootstrapper facade over the sidecar bootstrapper.
type Bootstrapper struct{ inner *sidecar.Bootstrapper }

func NewBootstrapper(artifactDir string, globalEnv []string, grace time.Duration) *Bootstrapper {
	e := env.New()
	e.SetAll(globalEnv)
	return &Bootstrapper{inner: sidecar.NewBootstrapper(artifactDir, e, grace, nil)}
}

func (b *Bootstrapper) Start(specs ...SidecarSpec) { b.inner.Start(specs...) }
func (b *Bootstrapper) WaitReady(names []string, timeout time.Duration) bool {
	return b.inner.WaitReady(names, timeout)
}
func (b *Bootstrapper) Shutdown() { b.inner.Shutdown() }

// LoadConfig loads the daemon configuration file plus environment overrides.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHTTPServer starts an HTTP server exposing the bridge API for the given
// supervisor.
func NewHTTPServer(addr, basePath string, s *Supervisor) (*http.Server, error) {
	return bridge.NewServer(addr, basePath, s.inner)
}

// RegisterMetrics registers shellcore's Prometheus collectors.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
