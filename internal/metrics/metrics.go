package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	spawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shellcore",
			Subsystem: "supervisor",
			Name:      "spawns_total",
			Help:      "Number of successfully spawned commands.",
		}, []string{"command"},
	)
	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shellcore",
			Subsystem: "supervisor",
			Name:      "rejections_total",
			Help:      "Number of rejected execute requests by rejection kind.",
		}, []string{"kind"},
	)
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shellcore",
			Subsystem: "supervisor",
			Name:      "terminations_total",
			Help:      "Number of terminal transitions by final status.",
		}, []string{"status"},
	)
	forceKills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shellcore",
			Subsystem: "supervisor",
			Name:      "force_kills_total",
			Help:      "Number of escalations from graceful to forceful termination.",
		},
	)
	running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shellcore",
			Subsystem: "supervisor",
			Name:      "running_processes",
			Help:      "Current number of records in the Running state.",
		},
	)
	sidecarReady = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shellcore",
			Subsystem: "sidecar",
			Name:      "ready",
			Help:      "Sidecar readiness (1 = ready, 0 = starting or down).",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{spawns, rejections, terminations, forceKills, running, sidecarReady}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called so that library embedders
// who never wire metrics pay nothing.

func IncSpawn(command string) {
	if regOK.Load() {
		spawns.WithLabelValues(command).Inc()
	}
}

func IncRejection(kind string) {
	if regOK.Load() {
		rejections.WithLabelValues(kind).Inc()
	}
}

func IncTermination(status string) {
	if regOK.Load() {
		terminations.WithLabelValues(status).Inc()
	}
}

func IncForceKill() {
	if regOK.Load() {
		forceKills.Inc()
	}
}

func SetRunning(n int) {
	if regOK.Load() {
		running.Set(float64(n))
	}
}

func SetSidecarReady(name string, ready bool) {
	if !regOK.Load() {
		return
	}
	v := 0.0
	if ready {
		v = 1.0
	}
	sidecarReady.WithLabelValues(name).Set(v)
}
