// Package metrics holds the Prometheus collectors of the dialer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the custom prometheus registry for the application.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// BatchesFormed counts batches placed by the scheduler.
var BatchesFormed = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "batches_formed_total",
	Help:      "Number of dialing batches formed",
})

// AttemptOutcomes counts attempts by the status they concluded with.
var AttemptOutcomes = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "attempt_outcomes_total",
	Help:      "Call attempts by terminal line status",
}, []string{"status"})

// Dispositions counts operator outcomes by tag.
var Dispositions = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "dispositions_total",
	Help:      "Dispositions recorded by tag",
}, []string{"tag"})

// LinesOccupied tracks non-idle lines per run.
var LinesOccupied = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "dialer",
	Name:      "lines_occupied",
	Help:      "Lines currently holding a call attempt",
}, []string{"run_id"})

// RunTransitions counts run state changes by target status.
var RunTransitions = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "run_transitions_total",
	Help:      "Run status transitions by target status",
}, []string{"status"})

// ActiveRuns tracks runs held by the manager.
var ActiveRuns = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "dialer",
	Name:      "active_runs",
	Help:      "Runs currently registered with the manager",
})

// PersistenceFailures counts failed non-blocking writes by operation.
var PersistenceFailures = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "persistence_failures_total",
	Help:      "Failed writes that did not block the run",
}, []string{"operation"})

// InvariantViolations counts internal bookkeeping errors.
var InvariantViolations = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "invariant_violations_total",
	Help:      "Internal invariant violations that forced a line release",
})

// EventsConsumed counts line events processed by the event worker.
var EventsConsumed = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "events_consumed_total",
	Help:      "Line events consumed from the event topic by result",
}, []string{"result"})

// RunsArchived counts finished runs evicted by the janitor.
var RunsArchived = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "runs_archived_total",
	Help:      "Finished runs archived and removed from memory",
})

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// RedisCommands observes lease command latency by command and result.
var RedisCommands = factory.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "dialer",
	Name:      "redis_command_seconds",
	Help:      "Latency of redis commands issued for list leases",
	Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
}, []string{"command", "result"})
