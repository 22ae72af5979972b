// Package hmetrics exposes Prometheus instrumentation for the runtime:
// dispatch throughput, listener population, scheduler queue depth, app
// status, and service-watcher restarts. Adapted from the teacher's
// promauto-based metrics package, narrowed to this runtime's components.
package hmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsDispatched counts events the bus has delivered to a listener,
	// labeled by topic and outcome ("ok", "error", "panic").
	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hassette_events_dispatched_total",
			Help: "Total number of events dispatched to listeners",
		},
		[]string{"topic", "outcome"},
	)

	// ListenerDispatchDuration measures how long a single listener
	// invocation took, labeled by topic.
	ListenerDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hassette_listener_dispatch_duration_seconds",
			Help:    "Duration of a single listener invocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	// ListenersRegistered is the current number of active subscriptions
	// held by the router.
	ListenersRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hassette_listeners_registered",
			Help: "Current number of active event listeners",
		},
	)

	// SchedulerQueueDepth is the current number of pending jobs in the
	// scheduler's min-heap.
	SchedulerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hassette_scheduler_queue_depth",
			Help: "Current number of scheduled jobs pending execution",
		},
	)

	// SchedulerJobsRun counts completed scheduled job executions, labeled
	// by outcome ("ok", "error", "panic").
	SchedulerJobsRun = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hassette_scheduler_jobs_run_total",
			Help: "Total number of scheduled job executions",
		},
		[]string{"outcome"},
	)

	// SchedulerJobsBehindSchedule counts job executions that started more
	// than one second after their NextRun time.
	SchedulerJobsBehindSchedule = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hassette_scheduler_jobs_behind_schedule_total",
			Help: "Total number of scheduled job executions that started more than 1s late",
		},
	)

	// AppStatus reports each app instance's resource status as a gauge
	// (1 for the active status label, 0 otherwise), mirroring the
	// teacher's enum-as-labeled-gauge pattern for connection state.
	AppStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hassette_app_status",
			Help: "Current resource status of each app instance (1=active label, 0=otherwise)",
		},
		[]string{"app", "status"},
	)

	// ServiceRestarts counts service-watcher-initiated restarts, labeled
	// by service name and role.
	ServiceRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hassette_service_restarts_total",
			Help: "Total number of service restarts initiated by the service watcher",
		},
		[]string{"name", "role"},
	)

	// WebsocketConnected is 1 when the websocket collaborator holds a
	// live, authenticated connection, else 0.
	WebsocketConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hassette_websocket_connected",
			Help: "Whether the websocket collaborator is currently connected (1) or not (0)",
		},
	)

	// CircuitBreakerState reports each named circuit breaker's state as a
	// labeled gauge (1 for the active state label, 0 otherwise).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hassette_circuit_breaker_state",
			Help: "Current state of each circuit breaker (1=active label, 0=otherwise)",
		},
		[]string{"name", "state"},
	)
)

// SetAppStatus records status as the one active status label for app,
// zeroing the other known statuses so stale gauges don't linger.
func SetAppStatus(app, status string, knownStatuses []string) {
	for _, s := range knownStatuses {
		if s == status {
			AppStatus.WithLabelValues(app, s).Set(1)
		} else {
			AppStatus.WithLabelValues(app, s).Set(0)
		}
	}
}

// SetCircuitBreakerState records state as the one active state label for
// name ("closed", "half-open", "open"), zeroing the others.
func SetCircuitBreakerState(name, state string) {
	for _, s := range []string{"closed", "half-open", "open"} {
		if s == state {
			CircuitBreakerState.WithLabelValues(name, s).Set(1)
		} else {
			CircuitBreakerState.WithLabelValues(name, s).Set(0)
		}
	}
}
