package hmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetAppStatusExclusivity(t *testing.T) {
	known := []string{"starting", "running", "stopped"}
	SetAppStatus("kitchen_lights", "running", known)

	if got := testutil.ToFloat64(AppStatus.WithLabelValues("kitchen_lights", "running")); got != 1 {
		t.Errorf("running = %v, want 1", got)
	}
	if got := testutil.ToFloat64(AppStatus.WithLabelValues("kitchen_lights", "starting")); got != 0 {
		t.Errorf("starting = %v, want 0", got)
	}
	if got := testutil.ToFloat64(AppStatus.WithLabelValues("kitchen_lights", "stopped")); got != 0 {
		t.Errorf("stopped = %v, want 0", got)
	}

	SetAppStatus("kitchen_lights", "stopped", known)
	if got := testutil.ToFloat64(AppStatus.WithLabelValues("kitchen_lights", "running")); got != 0 {
		t.Errorf("after transition, running = %v, want 0", got)
	}
	if got := testutil.ToFloat64(AppStatus.WithLabelValues("kitchen_lights", "stopped")); got != 1 {
		t.Errorf("after transition, stopped = %v, want 1", got)
	}
}

func TestSetCircuitBreakerStateExclusivity(t *testing.T) {
	SetCircuitBreakerState("hass-api", "open")

	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("hass-api", "open")); got != 1 {
		t.Errorf("open = %v, want 1", got)
	}
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("hass-api", "closed")); got != 0 {
		t.Errorf("closed = %v, want 0", got)
	}

	SetCircuitBreakerState("hass-api", "closed")
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("hass-api", "open")); got != 0 {
		t.Errorf("after recovery, open = %v, want 0", got)
	}
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("hass-api", "closed")); got != 1 {
		t.Errorf("after recovery, closed = %v, want 1", got)
	}
}

func TestCountersAndHistogramsRecord(t *testing.T) {
	EventsDispatched.WithLabelValues("hass.event.state_changed", "ok").Inc()
	if got := testutil.ToFloat64(EventsDispatched.WithLabelValues("hass.event.state_changed", "ok")); got < 1 {
		t.Errorf("EventsDispatched = %v, want >= 1", got)
	}

	ListenerDispatchDuration.WithLabelValues("hass.event.state_changed").Observe(0.01)

	SchedulerQueueDepth.Set(3)
	if got := testutil.ToFloat64(SchedulerQueueDepth); got != 3 {
		t.Errorf("SchedulerQueueDepth = %v, want 3", got)
	}

	ServiceRestarts.WithLabelValues("websocket", "service").Inc()
	if got := testutil.ToFloat64(ServiceRestarts.WithLabelValues("websocket", "service")); got < 1 {
		t.Errorf("ServiceRestarts = %v, want >= 1", got)
	}
}
