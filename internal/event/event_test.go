package event_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NodeJSmith/hassette-go/internal/event"
)

func roundTrip(t *testing.T, e event.Event) event.Event {
	t.Helper()
	data, err := e.MarshalJSON()
	require.NoError(t, err)

	var got event.Event
	require.NoError(t, got.UnmarshalJSON(data))
	return got
}

func TestStateChangedRoundTrip(t *testing.T) {
	e := event.New(event.TopicStateChanged, event.StateChanged{
		EntityID: "light.kitchen",
		OldState: &event.State{EntityID: "light.kitchen", State: "off"},
		NewState: &event.State{EntityID: "light.kitchen", State: "on", Attributes: map[string]any{"brightness": float64(128)}},
	})

	got := roundTrip(t, e)
	assert.Equal(t, event.TopicStateChanged, got.Topic)
	sc, ok := got.Payload.(event.StateChanged)
	require.True(t, ok)
	assert.Equal(t, "light.kitchen", sc.EntityID)
	assert.Equal(t, "off", sc.OldState.State)
	assert.Equal(t, "on", sc.NewState.State)
	assert.InDelta(t, 128, sc.NewState.Attributes["brightness"], 0)
	assert.WithinDuration(t, e.Timestamp, got.Timestamp, time.Millisecond)
}

func TestCallServiceRoundTrip(t *testing.T) {
	e := event.New(event.TopicCallService, event.CallService{
		Domain: "light", Service: "turn_on", ServiceData: map[string]any{"entity_id": "light.kitchen"},
	})
	got := roundTrip(t, e)
	cs, ok := got.Payload.(event.CallService)
	require.True(t, ok)
	assert.Equal(t, "light", cs.Domain)
	assert.Equal(t, "turn_on", cs.Service)
}

func TestServiceStatusRoundTripWithError(t *testing.T) {
	e := event.New(event.TopicServiceStatus, event.ServiceStatus{
		ResourceName: "bus", Role: "core", Status: "failed", PreviousStatus: "starting",
		Err: errors.New("boom"),
	})
	got := roundTrip(t, e)
	ss, ok := got.Payload.(event.ServiceStatus)
	require.True(t, ok)
	assert.Equal(t, "failed", ss.Status)
	require.Error(t, ss.Err)
	assert.Equal(t, "boom", ss.Err.Error())
}

func TestServiceStatusRoundTripNoError(t *testing.T) {
	e := event.New(event.TopicServiceStatus, event.ServiceStatus{
		ResourceName: "bus", Role: "core", Status: "running", PreviousStatus: "starting",
	})
	got := roundTrip(t, e)
	ss, ok := got.Payload.(event.ServiceStatus)
	require.True(t, ok)
	assert.NoError(t, ss.Err)
}

func TestUserPayloadRoundTrip(t *testing.T) {
	e := event.New("my.custom.topic", event.UserPayload{Data: map[string]any{"foo": "bar"}})
	got := roundTrip(t, e)
	up, ok := got.Payload.(event.UserPayload)
	require.True(t, ok)
	assert.Equal(t, "bar", up.Data["foo"])
}

func TestAppLoadCompletedRoundTrip(t *testing.T) {
	e := event.New(event.TopicAppLoadCompleted, event.AppLoadCompleted{})
	got := roundTrip(t, e)
	assert.IsType(t, event.AppLoadCompleted{}, got.Payload)
}
