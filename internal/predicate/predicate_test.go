package predicate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NodeJSmith/hassette-go/internal/event"
	"github.com/NodeJSmith/hassette-go/internal/predicate"
)

func stateEvent(entityID, oldState, newState string) event.Event {
	var oldS, newS *event.State
	if oldState != "" {
		oldS = &event.State{EntityID: entityID, State: oldState}
	}
	if newState != "" {
		newS = &event.State{EntityID: entityID, State: newState}
	}
	return event.New(event.TopicStateChanged, event.StateChanged{
		EntityID: entityID, OldState: oldS, NewState: newS,
	})
}

func TestEntityIs(t *testing.T) {
	p := predicate.EntityIs("light.kitchen")
	require.True(t, p(stateEvent("light.kitchen", "off", "on")))
	require.False(t, p(stateEvent("light.bedroom", "off", "on")))
}

func TestDomainIs(t *testing.T) {
	p := predicate.DomainIs("light")
	assert.True(t, p(stateEvent("light.kitchen", "off", "on")))
	assert.False(t, p(stateEvent("switch.fan", "off", "on")))
}

func TestChanged(t *testing.T) {
	p := predicate.Changed()
	assert.True(t, p(stateEvent("light.kitchen", "off", "on")))
	assert.False(t, p(stateEvent("light.kitchen", "on", "on")))
}

func TestChangedFromTo(t *testing.T) {
	assert.True(t, predicate.ChangedFrom("off")(stateEvent("light.kitchen", "off", "on")))
	assert.False(t, predicate.ChangedFrom("on")(stateEvent("light.kitchen", "off", "on")))
	assert.True(t, predicate.ChangedTo("on")(stateEvent("light.kitchen", "off", "on")))
	assert.False(t, predicate.ChangedTo("off")(stateEvent("light.kitchen", "off", "on")))
}

func TestAttrChanged(t *testing.T) {
	e := event.New(event.TopicStateChanged, event.StateChanged{
		EntityID: "light.kitchen",
		OldState: &event.State{Attributes: map[string]any{"brightness": 100}},
		NewState: &event.State{Attributes: map[string]any{"brightness": 200}},
	})
	assert.True(t, predicate.AttrChanged("brightness")(e))
	assert.True(t, predicate.AttrChanged("brightness", predicate.From(100), predicate.To(200))(e))
	assert.False(t, predicate.AttrChanged("brightness", predicate.From(50))(e))
	assert.False(t, predicate.AttrChanged("color")(e))
}

func TestAllOfAnyOfNot(t *testing.T) {
	e := stateEvent("light.kitchen", "off", "on")
	assert.True(t, predicate.AllOf(predicate.EntityIs("light.kitchen"), predicate.Changed())(e))
	assert.False(t, predicate.AllOf(predicate.EntityIs("light.kitchen"), predicate.ChangedTo("off"))(e))
	assert.True(t, predicate.AnyOf(predicate.EntityIs("nope"), predicate.EntityIs("light.kitchen"))(e))
	assert.True(t, predicate.Not(predicate.EntityIs("nope"))(e))
	assert.False(t, predicate.Not(predicate.EntityIs("light.kitchen"))(e))
}

func TestWhereFoldsAndNilMeansNoFilter(t *testing.T) {
	assert.Nil(t, predicate.Where())
	e := stateEvent("light.kitchen", "off", "on")
	p := predicate.Where(predicate.EntityIs("light.kitchen"), predicate.Changed())
	require.NotNil(t, p)
	assert.True(t, p(e))
}

func TestGlobMatch(t *testing.T) {
	assert.True(t, predicate.GlobMatch("hass.event.*", "hass.event.state_changed"))
	assert.False(t, predicate.GlobMatch("hass.event.*", "hassette.event.service_status"))
	assert.True(t, predicate.IsGlob("hass.event.*"))
	assert.False(t, predicate.IsGlob("hass.event.state_changed"))
}

func TestPresentMissing(t *testing.T) {
	assert.True(t, predicate.Present(5))
	assert.False(t, predicate.Present(predicate.Sentinel))
	assert.True(t, predicate.Missing(predicate.Sentinel))
	assert.False(t, predicate.Missing(5))
}
