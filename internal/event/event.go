// Package event defines the wire vocabulary that flows through the bus:
// topics, the tagged-union payload types, and the immutable Event envelope.
package event

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Topic is a wire vocabulary constant. Topics may be matched exactly or via
// glob patterns containing '*', '?', or '['.
const (
	TopicStateChanged      = "hass.event.state_changed"
	TopicCallService       = "hass.event.call_service"
	TopicComponentLoaded   = "hass.event.component_loaded"
	TopicServiceRegistered = "hass.event.service_registered"
	TopicServiceStatus     = "hassette.event.service_status"
	TopicFileWatcher       = "hassette.event.file_watcher"
	TopicAppLoadCompleted  = "hassette.event.app_load_completed"
)

// Payload is implemented by every concrete event payload. It carries no
// behavior; it exists so Event.Payload can hold a closed set of shapes
// instead of bare interface{}.
type Payload interface {
	payload()
}

// Event is an immutable value object dispatched by the bus. Equality is
// structural; no identity is observable beyond field values.
type Event struct {
	Topic     string
	Payload   Payload
	Timestamp time.Time
}

// New builds an Event, stamping it with the current time.
func New(topic string, payload Payload) Event {
	return Event{Topic: topic, Payload: payload, Timestamp: time.Now()}
}

// kind is the wire discriminator for Payload's closed set of concrete
// types, used by MarshalJSON/UnmarshalJSON since the bus's ingress
// transport (an in-process Watermill gochannel, §4.4) still moves messages
// as bytes rather than live Go values.
type kind string

const (
	kindStateChanged      kind = "state_changed"
	kindCallService       kind = "call_service"
	kindComponentLoaded   kind = "component_loaded"
	kindServiceRegistered kind = "service_registered"
	kindServiceStatus     kind = "service_status"
	kindFileWatcher       kind = "file_watcher"
	kindAppLoadCompleted  kind = "app_load_completed"
	kindUserPayload       kind = "user_payload"
)

func kindOf(p Payload) kind {
	switch p.(type) {
	case StateChanged:
		return kindStateChanged
	case CallService:
		return kindCallService
	case ComponentLoaded:
		return kindComponentLoaded
	case ServiceRegistered:
		return kindServiceRegistered
	case ServiceStatus:
		return kindServiceStatus
	case FileWatcher:
		return kindFileWatcher
	case AppLoadCompleted:
		return kindAppLoadCompleted
	default:
		return kindUserPayload
	}
}

type wireEnvelope struct {
	Topic     string          `json:"topic"`
	Kind      kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// wireServiceStatus mirrors ServiceStatus but with Err flattened to a
// string, since error does not round-trip through encoding/json or
// goccy/go-json on its own.
type wireServiceStatus struct {
	ResourceName   string `json:"resource_name"`
	Role           string `json:"role"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status"`
	Err            string `json:"err,omitempty"`
}

// MarshalJSON encodes the event as a {topic, kind, payload, timestamp}
// envelope so the bus's ingress transport can carry it as bytes.
func (e Event) MarshalJSON() ([]byte, error) {
	var raw any = e.Payload
	if ss, ok := e.Payload.(ServiceStatus); ok {
		w := wireServiceStatus{
			ResourceName:   ss.ResourceName,
			Role:           ss.Role,
			Status:         ss.Status,
			PreviousStatus: ss.PreviousStatus,
		}
		if ss.Err != nil {
			w.Err = ss.Err.Error()
		}
		raw = w
	}
	payloadBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("event: marshal payload: %w", err)
	}
	return json.Marshal(wireEnvelope{
		Topic:     e.Topic,
		Kind:      kindOf(e.Payload),
		Payload:   payloadBytes,
		Timestamp: e.Timestamp,
	})
}

// UnmarshalJSON decodes an envelope produced by MarshalJSON, reconstructing
// the correct concrete Payload type from the kind discriminator.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("event: unmarshal envelope: %w", err)
	}

	var payload Payload
	switch env.Kind {
	case kindStateChanged:
		var p StateChanged
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("event: unmarshal state_changed: %w", err)
		}
		payload = p
	case kindCallService:
		var p CallService
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("event: unmarshal call_service: %w", err)
		}
		payload = p
	case kindComponentLoaded:
		var p ComponentLoaded
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("event: unmarshal component_loaded: %w", err)
		}
		payload = p
	case kindServiceRegistered:
		var p ServiceRegistered
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("event: unmarshal service_registered: %w", err)
		}
		payload = p
	case kindServiceStatus:
		var w wireServiceStatus
		if err := json.Unmarshal(env.Payload, &w); err != nil {
			return fmt.Errorf("event: unmarshal service_status: %w", err)
		}
		p := ServiceStatus{
			ResourceName:   w.ResourceName,
			Role:           w.Role,
			Status:         w.Status,
			PreviousStatus: w.PreviousStatus,
		}
		if w.Err != "" {
			p.Err = fmt.Errorf("%s", w.Err)
		}
		payload = p
	case kindFileWatcher:
		var p FileWatcher
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("event: unmarshal file_watcher: %w", err)
		}
		payload = p
	case kindAppLoadCompleted:
		payload = AppLoadCompleted{}
	default:
		var p UserPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("event: unmarshal user_payload: %w", err)
		}
		payload = p
	}

	e.Topic = env.Topic
	e.Payload = payload
	e.Timestamp = env.Timestamp
	return nil
}

// StateChanged is the payload for TopicStateChanged.
type StateChanged struct {
	EntityID string
	OldState *State
	NewState *State
}

func (StateChanged) payload() {}

// State is a minimal entity state snapshot. Per-domain attribute shapes are
// out of scope for the core; Attributes carries whatever the upstream sent.
type State struct {
	EntityID   string
	State      string
	Attributes map[string]any
	LastChange time.Time
}

// CallService is the payload for TopicCallService.
type CallService struct {
	Domain      string
	Service     string
	ServiceData map[string]any
}

func (CallService) payload() {}

// ComponentLoaded is the payload for TopicComponentLoaded.
type ComponentLoaded struct {
	Component string
}

func (ComponentLoaded) payload() {}

// ServiceRegistered is the payload for TopicServiceRegistered.
type ServiceRegistered struct {
	Domain  string
	Service string
}

func (ServiceRegistered) payload() {}

// ServiceStatus is the payload for TopicServiceStatus, emitted on every
// resource lifecycle transition.
type ServiceStatus struct {
	ResourceName   string
	Role           string
	Status         string
	PreviousStatus string
	Err            error
}

func (ServiceStatus) payload() {}

// FileWatcher is the payload for TopicFileWatcher.
type FileWatcher struct {
	EventType    string
	ChangedPaths []string
}

func (FileWatcher) payload() {}

// AppLoadCompleted is the payload for TopicAppLoadCompleted.
type AppLoadCompleted struct{}

func (AppLoadCompleted) payload() {}

// UserPayload is the opaque escape hatch for user-defined event payloads.
type UserPayload struct {
	Data map[string]any
}

func (UserPayload) payload() {}
