// Package hawebsocket implements the websocket collaborator: a client
// connection to the upstream's websocket API, authenticating, subscribing
// to events, and forwarding decoded (topic, event) pairs into the bus's
// ingress transport. Adapted from the teacher's websocket.Client
// read/write pump pair, which pumps the other direction (hub to browser);
// here the same deadline/ping discipline governs an outbound dial instead
// of an accepted connection.
package hawebsocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/NodeJSmith/hassette-go/internal/event"
	"github.com/NodeJSmith/hassette-go/internal/hacircuit"
	"github.com/NodeJSmith/hassette-go/internal/hlog"
	"github.com/NodeJSmith/hassette-go/internal/resource"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Publisher is the subset of bus.Bus the collaborator needs: publish a
// decoded event onto the ingress transport. Declared locally to avoid a
// hawebsocket -> bus import cycle (bus does not depend on hawebsocket).
type Publisher interface {
	Publish(topic string, payload event.Payload) error
}

// Options configures a new Collaborator.
type Options struct {
	URL   string // e.g. ws://homeassistant.local:8123/api/websocket
	Token string

	Publisher Publisher
	Dialer    *websocket.Dialer
	Logger    *zerolog.Logger
	Emitter   resource.Emitter
	Breaker   hacircuit.Config

	JoinTimeout time.Duration
}

// inboundMessage is the subset of the upstream websocket protocol envelope
// this collaborator understands.
type inboundMessage struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

type inboundEvent struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

type stateChangedData struct {
	EntityID string     `json:"entity_id"`
	OldState *wireState `json:"old_state"`
	NewState *wireState `json:"new_state"`
}

type wireState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// Collaborator is the websocket resource (role resource): it owns the
// connection, authenticates, subscribes to all events, and republishes
// them onto the bus.
type Collaborator struct {
	*resource.Service

	url     string
	token   string
	pub     Publisher
	dialer  *websocket.Dialer
	breaker *gobreaker.CircuitBreaker[*websocket.Conn]

	connected atomic.Bool
	nextMsgID atomic.Int64
}

// New constructs a websocket Collaborator in NotStarted status.
func New(opts Options) *Collaborator {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	cfg := opts.Breaker
	if cfg.Name == "" {
		cfg = hacircuit.DefaultConfig("hawebsocket")
	}

	log := hlog.Named("hawebsocket")
	if opts.Logger != nil {
		log = *opts.Logger
	}

	c := &Collaborator{
		url:     opts.URL,
		token:   opts.Token,
		pub:     opts.Publisher,
		dialer:  dialer,
		breaker: hacircuit.New[*websocket.Conn](cfg),
	}

	c.Service = resource.NewService(resource.ServiceOptions{
		Options: resource.Options{
			ClassName:   "websocket",
			Role:        resource.RoleResource,
			Emitter:     opts.Emitter,
			Logger:      &log,
			JoinTimeout: opts.JoinTimeout,
		},
		Serve: c.serve,
	})
	return c
}

// Connected reports whether the collaborator currently holds a live,
// authenticated connection.
func (c *Collaborator) Connected() bool { return c.connected.Load() }

// serve dials, authenticates, subscribes, and reads until ctx is cancelled
// or the connection drops, reconnecting with the circuit breaker guarding
// the dial itself so a down upstream fails fast instead of retry-storming.
func (c *Collaborator) serve(ctx context.Context) error {
	c.MarkReady("serving")

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := c.connect(ctx)
		if err != nil {
			c.Logger().Warn().Err(err).Msg("websocket connect failed, backing off")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
			continue
		}

		c.connected.Store(true)
		c.runConnection(ctx, conn)
		c.connected.Store(false)
	}
}

func (c *Collaborator) connect(ctx context.Context) (*websocket.Conn, error) {
	return c.breaker.Execute(func() (*websocket.Conn, error) {
		conn, _, err := c.dialer.DialContext(ctx, c.url, http.Header{})
		if err != nil {
			return nil, fmt.Errorf("hawebsocket: dial: %w", err)
		}
		if err := c.authenticate(conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
		if err := c.subscribeEvents(conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	})
}

func (c *Collaborator) authenticate(conn *websocket.Conn) error {
	var hello inboundMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("hawebsocket: read auth_required: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("hawebsocket: expected auth_required, got %q", hello.Type)
	}

	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": c.token}); err != nil {
		return fmt.Errorf("hawebsocket: send auth: %w", err)
	}

	var authResult inboundMessage
	if err := conn.ReadJSON(&authResult); err != nil {
		return fmt.Errorf("hawebsocket: read auth result: %w", err)
	}
	if authResult.Type != "auth_ok" {
		return fmt.Errorf("hawebsocket: authentication failed: %q", authResult.Type)
	}
	return nil
}

func (c *Collaborator) subscribeEvents(conn *websocket.Conn) error {
	id := c.nextMsgID.Add(1)
	return conn.WriteJSON(map[string]any{"id": id, "type": "subscribe_events"})
}

func (c *Collaborator) runConnection(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	go c.pingLoop(connCtx, conn)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				c.Logger().Warn().Err(err).Msg("websocket read failed, reconnecting")
			}
			return
		}
		if msg.Type != "event" || len(msg.Event) == 0 {
			continue
		}
		c.handleEvent(msg.Event)
	}
}

func (c *Collaborator) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Collaborator) handleEvent(raw json.RawMessage) {
	var ev inboundEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.Logger().Debug().Err(err).Msg("failed to decode websocket event envelope")
		return
	}

	topic, payload, ok := c.translate(ev)
	if !ok {
		return
	}
	if err := c.pub.Publish(topic, payload); err != nil {
		c.Logger().Debug().Err(err).Str("topic", topic).Msg("failed to publish websocket event")
	}
}

func (c *Collaborator) translate(ev inboundEvent) (string, event.Payload, bool) {
	switch ev.EventType {
	case "state_changed":
		var data stateChangedData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return "", nil, false
		}
		return event.TopicStateChanged, event.StateChanged{
			EntityID: data.EntityID,
			OldState: toState(data.OldState),
			NewState: toState(data.NewState),
		}, true
	case "call_service":
		var data struct {
			Domain      string         `json:"domain"`
			Service     string         `json:"service"`
			ServiceData map[string]any `json:"service_data"`
		}
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return "", nil, false
		}
		return event.TopicCallService, event.CallService{
			Domain: data.Domain, Service: data.Service, ServiceData: data.ServiceData,
		}, true
	case "component_loaded":
		var data struct {
			Component string `json:"component"`
		}
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return "", nil, false
		}
		return event.TopicComponentLoaded, event.ComponentLoaded{Component: data.Component}, true
	case "service_registered":
		var data struct {
			Domain  string `json:"domain"`
			Service string `json:"service"`
		}
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return "", nil, false
		}
		return event.TopicServiceRegistered, event.ServiceRegistered{Domain: data.Domain, Service: data.Service}, true
	default:
		var data map[string]any
		_ = json.Unmarshal(ev.Data, &data)
		return "hass.event." + ev.EventType, event.UserPayload{Data: data}, true
	}
}

func toState(w *wireState) *event.State {
	if w == nil {
		return nil
	}
	return &event.State{EntityID: w.EntityID, State: w.State, Attributes: w.Attributes, LastChange: time.Now()}
}

// BreakerState reports the dial breaker's current state, for health/metrics.
func (c *Collaborator) BreakerState() string { return hacircuit.State(c.breaker) }
