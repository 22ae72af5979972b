package hawebsocket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NodeJSmith/hassette-go/internal/event"
	"github.com/NodeJSmith/hassette-go/internal/hawebsocket"
)

// setupServer starts a test upstream that speaks the auth_required/auth/auth_ok
// handshake, reads the subscribe_events request without replying to it, then
// hands control to handler.
func setupServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth_required"}))

		var auth map[string]string
		require.NoError(t, conn.ReadJSON(&auth))
		require.Equal(t, "auth", auth["type"])

		require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth_ok"}))

		var sub map[string]any
		require.NoError(t, conn.ReadJSON(&sub))
		require.Equal(t, "subscribe_events", sub["type"])

		handler(conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type recordingPublisher struct {
	mu    sync.Mutex
	topic string
	event event.Payload
	seen  chan struct{}
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{seen: make(chan struct{}, 1)}
}

func (p *recordingPublisher) Publish(topic string, payload event.Payload) error {
	p.mu.Lock()
	p.topic, p.event = topic, payload
	p.mu.Unlock()
	select {
	case p.seen <- struct{}{}:
	default:
	}
	return nil
}

func (p *recordingPublisher) last() (string, event.Payload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.topic, p.event
}

func TestAuthenticatesAndTranslatesStateChanged(t *testing.T) {
	srv := setupServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{
			"type": "event",
			"event": map[string]any{
				"event_type": "state_changed",
				"data": map[string]any{
					"entity_id": "light.a",
					"new_state": map[string]any{"entity_id": "light.a", "state": "on"},
				},
			},
		})
		time.Sleep(50 * time.Millisecond)
	})
	defer srv.Close()

	pub := newRecordingPublisher()
	coll := hawebsocket.New(hawebsocket.Options{URL: wsURL(srv), Token: "t", Publisher: pub})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coll.Start(ctx)
	require.NoError(t, coll.WaitReady(ctx))

	select {
	case <-pub.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}

	topic, payload := pub.last()
	assert.Equal(t, event.TopicStateChanged, topic)
	sc, ok := payload.(event.StateChanged)
	require.True(t, ok)
	assert.Equal(t, "light.a", sc.EntityID)
	require.NotNil(t, sc.NewState)
	assert.Equal(t, "on", sc.NewState.State)

	require.NoError(t, coll.Shutdown(context.Background()))
}

func TestUnknownEventTypePassesThroughAsUserPayload(t *testing.T) {
	srv := setupServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{
			"type": "event",
			"event": map[string]any{
				"event_type": "automation_triggered",
				"data":       map[string]any{"name": "morning routine"},
			},
		})
		time.Sleep(50 * time.Millisecond)
	})
	defer srv.Close()

	pub := newRecordingPublisher()
	coll := hawebsocket.New(hawebsocket.Options{URL: wsURL(srv), Token: "t", Publisher: pub})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coll.Start(ctx)
	require.NoError(t, coll.WaitReady(ctx))

	select {
	case <-pub.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}

	topic, payload := pub.last()
	assert.Equal(t, "hass.event.automation_triggered", topic)
	up, ok := payload.(event.UserPayload)
	require.True(t, ok)
	assert.Equal(t, "morning routine", up.Data["name"])

	require.NoError(t, coll.Shutdown(context.Background()))
}

func TestBreakerStateStartsClosed(t *testing.T) {
	coll := hawebsocket.New(hawebsocket.Options{URL: "ws://example.invalid", Token: "t", Publisher: newRecordingPublisher()})
	assert.Equal(t, "closed", coll.BreakerState())
}
