package hassapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NodeJSmith/hassette-go/internal/hassapi"
)

func TestGetStates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/states", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"entity_id": "light.a", "state": "on"},
		})
	}))
	defer srv.Close()

	client := hassapi.New(hassapi.Options{BaseURL: srv.URL, Token: "test-token"})
	states, err := client.GetStates(t.Context())
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "light.a", states[0].EntityID)
	assert.Equal(t, "on", states[0].State)
}

func TestCallService(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	client := hassapi.New(hassapi.Options{BaseURL: srv.URL, Token: "t"})
	err := client.CallService(t.Context(), "light", "turn_on", map[string]any{"entity_id": "light.a"})
	require.NoError(t, err)
	assert.Equal(t, "/api/services/light/turn_on", gotPath)
	assert.Equal(t, "light.a", gotBody["entity_id"])
}

func TestCallServiceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom"}`))
	}))
	defer srv.Close()

	client := hassapi.New(hassapi.Options{BaseURL: srv.URL, Token: "t"})
	err := client.CallService(t.Context(), "light", "turn_on", nil)
	assert.Error(t, err)
}

func TestBreakerStateStartsClosed(t *testing.T) {
	client := hassapi.New(hassapi.Options{BaseURL: "http://example.invalid", Token: "t"})
	assert.Equal(t, "closed", client.BreakerState())
}
