// Package hassapi implements the REST API collaborator: the upstream's
// HTTP surface for a full state resync (used by the state proxy) and
// service calls (used by apps), per §6.
package hassapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/NodeJSmith/hassette-go/internal/event"
	"github.com/NodeJSmith/hassette-go/internal/hacircuit"
)

// Client is the REST collaborator. It carries no Resource lifecycle of its
// own: it is a stateless HTTP facade consumed by the state proxy and by
// user apps, wrapped in a circuit breaker so a degraded upstream fails fast.
type Client struct {
	baseURL string
	token   string
	http    *http.Client

	breaker *gobreaker.CircuitBreaker[any]
}

// Options configures a new Client.
type Options struct {
	BaseURL string
	Token   string
	// HTTPClient overrides the default client (default: 10s timeout).
	HTTPClient *http.Client
	Breaker    hacircuit.Config
}

// New constructs a REST API client.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	cfg := opts.Breaker
	if cfg.Name == "" {
		cfg = hacircuit.DefaultConfig("hassapi")
	}
	return &Client{
		baseURL: opts.BaseURL,
		token:   opts.Token,
		http:    httpClient,
		breaker: hacircuit.New[any](cfg),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("hassapi: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("hassapi: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hassapi: request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("hassapi: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("hassapi: %s %s returned %d: %s", method, path, resp.StatusCode, string(data))
	}
	return data, nil
}

// GetStates fetches the full authoritative entity-state snapshot, used by
// the state proxy's reconnect resync.
func (c *Client) GetStates(ctx context.Context) ([]event.State, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		data, err := c.do(ctx, http.MethodGet, "/api/states", nil)
		if err != nil {
			return nil, err
		}
		var wire []struct {
			EntityID   string         `json:"entity_id"`
			State      string         `json:"state"`
			Attributes map[string]any `json:"attributes"`
		}
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("hassapi: decode states: %w", err)
		}
		states := make([]event.State, 0, len(wire))
		for _, w := range wire {
			states = append(states, event.State{EntityID: w.EntityID, State: w.State, Attributes: w.Attributes})
		}
		return states, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]event.State), nil
}

// CallService invokes a Home Assistant service. Used by apps to act on the
// world.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	_, err := c.breaker.Execute(func() (any, error) {
		return c.do(ctx, http.MethodPost, path, data)
	})
	return err
}

// BreakerState reports the circuit breaker's current state, for health/metrics.
func (c *Client) BreakerState() string { return hacircuit.State(c.breaker) }
