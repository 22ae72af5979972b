//go:build !natsbridge

package bus

import (
	"context"
	"errors"

	"github.com/NodeJSmith/hassette-go/internal/event"
)

// NATSBridgeOptions configures the bridge, stubbed out for builds without
// the natsbridge tag.
type NATSBridgeOptions struct {
	URL     string
	Subject string
}

// NATSBridge is a stub for non-natsbridge builds: NewNATSBridge always
// errors so callers (the orchestrator, gated on cfg.NATSBridge.Enabled)
// fail loudly instead of silently running without the bridge they asked for.
type NATSBridge struct{}

func NewNATSBridge(b *Bus, opts NATSBridgeOptions) (*NATSBridge, error) {
	return nil, errNATSBridgeNotCompiled
}

func (n *NATSBridge) Publish(e event.Event) error   { return errNATSBridgeNotCompiled }
func (n *NATSBridge) Run(ctx context.Context) error { return errNATSBridgeNotCompiled }
func (n *NATSBridge) Close() error                  { return nil }

var errNATSBridgeNotCompiled = errors.New("bus: natsbridge support not compiled (build with -tags natsbridge)")
