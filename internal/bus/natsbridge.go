//go:build natsbridge

// This file wires an optional external NATS transport alongside the bus's
// in-process Watermill gochannel ingress, gated behind the natsbridge build
// tag per hconfig.NATSBridgeConfig. Grounded on the teacher's
// internal/eventprocessor publisher.go/subscriber.go (Watermill-over-NATS
// wiring) and server.go (embedded single-instance NATS server) -- the same
// watermill-nats, nats.go, and nats-server packages, repurposed here to
// mirror one Hassette instance's bus onto an external subject instead of
// driving DuckDB/detection consumers.

package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	natsgo "github.com/nats-io/nats.go"
	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/NodeJSmith/hassette-go/internal/event"
)

// NATSBridgeOptions configures the bridge. An empty URL starts an embedded,
// single-instance NATS server instead of dialing an external one.
type NATSBridgeOptions struct {
	URL     string
	Subject string
	Logger  watermill.LoggerAdapter
}

// NATSBridge mirrors a Bus's published events onto an external NATS subject
// and forwards messages received on that subject back into the local Bus,
// so multiple Hassette instances (or an external integration) can share one
// event stream.
type NATSBridge struct {
	embedded   *natsserver.Server
	publisher  message.Publisher
	subscriber message.Subscriber
	subject    string
	bus        *Bus
}

// NewNATSBridge connects (or starts an embedded server and connects) and
// constructs the publisher/subscriber pair. Call Run to start forwarding.
func NewNATSBridge(b *Bus, opts NATSBridgeOptions) (*NATSBridge, error) {
	if opts.Subject == "" {
		return nil, fmt.Errorf("bus: natsbridge: subject is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	url := opts.URL
	var embedded *natsserver.Server
	if url == "" {
		srv, err := startEmbeddedServer()
		if err != nil {
			return nil, fmt.Errorf("bus: natsbridge: start embedded server: %w", err)
		}
		embedded = srv
		url = srv.ClientURL()
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(5),
		natsgo.ReconnectWait(time.Second),
	}

	pub, err := wmnats.NewPublisher(wmnats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmnats.NATSMarshaler{},
		JetStream:   wmnats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, fmt.Errorf("bus: natsbridge: new publisher: %w", err)
	}

	sub, err := wmnats.NewSubscriber(wmnats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: "hassette",
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmnats.NATSMarshaler{},
		JetStream:        wmnats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		_ = pub.Close()
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, fmt.Errorf("bus: natsbridge: new subscriber: %w", err)
	}

	return &NATSBridge{embedded: embedded, publisher: pub, subscriber: sub, subject: opts.Subject, bus: b}, nil
}

func startEmbeddedServer() (*natsserver.Server, error) {
	ns, err := natsserver.NewServer(&natsserver.Options{
		ServerName: "hassette",
		Host:       "127.0.0.1",
		Port:       -1,
		DontListen: false,
	})
	if err != nil {
		return nil, err
	}
	ns.ConfigureLogger()
	go ns.Start()
	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready within timeout")
	}
	return ns, nil
}

// Publish mirrors e onto the external subject. Called from the bus's own
// dispatch path for every locally-originated event once the bridge is wired
// in by the orchestrator.
func (n *NATSBridge) Publish(e event.Event) error {
	data, err := e.MarshalJSON()
	if err != nil {
		return fmt.Errorf("bus: natsbridge: marshal event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	return n.publisher.Publish(n.subject, msg)
}

// Run subscribes to the external subject and republishes every message onto
// the local bus until ctx is cancelled.
func (n *NATSBridge) Run(ctx context.Context) error {
	messages, err := n.subscriber.Subscribe(ctx, n.subject)
	if err != nil {
		return fmt.Errorf("bus: natsbridge: subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var e event.Event
			if err := e.UnmarshalJSON(msg.Payload); err != nil {
				n.bus.Logger().Error().Err(err).Msg("natsbridge: failed to decode message")
				msg.Ack()
				continue
			}
			msg.Ack()
			if err := n.bus.Publish(e.Topic, e.Payload); err != nil {
				n.bus.Logger().Error().Err(err).Msg("natsbridge: failed to republish onto local bus")
			}
		}
	}
}

// Close releases the publisher/subscriber and, if one was started, the
// embedded NATS server.
func (n *NATSBridge) Close() error {
	_ = n.publisher.Close()
	_ = n.subscriber.Close()
	if n.embedded != nil {
		n.embedded.Shutdown()
	}
	return nil
}
