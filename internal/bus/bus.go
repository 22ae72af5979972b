// Package bus implements the central event dispatch loop: an in-process
// ingress transport (a Watermill gochannel Pub/Sub), the route table
// lookup, per-listener goroutine isolation, and the debounce/throttle rate
// limiters described in §4.4.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/NodeJSmith/hassette-go/internal/event"
	"github.com/NodeJSmith/hassette-go/internal/hlog"
	"github.com/NodeJSmith/hassette-go/internal/predicate"
	"github.com/NodeJSmith/hassette-go/internal/resource"
	"github.com/NodeJSmith/hassette-go/internal/router"
)

// ingressTopic is the single Watermill topic the bus's gochannel carries
// every (topic, event) pair over, per §4.4's "bounded multi-producer
// single-consumer channel" ingress description.
const ingressTopic = "hassette.ingress"

// ingressBuffer is the default capacity called for in §4.4.
const ingressBuffer = 1000

// Options configures a new Bus.
type Options struct {
	Logger *zerolog.Logger

	// JoinTimeout bounds how long the bus's shutdown waits for in-flight
	// listener goroutines to settle.
	JoinTimeout time.Duration

	// IngressBuffer overrides the ingress channel capacity (default 1000).
	IngressBuffer int

	// DropNoisySystemLogDebug toggles the hard-coded policy filter from
	// §4.4 step 2 / §9: drop call_service events targeting system_log at
	// debug level. Defaults to true; set false to see every event,
	// including the noisy ones, for debugging.
	DropNoisySystemLogDebug *bool
}

// Bus is the event bus service: a Resource (role core) whose Serve loop is
// the dispatch loop.
type Bus struct {
	*resource.Service

	pubsub *gochannel.GoChannel
	router *router.Router

	nextListenerID atomic.Int64
	dropNoisy      bool
}

// New constructs a Bus in NotStarted status. Call Start to begin
// dispatching.
func New(opts Options) *Bus {
	if opts.IngressBuffer == 0 {
		opts.IngressBuffer = ingressBuffer
	}
	dropNoisy := true
	if opts.DropNoisySystemLogDebug != nil {
		dropNoisy = *opts.DropNoisySystemLogDebug
	}

	log := hlog.Named("bus")
	if opts.Logger != nil {
		log = *opts.Logger
	}

	b := &Bus{
		router:    router.New(),
		dropNoisy: dropNoisy,
	}
	b.pubsub = gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: int64(opts.IngressBuffer)},
		watermillZerolog{log},
	)

	// The bus is its own Emitter: service-status events (including the
	// bus's own transitions) flow through the same ingress every other
	// event does. Safe to reference b here even though construction isn't
	// finished: Emit is never invoked until a caller later calls Start.
	b.Service = resource.NewService(resource.ServiceOptions{
		Options: resource.Options{
			ClassName:   "bus",
			Role:        resource.RoleCore,
			Emitter:     b,
			Logger:      &log,
			JoinTimeout: opts.JoinTimeout,
		},
		Serve: b.serve,
	})
	return b
}

// watermillZerolog adapts zerolog.Logger to watermill.LoggerAdapter so the
// gochannel Pub/Sub's internal diagnostics land in the same structured log
// stream as every other Hassette component instead of watermill's own
// stdlib-log-based default.
type watermillZerolog struct{ log zerolog.Logger }

func (w watermillZerolog) withFields(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}

func (w watermillZerolog) Error(msg string, err error, fields watermill.LogFields) {
	w.withFields(w.log.Error().Err(err), fields).Msg(msg)
}

func (w watermillZerolog) Info(msg string, fields watermill.LogFields) {
	w.withFields(w.log.Info(), fields).Msg(msg)
}

func (w watermillZerolog) Debug(msg string, fields watermill.LogFields) {
	w.withFields(w.log.Debug(), fields).Msg(msg)
}

func (w watermillZerolog) Trace(msg string, fields watermill.LogFields) {
	w.withFields(w.log.Trace(), fields).Msg(msg)
}

func (w watermillZerolog) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := w.log.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return watermillZerolog{ctx.Logger()}
}

// Emit implements resource.Emitter: every resource's lifecycle transition
// is published onto the bus exactly like any externally-sourced event.
func (b *Bus) Emit(e event.Event) {
	if err := b.publishEvent(e); err != nil {
		b.Logger().Debug().Err(err).Str("topic", e.Topic).Msg("failed to emit event")
	}
}

// Publish builds an Event from topic and payload and sends it through the
// ingress transport. Publish blocks if the ingress buffer is full, per the
// back-pressure policy in §4.4.
func (b *Bus) Publish(topic string, payload event.Payload) error {
	return b.publishEvent(event.New(topic, payload))
}

func (b *Bus) publishEvent(e event.Event) error {
	data, err := e.MarshalJSON()
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.pubsub.Publish(ingressTopic, msg); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	return nil
}

// Router exposes the route table for app-handler bulk owner cleanup and
// tests; production subscribers should prefer the On*/Subscription API.
func (b *Bus) Router() *router.Router { return b.router }

// serve is the Bus's Service loop: the single ingress consumer described in
// §4.4.
func (b *Bus) serve(ctx context.Context) error {
	messages, err := b.pubsub.Subscribe(ctx, ingressTopic)
	if err != nil {
		return fmt.Errorf("bus: subscribe ingress: %w", err)
	}
	b.MarkReady("ingress subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.handleMessage(ctx, msg)
		}
	}
}

func (b *Bus) handleMessage(ctx context.Context, msg *message.Message) {
	var e event.Event
	if err := e.UnmarshalJSON(msg.Payload); err != nil {
		b.Logger().Error().Err(err).Msg("failed to decode ingress message")
		msg.Ack()
		return
	}
	msg.Ack()

	if b.dropNoisy && isNoisySystemLogDebug(e) {
		return
	}

	listeners := b.router.GetMatchingListeners(e.Topic)
	for _, l := range listeners {
		l := l
		b.TaskBucket.Spawn(ctx, fmt.Sprintf("bus.dispatch.%s#%d", e.Topic, l.ID), func(ctx context.Context) error {
			return b.dispatchOne(ctx, l, e)
		})
	}
}

func (b *Bus) dispatchOne(ctx context.Context, l *router.Listener, e event.Event) error {
	if l.Predicate != nil && !l.Predicate(e) {
		return nil
	}
	return l.Handler(ctx, e)
}

// isNoisySystemLogDebug implements the deliberate, documented policy filter
// of §4.4 step 2 / §9: Home Assistant's system_log integration emits a
// call_service event for every log line, including debug noise that no
// Hassette app wants to see.
func isNoisySystemLogDebug(e event.Event) bool {
	if e.Topic != event.TopicCallService {
		return false
	}
	cs, ok := e.Payload.(event.CallService)
	if !ok || cs.Domain != "system_log" {
		return false
	}
	level, _ := cs.ServiceData["level"].(string)
	return level == "debug"
}

var errDebounceAndThrottle = errors.New("bus: debounce and throttle are mutually exclusive")
