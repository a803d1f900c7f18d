// Package event provides the in-process pub/sub bus that fans server-side
// state changes out to SSE clients, built on watermill's gochannel pub/sub.
package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/agentdeck/agentdeck/internal/logging"
)

// Type names an event kind.
type Type string

const (
	SessionCreated Type = "session.created"
	SessionUpdated Type = "session.updated"
	SessionDeleted Type = "session.deleted"
	MessageCreated Type = "message.created"
	MessageUpdated Type = "message.updated"
	QueueUpdated   Type = "queue.updated"
	FileEdited     Type = "file.edited"
)

// eventsTopic is the single gochannel topic every event flows through.
const eventsTopic = "agentdeck.events"

// metaType is the message metadata key carrying the event type.
const metaType = "type"

// Event is one published event.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// Subscriber receives events.
type Subscriber func(event Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus manages pub/sub. Async publishes travel through a watermill gochannel
// as JSON messages; a dispatch loop decodes them back into typed payloads and
// fans out to subscribers in publish order.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[Type][]subscriberEntry
	global      []subscriberEntry

	nextID uint64
	closed bool
	cancel context.CancelFunc
	log    zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		subscribers: make(map[Type][]subscriberEntry),
		cancel:      cancel,
		log:         logging.For("event"),
	}

	messages, err := b.pubsub.Subscribe(ctx, eventsTopic)
	if err != nil {
		// A fresh gochannel only refuses subscriptions after Close.
		b.log.Error().Err(err).Msg("event dispatch subscription failed")
		return b
	}
	go b.dispatch(messages)
	return b
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for one event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(t Type, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.subscribers[t] = append(b.subscribers[t], subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribe(t, id)
	}
}

// SubscribeAll registers a subscriber for every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribeGlobal(id)
	}
}

func (b *Bus) unsubscribe(t Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[t]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[t] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			break
		}
	}
}

// collect gathers the subscribers that should receive an event.
func (b *Bus) collect(t Type) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	subs := make([]Subscriber, 0, len(b.subscribers[t])+len(b.global))
	for _, entry := range b.subscribers[t] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	return subs
}

// Publish sends an event to all subscribers asynchronously, in publish
// order. The payload is JSON on the wire, so subscribers see a decoded copy,
// never the publisher's value.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	payload, err := json.Marshal(event.Data)
	if err != nil {
		b.log.Error().Err(err).Str("type", string(event.Type)).Msg("event payload not serializable")
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metaType, string(event.Type))
	if err := b.pubsub.Publish(eventsTopic, msg); err != nil {
		b.log.Error().Err(err).Str("type", string(event.Type)).Msg("event publish failed")
	}
}

// PublishSync sends an event to all subscribers in the calling goroutine,
// bypassing the channel. Used by tests that need deterministic delivery.
func (b *Bus) PublishSync(event Event) {
	for _, sub := range b.collect(event.Type) {
		sub(event)
	}
}

// dispatch drains the gochannel subscription, decoding each message back
// into its typed payload and fanning it out. Subscribers must not block;
// slow consumers buffer and drop on their side.
func (b *Bus) dispatch(messages <-chan *message.Message) {
	for msg := range messages {
		t := Type(msg.Metadata.Get(metaType))
		data, err := decodePayload(t, msg.Payload)
		if err != nil {
			b.log.Error().Err(err).Str("type", string(t)).Msg("event payload not decodable")
			msg.Ack()
			continue
		}

		for _, sub := range b.collect(t) {
			sub(Event{Type: t, Data: data})
		}
		msg.Ack()
	}
}

// decodePayload maps an event type back to its concrete payload struct.
// Unknown types pass through as raw JSON.
func decodePayload(t Type, payload []byte) (any, error) {
	switch t {
	case SessionCreated:
		return unmarshalAs[SessionCreatedData](payload)
	case SessionUpdated:
		return unmarshalAs[SessionUpdatedData](payload)
	case SessionDeleted:
		return unmarshalAs[SessionDeletedData](payload)
	case MessageCreated:
		return unmarshalAs[MessageCreatedData](payload)
	case MessageUpdated:
		return unmarshalAs[MessageUpdatedData](payload)
	case QueueUpdated:
		return unmarshalAs[QueueUpdatedData](payload)
	case FileEdited:
		return unmarshalAs[FileEditedData](payload)
	default:
		return json.RawMessage(payload), nil
	}
}

func unmarshalAs[T any](payload []byte) (any, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Close shuts down the bus and drops all subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.cancel()
	b.subscribers = make(map[Type][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}
