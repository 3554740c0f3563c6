package feed

import (
	"context"
	"time"
)

// Mode identifies how a trigger consumes Redis.
type Mode string

const (
	ModeChannel Mode = "subscribe"
	ModePattern Mode = "psubscribe"
	ModeStream  Mode = "stream"
)

// DefaultCursor asks Redis for entries strictly newer than the moment the
// read is issued.
const DefaultCursor = "$"

// DisableStatusUnspecified is passed to DisableTrigger for runtime faults.
const DisableStatusUnspecified = 0

// Details describes a trigger subscription. Exactly one of Subscribe,
// PSubscribe and Stream must be set.
type Details struct {
	URL        string `json:"url" msgpack:"url"`
	Subscribe  string `json:"subscribe,omitempty" msgpack:"subscribe,omitempty"`
	PSubscribe string `json:"psubscribe,omitempty" msgpack:"psubscribe,omitempty"`
	Stream     string `json:"stream,omitempty" msgpack:"stream,omitempty"`
	// Cert is a PEM encoded CA bundle used to verify the server.
	Cert string `json:"cert,omitempty" msgpack:"cert,omitempty"`
}

// Mode returns the consumption mode and its target (channel, pattern or stream key).
func (d Details) Mode() (Mode, string, error) {
	var (
		mode   Mode
		target string
		count  int
	)
	if d.Subscribe != "" {
		mode, target = ModeChannel, d.Subscribe
		count++
	}
	if d.PSubscribe != "" {
		mode, target = ModePattern, d.PSubscribe
		count++
	}
	if d.Stream != "" {
		mode, target = ModeStream, d.Stream
		count++
	}
	if count != 1 {
		return "", "", ErrUnknownMode
	}
	return mode, target, nil
}

// Event is the payload handed to TriggerManager.FireTrigger.
type Event interface {
	// Source is the channel or stream key the event was read from.
	Source() string
	Mode() Mode
}

// ChannelEvent is fired for every pub/sub message.
type ChannelEvent struct {
	Channel string `json:"channel" msgpack:"channel"`
	Message string `json:"msg" msgpack:"msg"`

	pattern bool
}

func (e ChannelEvent) Source() string { return e.Channel }

func (e ChannelEvent) Mode() Mode {
	if e.pattern {
		return ModePattern
	}
	return ModeChannel
}

// StreamEvent is fired for every stream entry.
type StreamEvent struct {
	Stream    string            `json:"stream" msgpack:"stream"`
	MessageID string            `json:"message_id" msgpack:"message_id"`
	Message   map[string]string `json:"message" msgpack:"message"`
}

func (e StreamEvent) Source() string { return e.Stream }
func (e StreamEvent) Mode() Mode     { return ModeStream }

// StreamEntry is one raw entry returned by a stream read. Fields alternate
// name, value, name, value...
type StreamEntry struct {
	Stream string
	ID     string
	Fields []string
}

// RelayFunc forwards an event to the trigger manager.
type RelayFunc func(ctx context.Context, event Event) error

// TriggerManager is the external collaborator that fires and disables triggers.
type TriggerManager interface {
	FireTrigger(ctx context.Context, id string, event Event) error
	DisableTrigger(ctx context.Context, id string, status int, reason string)
}

// DeliveryKind classifies what a Subscription received.
type DeliveryKind int

const (
	DeliveryMessage DeliveryKind = iota
	DeliverySubscribed
	DeliveryUnsubscribed
)

// Delivery is a single item read from a pub/sub subscription. Pattern is set
// only for messages matched through a pattern subscription.
type Delivery struct {
	Kind    DeliveryKind
	Channel string
	Pattern string
	Payload string
}

// Subscription is an open pub/sub subscription on a Conn.
type Subscription interface {
	// Receive blocks until the next delivery. It returns ErrConnClosed once
	// the owning connection has been released.
	Receive(ctx context.Context) (Delivery, error)
	// Unsubscribe sends UNSUBSCRIBE (or PUNSUBSCRIBE) without waiting for
	// the confirmation.
	Unsubscribe(ctx context.Context) error
}

// Conn is a dedicated connection to a Redis server owned by one trigger.
type Conn interface {
	Subscribe(ctx context.Context, pattern bool, target string) (Subscription, error)
	// ReadStream issues a blocking read for entries after cursor. A block of
	// zero waits forever. A timeout returns no entries and no error.
	ReadStream(ctx context.Context, stream, cursor string, block time.Duration) ([]StreamEntry, error)
	Close() error
}

// Dialer opens a Conn for a trigger.
type Dialer interface {
	Dial(ctx context.Context, details Details) (Conn, error)
}

// Listener is the common surface of ChannelListener and StreamListener.
type Listener interface {
	Stop(ctx context.Context) error
}
