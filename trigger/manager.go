// Package trigger fires feed events into a sink and keeps track of triggers
// disabled by listener failures.
package trigger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/redisfeed/encoding"
	"github.com/maxpert/redisfeed/feed"
	"github.com/maxpert/redisfeed/sink"
	"github.com/maxpert/redisfeed/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultDisabledCapacity bounds how many disable records are remembered
	DefaultDisabledCapacity = 10000
	DefaultMaxAttempts      = 3
	DefaultRetryInitial     = 100 * time.Millisecond
	DefaultRetryMax         = 2 * time.Second
	retryMultiplier         = 2
)

// Config configures a Manager
type Config struct {
	Sink             sink.Sink
	TopicPrefix      string // Events for trigger id go to "<prefix>.<id>"
	Format           string // "json" or "msgpack"
	DisabledCapacity int

	// Publish attempts per event before FireTrigger fails, with exponential
	// backoff between attempts.
	MaxAttempts  int
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// Envelope is the payload published for every fired event
type Envelope struct {
	ID      string     `json:"id"`
	Trigger string     `json:"trigger"`
	Event   feed.Event `json:"event"`
	FiredAt time.Time  `json:"fired_at"`
}

// Disabled records why a trigger stopped firing
type Disabled struct {
	ID     string    `json:"id"`
	Status int       `json:"status"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Manager implements feed.TriggerManager on top of a sink
type Manager struct {
	sink     sink.Sink
	codec    encoding.Codec
	prefix   string
	disabled *lru.Cache[string, Disabled]
	now      func() time.Time

	maxAttempts  int
	retryInitial time.Duration
	retryMax     time.Duration
}

var _ feed.TriggerManager = (*Manager)(nil)

func NewManager(config Config) (*Manager, error) {
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	codec, err := encoding.CodecFor(config.Format)
	if err != nil {
		return nil, err
	}
	capacity := config.DisabledCapacity
	if capacity <= 0 {
		capacity = DefaultDisabledCapacity
	}
	disabled, err := lru.New[string, Disabled](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create disabled cache: %w", err)
	}

	m := &Manager{
		sink:         config.Sink,
		codec:        codec,
		prefix:       config.TopicPrefix,
		disabled:     disabled,
		now:          time.Now,
		maxAttempts:  config.MaxAttempts,
		retryInitial: config.RetryInitial,
		retryMax:     config.RetryMax,
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = DefaultMaxAttempts
	}
	if m.retryInitial <= 0 {
		m.retryInitial = DefaultRetryInitial
	}
	if m.retryMax < m.retryInitial {
		m.retryMax = DefaultRetryMax
	}
	return m, nil
}

// Topic returns the sink topic for trigger id
func (m *Manager) Topic(id string) string {
	if m.prefix == "" {
		return id
	}
	return m.prefix + "." + id
}

// FireTrigger publishes event for id. Events for a disabled trigger are
// dropped without error.
func (m *Manager) FireTrigger(ctx context.Context, id string, event feed.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.disabled.Contains(id) {
		telemetry.FiredTotal.With("skipped").Inc()
		log.Debug().Str("trigger", id).Msg("Skipping event for disabled trigger")
		return nil
	}

	payload, err := m.codec.Marshal(Envelope{
		ID:      uuid.NewString(),
		Trigger: id,
		Event:   event,
		FiredAt: m.now().UTC(),
	})
	if err != nil {
		telemetry.FiredTotal.With("failed").Inc()
		return fmt.Errorf("encode %s event: %w", m.codec.Name(), err)
	}

	if err := m.publishWithRetry(ctx, id, m.Topic(id), event.Source(), payload); err != nil {
		telemetry.FiredTotal.With("failed").Inc()
		return err
	}

	telemetry.FiredTotal.With("published").Inc()
	return nil
}

// publishWithRetry retries sink delivery only. To the listener that called
// FireTrigger the whole call is a single relay attempt.
func (m *Manager) publishWithRetry(ctx context.Context, id, topic, key string, payload []byte) error {
	delay := m.retryInitial
	for attempt := 1; ; attempt++ {
		err := m.sink.Publish(topic, key, payload)
		if err == nil {
			return nil
		}
		if attempt >= m.maxAttempts {
			return fmt.Errorf("publish to %s failed after %d attempts: %w", topic, attempt, err)
		}

		log.Warn().
			Err(err).
			Str("trigger", id).
			Str("topic", topic).
			Int("attempt", attempt).
			Dur("retry_delay", delay).
			Msg("Failed to publish event, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
		case <-timer.C:
		}

		delay *= retryMultiplier
		if delay > m.retryMax {
			delay = m.retryMax
		}
	}
}

// DisableTrigger marks id disabled until Enable is called
func (m *Manager) DisableTrigger(ctx context.Context, id string, status int, reason string) {
	m.disabled.Add(id, Disabled{ID: id, Status: status, Reason: reason, At: m.now().UTC()})

	log.Warn().
		Str("trigger", id).
		Int("status", status).
		Str("reason", reason).
		Msg("Trigger disabled")
}

// Enable clears a disable record. It reports whether id was disabled.
func (m *Manager) Enable(id string) bool {
	return m.disabled.Remove(id)
}

func (m *Manager) IsDisabled(id string) (Disabled, bool) {
	return m.disabled.Peek(id)
}

// Disabled returns all disable records sorted by id
func (m *Manager) Disabled() []Disabled {
	out := m.disabled.Values()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) DisabledCount() int {
	return m.disabled.Len()
}
