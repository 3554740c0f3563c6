// Package notify is an in-process broker with Redis-like pub/sub and stream
// semantics. It backs memory:// trigger urls for local development and tests.
package notify

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// defaultBufferSize is the buffer size for subscription channels.
// Subscribers that can't keep up will have messages dropped (non-blocking send).
const defaultBufferSize = 256

var (
	ErrInvalidStreamID = errors.New("invalid stream ID specified as stream command argument")
	ErrOddFields       = errors.New("wrong number of arguments for XADD")
	ErrHubClosed       = errors.New("hub closed")
)

// Kind classifies a Message
type Kind int

const (
	KindMessage Kind = iota
	KindSubscribe
	KindUnsubscribe
)

// Message is delivered on a subscription channel. Pattern is set only for
// messages received through a pattern subscription.
type Message struct {
	Kind    Kind
	Channel string
	Pattern string
	Payload string
}

type subscription struct {
	id      uint64
	target  string
	pattern bool
	ch      chan Message

	mu     sync.Mutex
	closed bool
}

func (s *subscription) matches(channel string) bool {
	if s.pattern {
		return MatchPattern(s.target, channel)
	}
	return s.target == channel
}

// send delivers without blocking. It reports false if the message was dropped.
func (s *subscription) send(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- Message{Kind: KindUnsubscribe, Channel: s.target}:
	default:
	}
	s.closed = true
	close(s.ch)
}

// Subscription is a handle returned by Hub.Subscribe
type Subscription struct {
	hub *Hub
	sub *subscription
}

// C returns the delivery channel. It is closed after the unsubscribe
// confirmation.
func (s *Subscription) C() <-chan Message {
	return s.sub.ch
}

// Unsubscribe is idempotent
func (s *Subscription) Unsubscribe() {
	s.hub.unsubscribe(s.sub.id)
}

// Hub is a thread-safe pub/sub and stream broker
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64

	streamsMu sync.Mutex
	streams   map[string]*stream
	changed   chan struct{}
	closed    bool
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
		streams:       make(map[string]*stream),
		changed:       make(chan struct{}),
	}
}

// Publish sends payload to every matching subscriber and returns how many
// received it.
func (h *Hub) Publish(channel, payload string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	received := 0
	for _, sub := range h.subscriptions {
		if !sub.matches(channel) {
			continue
		}
		msg := Message{Kind: KindMessage, Channel: channel, Payload: payload}
		if sub.pattern {
			msg.Pattern = sub.target
		}
		if sub.send(msg) {
			received++
		}
	}
	return received
}

// Subscribe registers an exact channel or Redis glob pattern subscription.
// The first message on the returned channel is the subscribe confirmation.
func (h *Hub) Subscribe(target string, pattern bool) (*Subscription, error) {
	h.streamsMu.Lock()
	closed := h.closed
	h.streamsMu.Unlock()
	if closed {
		return nil, ErrHubClosed
	}

	sub := &subscription{
		id:      h.nextID.Add(1),
		target:  target,
		pattern: pattern,
		ch:      make(chan Message, defaultBufferSize),
	}

	sub.ch <- Message{Kind: KindSubscribe, Channel: target}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	return &Subscription{hub: h, sub: sub}, nil
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Subscribers returns the number of active subscriptions
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// StreamEntry is one stream record. Fields alternate name, value.
type StreamEntry struct {
	ID     string
	Fields []string
}

type streamID struct {
	ms  uint64
	seq uint64
}

func (id streamID) String() string {
	return strconv.FormatUint(id.ms, 10) + "-" + strconv.FormatUint(id.seq, 10)
}

func (id streamID) after(other streamID) bool {
	return id.ms > other.ms || (id.ms == other.ms && id.seq > other.seq)
}

func parseStreamID(raw string) (streamID, error) {
	msPart, seqPart, hasSeq := strings.Cut(raw, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return streamID{}, ErrInvalidStreamID
	}
	if !hasSeq {
		return streamID{ms: ms}, nil
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return streamID{}, ErrInvalidStreamID
	}
	return streamID{ms: ms, seq: seq}, nil
}

type stream struct {
	ids     []streamID
	entries []StreamEntry
	last    streamID
}

// XAdd appends an entry with an auto-generated id
func (h *Hub) XAdd(key string, fields ...string) (string, error) {
	if len(fields) == 0 || len(fields)%2 != 0 {
		return "", ErrOddFields
	}

	h.streamsMu.Lock()
	defer h.streamsMu.Unlock()
	if h.closed {
		return "", ErrHubClosed
	}

	s, ok := h.streams[key]
	if !ok {
		s = &stream{}
		h.streams[key] = s
	}

	now := uint64(time.Now().UnixMilli())
	id := streamID{ms: now}
	if now <= s.last.ms {
		id = streamID{ms: s.last.ms, seq: s.last.seq + 1}
	}
	s.last = id

	copied := make([]string, len(fields))
	copy(copied, fields)
	s.ids = append(s.ids, id)
	s.entries = append(s.entries, StreamEntry{ID: id.String(), Fields: copied})

	close(h.changed)
	h.changed = make(chan struct{})

	return id.String(), nil
}

// XRead returns entries of key with an id greater than cursor. "$" means
// the last id at the time of the call. When nothing is available it waits up
// to block (0 waits forever) and returns nil on timeout.
func (h *Hub) XRead(ctx context.Context, key, cursor string, block time.Duration) ([]StreamEntry, error) {
	h.streamsMu.Lock()
	var from streamID
	if cursor == "$" {
		if s, ok := h.streams[key]; ok {
			from = s.last
		}
	} else {
		parsed, err := parseStreamID(cursor)
		if err != nil {
			h.streamsMu.Unlock()
			return nil, err
		}
		from = parsed
	}
	h.streamsMu.Unlock()

	var timeout <-chan time.Time
	if block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		h.streamsMu.Lock()
		if h.closed {
			h.streamsMu.Unlock()
			return nil, ErrHubClosed
		}
		entries := h.collect(key, from)
		wait := h.changed
		h.streamsMu.Unlock()

		if len(entries) > 0 {
			return entries, nil
		}

		select {
		case <-wait:
		case <-timeout:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (h *Hub) collect(key string, from streamID) []StreamEntry {
	s, ok := h.streams[key]
	if !ok {
		return nil
	}
	var out []StreamEntry
	for i, id := range s.ids {
		if id.after(from) {
			out = append(out, s.entries[i])
		}
	}
	return out
}

// Close releases blocked readers and drops every subscription
func (h *Hub) Close() {
	h.streamsMu.Lock()
	if !h.closed {
		h.closed = true
		close(h.changed)
	}
	h.streamsMu.Unlock()

	h.mu.Lock()
	subs := h.subscriptions
	h.subscriptions = make(map[uint64]*subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
