package feed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/redisfeed/cursor"
	"github.com/maxpert/redisfeed/telemetry"
	"github.com/rs/zerolog/log"
)

// StreamOptions configures a StreamListener
type StreamOptions struct {
	ID      string // Trigger id, also the cursor cache key
	Stream  string
	Relay   RelayFunc
	OnError func(error)
	Cache   cursor.Cache  // nil disables cursor persistence
	Block   time.Duration // Per-read BLOCK, 0 waits forever
}

// StreamListener reads a Redis stream from a cursor and relays each entry in
// order, one at a time.
//
// The cursor advances, and is written to the cache, only after a relay
// succeeds. A crash between the relay and the cache write re-delivers that
// entry on the next start.
type StreamListener struct {
	id      string
	stream  string
	relay   RelayFunc
	onError func(error)
	cache   cursor.Cache
	block   time.Duration
	conn    Conn

	mu     sync.RWMutex
	cursor string

	// persistMu orders cursor writes against Stop's delete
	persistMu sync.Mutex
	active    atomic.Bool
	done      chan struct{}
}

// NewStreamListener resolves the starting cursor from the cache (or
// DefaultCursor) and starts the read loop.
func NewStreamListener(ctx context.Context, conn Conn, opts StreamOptions) (*StreamListener, error) {
	if opts.Relay == nil {
		return nil, fmt.Errorf("stream listener requires a relay")
	}

	start := DefaultCursor
	if opts.Cache != nil {
		cached, ok, err := opts.Cache.Get(ctx, opts.ID)
		if err != nil {
			return nil, &CacheError{Op: "get", Err: err}
		}
		if ok && cached != "" {
			start = cached
		}
	}

	l := &StreamListener{
		id:      opts.ID,
		stream:  opts.Stream,
		relay:   opts.Relay,
		onError: opts.OnError,
		cache:   opts.Cache,
		block:   opts.Block,
		conn:    conn,
		cursor:  start,
		done:    make(chan struct{}),
	}
	l.active.Store(true)

	log.Debug().
		Str("trigger", l.id).
		Str("stream", l.stream).
		Str("cursor", start).
		Msg("Starting stream listener")

	go l.run()
	return l, nil
}

// Cursor returns the id of the last relayed entry, or the starting cursor.
func (l *StreamListener) Cursor() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cursor
}

func (l *StreamListener) setCursor(id string) {
	l.mu.Lock()
	l.cursor = id
	l.mu.Unlock()
}

func (l *StreamListener) run() {
	defer close(l.done)

	ctx := context.Background()

	for l.active.Load() {
		entries, err := l.conn.ReadStream(ctx, l.stream, l.Cursor(), l.block)
		if err != nil {
			if !l.active.Load() {
				// Connection released by Stop/Remove
				return
			}
			telemetry.StreamReadsTotal.With("error").Inc()
			l.fail(&ConnectionError{Op: "stream read", Err: err})
			return
		}

		if len(entries) == 0 {
			telemetry.StreamReadsTotal.With("empty").Inc()
			continue
		}
		telemetry.StreamReadsTotal.With("data").Inc()

		if err := l.process(ctx, entries); err != nil {
			l.fail(err)
			return
		}
	}
}

// process relays a batch in order. The first failure aborts the rest.
func (l *StreamListener) process(ctx context.Context, entries []StreamEntry) error {
	for _, entry := range entries {
		if !l.active.Load() {
			return nil
		}

		event := StreamEvent{
			Stream:    entry.Stream,
			MessageID: entry.ID,
			Message:   MergeFields(entry.Fields),
		}
		if event.Stream == "" {
			event.Stream = l.stream
		}

		start := time.Now()
		err := l.relay(ctx, event)
		telemetry.RelayDurationSeconds.With(string(ModeStream)).Observe(time.Since(start).Seconds())
		if err != nil {
			telemetry.RelaysTotal.With(string(ModeStream), "failed").Inc()
			return &DeliveryError{Source: event.Stream, Err: err}
		}
		telemetry.RelaysTotal.With(string(ModeStream), "success").Inc()

		if stopped, err := l.persist(ctx, entry.ID); stopped || err != nil {
			return err
		}
	}
	return nil
}

// persist advances the cursor after a relay. It reports stopped when the
// listener was stopped while the relay was in flight, in which case nothing
// is written.
func (l *StreamListener) persist(ctx context.Context, id string) (bool, error) {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	if !l.active.Load() {
		return true, nil
	}
	l.setCursor(id)

	if l.cache == nil {
		return false, nil
	}
	if err := l.cache.Set(ctx, l.id, id); err != nil {
		telemetry.CursorWritesTotal.With("failed").Inc()
		return false, &CacheError{Op: "set", Err: err}
	}
	telemetry.CursorWritesTotal.With("success").Inc()
	return false, nil
}

func (l *StreamListener) fail(err error) {
	l.active.Store(false)
	log.Debug().Err(err).Str("trigger", l.id).Str("stream", l.stream).Msg("Stream listener terminating")
	if l.onError == nil {
		log.Error().Err(err).Str("trigger", l.id).Msg("Stream listener error without handler")
		return
	}
	l.onError(err)
}

// Active reports whether the read loop is still scheduled to run.
func (l *StreamListener) Active() bool {
	return l.active.Load()
}

// Stop clears the active flag and deletes the cached cursor. A read already
// blocked on the server is not interrupted; releasing the connection
// afterwards ends it.
func (l *StreamListener) Stop(ctx context.Context) error {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	l.active.Store(false)
	if l.cache == nil {
		return nil
	}
	if err := l.cache.Del(ctx, l.id); err != nil {
		return &CacheError{Op: "del", Err: err}
	}
	return nil
}

// halt ends the read loop without touching the cached cursor.
func (l *StreamListener) halt() {
	l.persistMu.Lock()
	l.active.Store(false)
	l.persistMu.Unlock()
}

// Done is closed when the read loop has exited.
func (l *StreamListener) Done() <-chan struct{} {
	return l.done
}
