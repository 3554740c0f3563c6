package feed

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/maxpert/redisfeed/cursor"
	"github.com/maxpert/redisfeed/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// RegistryConfig configures the trigger registry
type RegistryConfig struct {
	Dialer           Dialer
	Manager          TriggerManager
	Cache            cursor.Cache  // nil disables stream cursor persistence
	StreamBlock      time.Duration // XREAD BLOCK per read, 0 waits forever
	SubscribeTimeout time.Duration // Max wait for a subscribe confirmation, 0 means no limit
}

// Registration describes an active trigger
type Registration struct {
	ID     string    `json:"id"`
	Mode   Mode      `json:"mode"`
	Target string    `json:"target"`
	Since  time.Time `json:"since"`
	Cursor string    `json:"cursor,omitempty"`
}

type registration struct {
	id      string
	details Details
	mode    Mode
	target  string
	conn    Conn
	since   time.Time

	mu       sync.RWMutex
	listener Listener // nil until the listener has started
}

func (reg *registration) setListener(l Listener) {
	reg.mu.Lock()
	reg.listener = l
	reg.mu.Unlock()
}

func (reg *registration) currentListener() Listener {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.listener
}

// Registry owns one connection and one listener per trigger id.
//
// Add and Remove for distinct ids may run concurrently. Calls for the same id
// must be serialized by the caller.
type Registry struct {
	dialer           Dialer
	manager          TriggerManager
	cache            cursor.Cache
	streamBlock      time.Duration
	subscribeTimeout time.Duration

	entries *xsync.MapOf[string, *registration]
}

// NewRegistry creates an empty registry
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if config.Manager == nil {
		return nil, fmt.Errorf("trigger manager is required")
	}

	return &Registry{
		dialer:           config.Dialer,
		manager:          config.Manager,
		cache:            config.Cache,
		streamBlock:      config.StreamBlock,
		subscribeTimeout: config.SubscribeTimeout,
		entries:          xsync.NewMapOf[string, *registration](),
	}, nil
}

// Add starts a listener for id. A listener already registered under id is
// stopped and released first. On failure nothing is registered for id.
func (r *Registry) Add(ctx context.Context, id string, details Details) error {
	log.Debug().Str("trigger", id).Str("url", redactURL(details.URL)).Msg("Adding trigger")

	if _, ok := r.entries.Load(id); ok {
		if err := r.Remove(ctx, id); err != nil {
			log.Warn().Err(err).Str("trigger", id).Msg("Failed to cleanly release previous listener")
		}
	}

	mode, target, err := details.Mode()
	if err != nil {
		telemetry.RegistryOpsTotal.With("add", "failed").Inc()
		return err
	}

	conn, err := r.dialer.Dial(ctx, details)
	if err != nil {
		telemetry.RegistryOpsTotal.With("add", "failed").Inc()
		return &ConnectionError{Op: "dial", Err: err}
	}

	log.Info().
		Str("trigger", id).
		Str("url", redactURL(details.URL)).
		Msg("Opened client connection")

	reg := &registration{
		id:      id,
		details: details,
		mode:    mode,
		target:  target,
		conn:    conn,
		since:   time.Now(),
	}

	// Published before the listener starts so an error it emits right away
	// still reaches handleError as the current registration.
	r.entries.Store(id, reg)

	listener, err := r.newListener(ctx, reg)
	if err != nil {
		r.entries.Compute(id, func(cur *registration, loaded bool) (*registration, bool) {
			return cur, !loaded || cur == reg
		})
		if cerr := conn.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("trigger", id).Msg("Failed to close connection")
		}
		telemetry.RegistryOpsTotal.With("add", "failed").Inc()
		return fmt.Errorf("failed to start %s listener for %s: %w", mode, target, err)
	}
	reg.setListener(listener)

	telemetry.RegistryOpsTotal.With("add", "success").Inc()
	log.Info().
		Str("trigger", id).
		Str("mode", string(mode)).
		Str("target", target).
		Msg("Listener started")

	return nil
}

func (r *Registry) newListener(ctx context.Context, reg *registration) (Listener, error) {
	relay := func(ctx context.Context, event Event) error {
		log.Debug().Str("trigger", reg.id).Str("source", event.Source()).Msg("Firing trigger")
		return r.manager.FireTrigger(ctx, reg.id, event)
	}
	onError := func(err error) {
		r.handleError(reg, err)
	}

	switch reg.mode {
	case ModeStream:
		return NewStreamListener(ctx, reg.conn, StreamOptions{
			ID:      reg.id,
			Stream:  reg.target,
			Relay:   relay,
			OnError: onError,
			Cache:   r.cache,
			Block:   r.streamBlock,
		})
	case ModeChannel, ModePattern:
		subCtx := ctx
		if r.subscribeTimeout > 0 {
			var cancel context.CancelFunc
			subCtx, cancel = context.WithTimeout(ctx, r.subscribeTimeout)
			defer cancel()
		}
		return NewChannelListener(subCtx, reg.conn, ChannelOptions{
			ID:      reg.id,
			Target:  reg.target,
			Pattern: reg.mode == ModePattern,
			Relay:   relay,
			OnError: onError,
		})
	default:
		return nil, ErrUnknownMode
	}
}

// handleError disables the trigger. Errors from a listener that has since
// been replaced or removed are only logged.
func (r *Registry) handleError(reg *registration, err error) {
	kind := ErrorKind(err)

	current, ok := r.entries.Load(reg.id)
	if !ok || current != reg {
		log.Debug().Err(err).Str("trigger", reg.id).Msg("Ignoring error from released listener")
		return
	}

	log.Error().
		Err(err).
		Str("trigger", reg.id).
		Str("mode", string(reg.mode)).
		Str("kind", kind).
		Msg("Listener failed, disabling trigger")

	telemetry.DisablesTotal.With(kind).Inc()
	r.manager.DisableTrigger(context.Background(), reg.id, DisableStatusUnspecified, err.Error())
}

// Remove stops the listener for id and releases its connection. Unknown ids
// are ignored.
func (r *Registry) Remove(ctx context.Context, id string) error {
	log.Debug().Str("trigger", id).Msg("Removing trigger")

	reg, ok := r.entries.LoadAndDelete(id)
	if !ok {
		return nil
	}

	var firstErr error
	if listener := reg.currentListener(); listener != nil {
		if err := listener.Stop(ctx); err != nil {
			firstErr = fmt.Errorf("stop listener: %w", err)
		}
	}
	if err := reg.conn.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close connection: %w", err)
	}

	result := "success"
	if firstErr != nil {
		result = "failed"
	}
	telemetry.RegistryOpsTotal.With("remove", result).Inc()

	log.Info().Str("trigger", id).Str("mode", string(reg.mode)).Msg("Listener removed")
	return firstErr
}

// Has reports whether id has an active listener
func (r *Registry) Has(id string) bool {
	_, ok := r.entries.Load(id)
	return ok
}

// Get returns the registration for id
func (r *Registry) Get(id string) (Registration, bool) {
	reg, ok := r.entries.Load(id)
	if !ok {
		return Registration{}, false
	}
	return reg.snapshot(), true
}

// Details returns the subscription details id was registered with
func (r *Registry) Details(id string) (Details, bool) {
	reg, ok := r.entries.Load(id)
	if !ok {
		return Details{}, false
	}
	return reg.details, true
}

// List returns all registrations sorted by id
func (r *Registry) List() []Registration {
	result := make([]Registration, 0, r.entries.Size())
	r.entries.Range(func(_ string, reg *registration) bool {
		result = append(result, reg.snapshot())
		return true
	})
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// ModeCounts returns the number of registered triggers per mode
func (r *Registry) ModeCounts() map[string]int {
	counts := make(map[string]int, 3)
	r.entries.Range(func(_ string, reg *registration) bool {
		counts[string(reg.mode)]++
		return true
	})
	return counts
}

// Close removes every registered trigger and waits, bounded by ctx, for
// their loops and in-flight relays to return. Cached cursors are kept so
// stream triggers resume on the next start.
func (r *Registry) Close(ctx context.Context) {
	var pending []<-chan struct{}

	r.entries.Range(func(id string, reg *registration) bool {
		r.entries.Delete(id)
		listener := reg.currentListener()
		if sl, ok := listener.(*StreamListener); ok {
			sl.halt()
		} else if listener != nil {
			if err := listener.Stop(ctx); err != nil {
				log.Warn().Err(err).Str("trigger", id).Msg("Failed to stop listener")
			}
		}
		if err := reg.conn.Close(); err != nil {
			log.Warn().Err(err).Str("trigger", id).Msg("Failed to close connection")
		}
		if listener != nil {
			pending = append(pending, drained(listener))
		}
		return true
	})

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			log.Warn().Err(ctx.Err()).Int("listeners", len(pending)).Msg("Gave up waiting for listeners to exit")
			return
		}
	}
	log.Info().Msg("Trigger registry closed")
}

// drained is closed once l's loop has exited and, for channel listeners,
// every in-flight relay has returned.
func drained(l Listener) <-chan struct{} {
	switch v := l.(type) {
	case *StreamListener:
		return v.Done()
	case *ChannelListener:
		ch := make(chan struct{})
		go func() {
			<-v.Done()
			v.Wait()
			close(ch)
		}()
		return ch
	default:
		ch := make(chan struct{})
		close(ch)
		return ch
	}
}

func (reg *registration) snapshot() Registration {
	out := Registration{
		ID:     reg.id,
		Mode:   reg.mode,
		Target: reg.target,
		Since:  reg.since,
	}
	if sl, ok := reg.currentListener().(*StreamListener); ok {
		out.Cursor = sl.Cursor()
	}
	return out
}

// redactURL hides the password of a connection url for logging
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
