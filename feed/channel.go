package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/redisfeed/telemetry"
	"github.com/rs/zerolog/log"
)

// ChannelOptions configures a ChannelListener
type ChannelOptions struct {
	ID      string // Trigger id, used for logging only
	Target  string // Channel name or pattern
	Pattern bool   // PSUBSCRIBE instead of SUBSCRIBE
	Relay   RelayFunc
	OnError func(error)
}

// ChannelListener relays every message published on a channel (or on any
// channel matching a pattern) to the trigger manager.
//
// Messages are relayed concurrently: each message gets its own goroutine and
// no ordering is guaranteed between in-flight relays.
type ChannelListener struct {
	id      string
	target  string
	pattern bool
	relay   RelayFunc
	onError func(error)

	sub       Subscription
	confirmed *future.Promise[struct{}]
	once      sync.Once
	ready     atomic.Bool
	stopped   atomic.Bool
	inflight  sync.WaitGroup
	done      chan struct{}
}

// NewChannelListener subscribes on conn and returns once the server has
// confirmed the subscription. It fails if ctx expires first or the
// subscription errors before confirmation.
func NewChannelListener(ctx context.Context, conn Conn, opts ChannelOptions) (*ChannelListener, error) {
	if opts.Relay == nil {
		return nil, fmt.Errorf("channel listener requires a relay")
	}

	sub, err := conn.Subscribe(ctx, opts.Pattern, opts.Target)
	if err != nil {
		return nil, &ConnectionError{Op: "subscribe", Err: err}
	}

	l := &ChannelListener{
		id:        opts.ID,
		target:    opts.Target,
		pattern:   opts.Pattern,
		relay:     opts.Relay,
		onError:   opts.OnError,
		sub:       sub,
		confirmed: future.NewPromise[struct{}](),
		done:      make(chan struct{}),
	}

	go l.receiveLoop()

	ready := make(chan error, 1)
	go func() {
		_, err := l.confirmed.Future().Get()
		ready <- err
	}()

	select {
	case err := <-ready:
		if err != nil {
			l.stopped.Store(true)
			return nil, err
		}
	case <-ctx.Done():
		l.stopped.Store(true)
		_ = sub.Unsubscribe(context.Background())
		return nil, fmt.Errorf("%w: %v", ErrSubscribeFailed, ctx.Err())
	}

	log.Debug().
		Str("trigger", l.id).
		Str("target", l.target).
		Bool("pattern", l.pattern).
		Msg("Channel subscription confirmed")

	return l, nil
}

func (l *ChannelListener) resolve(err error) {
	l.once.Do(func() {
		l.ready.Store(err == nil)
		l.confirmed.Set(struct{}{}, err)
	})
}

func (l *ChannelListener) receiveLoop() {
	defer close(l.done)

	// Background context: the loop ends on unsubscribe confirmation or when
	// the owning connection is closed.
	ctx := context.Background()

	for {
		d, err := l.sub.Receive(ctx)
		if err != nil {
			if l.stopped.Load() {
				l.resolve(ErrListenerStopped)
				return
			}
			connErr := &ConnectionError{Op: "receive", Err: err}
			if !l.ready.Load() {
				l.resolve(connErr)
				return
			}
			l.emit(connErr)
			return
		}

		switch d.Kind {
		case DeliverySubscribed:
			if d.Channel == l.target {
				l.resolve(nil)
			}
		case DeliveryUnsubscribed:
			if d.Channel == l.target {
				l.resolve(ErrListenerStopped)
				return
			}
		case DeliveryMessage:
			if !l.matches(d) {
				continue
			}
			l.inflight.Add(1)
			go l.deliver(ChannelEvent{Channel: d.Channel, Message: d.Payload, pattern: l.pattern})
		}
	}
}

func (l *ChannelListener) matches(d Delivery) bool {
	if l.pattern {
		return d.Pattern == l.target
	}
	return d.Pattern == "" && d.Channel == l.target
}

func (l *ChannelListener) deliver(event ChannelEvent) {
	defer l.inflight.Done()

	mode := string(event.Mode())
	start := time.Now()
	err := l.relay(context.Background(), event)
	telemetry.RelayDurationSeconds.With(mode).Observe(time.Since(start).Seconds())

	if err != nil {
		telemetry.RelaysTotal.With(mode, "failed").Inc()
		l.emit(&DeliveryError{Source: event.Channel, Err: err})
		return
	}
	telemetry.RelaysTotal.With(mode, "success").Inc()
}

func (l *ChannelListener) emit(err error) {
	if l.onError == nil {
		log.Error().Err(err).Str("trigger", l.id).Msg("Channel listener error without handler")
		return
	}
	l.onError(err)
}

// Stop sends UNSUBSCRIBE for the target and returns without waiting for the
// server to confirm. In-flight relays are not cancelled.
func (l *ChannelListener) Stop(ctx context.Context) error {
	if !l.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if err := l.sub.Unsubscribe(ctx); err != nil && !errors.Is(err, ErrConnClosed) {
		return fmt.Errorf("unsubscribe %s: %w", l.target, err)
	}
	return nil
}

// Done is closed when the receive loop has exited.
func (l *ChannelListener) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until every in-flight relay has returned.
func (l *ChannelListener) Wait() {
	l.inflight.Wait()
}
