package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maxpert/redisfeed/feed"
	"github.com/maxpert/redisfeed/notify"
)

// memoryConn implements feed.Conn on top of a shared notify.Hub
type memoryConn struct {
	hub *notify.Hub

	mu     sync.Mutex
	subs   []*notify.Subscription
	closed chan struct{}
	once   sync.Once
}

func newMemoryConn(hub *notify.Hub) *memoryConn {
	return &memoryConn{hub: hub, closed: make(chan struct{})}
}

func (c *memoryConn) Subscribe(ctx context.Context, pattern bool, target string) (feed.Subscription, error) {
	sub, err := c.hub.Subscribe(target, pattern)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	return &memorySubscription{sub: sub, closed: c.closed}, nil
}

func (c *memoryConn) ReadStream(ctx context.Context, stream, cursor string, block time.Duration) ([]feed.StreamEntry, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	entries, err := c.hub.XRead(ctx, stream, cursor, block)
	if err != nil {
		if c.isClosed() || errors.Is(err, notify.ErrHubClosed) {
			return nil, feed.ErrConnClosed
		}
		return nil, err
	}

	out := make([]feed.StreamEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, feed.StreamEntry{Stream: stream, ID: e.ID, Fields: e.Fields})
	}
	return out, nil
}

func (c *memoryConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *memoryConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.mu.Lock()
		subs := c.subs
		c.subs = nil
		c.mu.Unlock()
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	})
	return nil
}

type memorySubscription struct {
	sub    *notify.Subscription
	closed <-chan struct{}
}

func (s *memorySubscription) Receive(ctx context.Context) (feed.Delivery, error) {
	select {
	case <-s.closed:
		return feed.Delivery{}, feed.ErrConnClosed
	default:
	}

	select {
	case msg, ok := <-s.sub.C():
		if !ok {
			return feed.Delivery{}, feed.ErrConnClosed
		}
		return toDelivery(msg), nil
	case <-s.closed:
		return feed.Delivery{}, feed.ErrConnClosed
	case <-ctx.Done():
		return feed.Delivery{}, ctx.Err()
	}
}

func (s *memorySubscription) Unsubscribe(ctx context.Context) error {
	s.sub.Unsubscribe()
	return nil
}

func toDelivery(msg notify.Message) feed.Delivery {
	d := feed.Delivery{Channel: msg.Channel, Pattern: msg.Pattern, Payload: msg.Payload}
	switch msg.Kind {
	case notify.KindSubscribe:
		d.Kind = feed.DeliverySubscribed
	case notify.KindUnsubscribe:
		d.Kind = feed.DeliveryUnsubscribed
	default:
		d.Kind = feed.DeliveryMessage
	}
	return d
}
