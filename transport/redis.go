package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/maxpert/redisfeed/feed"
	"github.com/redis/go-redis/v9"
)

// newRedisOptions parses the url and installs the CA bundle from details.
// A certificate implies TLS even for redis:// urls.
func newRedisOptions(details feed.Details) (*redis.Options, error) {
	opts, err := redis.ParseURL(details.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	if details.Cert != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(details.Cert)) {
			return nil, fmt.Errorf("cert does not contain a PEM encoded certificate")
		}
		if opts.TLSConfig == nil {
			host, _, err := net.SplitHostPort(opts.Addr)
			if err != nil {
				host = opts.Addr
			}
			opts.TLSConfig = &tls.Config{ServerName: host}
		}
		opts.TLSConfig.MinVersion = tls.VersionTLS12
		opts.TLSConfig.RootCAs = pool
	}

	// One trigger per client: a reader plus the dedicated pub/sub connection.
	opts.PoolSize = 2
	// Failures surface to the listener instead of being retried; 0 would mean
	// the client default of 3.
	opts.MaxRetries = -1

	return opts, nil
}

func dialRedis(details feed.Details) (*redisConn, error) {
	opts, err := newRedisOptions(details)
	if err != nil {
		return nil, err
	}
	return &redisConn{client: redis.NewClient(opts)}, nil
}

func probeRedis(ctx context.Context, details feed.Details) error {
	opts, err := newRedisOptions(details)
	if err != nil {
		return &ProbeError{code: "EINVAL", message: err.Error()}
	}
	opts.PoolSize = 1

	client := redis.NewClient(opts)
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return newProbeError(err)
	}
	return nil
}

// redisConn implements feed.Conn over a go-redis client
type redisConn struct {
	client *redis.Client

	mu   sync.Mutex
	subs []*redis.PubSub
}

func (c *redisConn) Subscribe(ctx context.Context, pattern bool, target string) (feed.Subscription, error) {
	var ps *redis.PubSub
	if pattern {
		ps = c.client.PSubscribe(ctx, target)
	} else {
		ps = c.client.Subscribe(ctx, target)
	}

	c.mu.Lock()
	c.subs = append(c.subs, ps)
	c.mu.Unlock()

	return &redisSubscription{ps: ps, pattern: pattern, target: target}, nil
}

func (c *redisConn) ReadStream(ctx context.Context, stream, cursor string, block time.Duration) ([]feed.StreamEntry, error) {
	res, err := c.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, cursor},
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, mapClosed(err)
	}

	var entries []feed.StreamEntry
	for _, xs := range res {
		for _, msg := range xs.Messages {
			entries = append(entries, feed.StreamEntry{
				Stream: xs.Stream,
				ID:     msg.ID,
				Fields: flattenValues(msg.Values),
			})
		}
	}
	return entries, nil
}

// Close releases pub/sub connections first so blocked receivers return.
func (c *redisConn) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	return c.client.Close()
}

// flattenValues turns the decoded field map back into name, value pairs
// ordered by name.
func flattenValues(values map[string]interface{}) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	flat := make([]string, 0, len(values)*2)
	for _, name := range names {
		flat = append(flat, name, fmt.Sprint(values[name]))
	}
	return flat
}

type redisSubscription struct {
	ps      *redis.PubSub
	pattern bool
	target  string
}

func (s *redisSubscription) Receive(ctx context.Context) (feed.Delivery, error) {
	for {
		msg, err := s.ps.Receive(ctx)
		if err != nil {
			return feed.Delivery{}, mapClosed(err)
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			kind := feed.DeliverySubscribed
			if m.Kind == "unsubscribe" || m.Kind == "punsubscribe" {
				kind = feed.DeliveryUnsubscribed
			}
			return feed.Delivery{Kind: kind, Channel: m.Channel}, nil
		case *redis.Message:
			return feed.Delivery{
				Kind:    feed.DeliveryMessage,
				Channel: m.Channel,
				Pattern: m.Pattern,
				Payload: m.Payload,
			}, nil
		case *redis.Pong:
			continue
		default:
			return feed.Delivery{}, fmt.Errorf("unexpected pub/sub reply %T", msg)
		}
	}
}

func (s *redisSubscription) Unsubscribe(ctx context.Context) error {
	var err error
	if s.pattern {
		err = s.ps.PUnsubscribe(ctx, s.target)
	} else {
		err = s.ps.Unsubscribe(ctx, s.target)
	}
	return mapClosed(err)
}

func mapClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", feed.ErrConnClosed, err)
	}
	return err
}
