// Package transport opens feed connections for trigger urls.
//
// redis://, rediss:// and unix:// urls connect to a Redis server through
// go-redis. memory:// urls attach to an in-process notify.Hub.
package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/maxpert/redisfeed/feed"
	"github.com/maxpert/redisfeed/notify"
)

const schemeMemory = "memory"

// Dialer implements feed.Dialer
type Dialer struct {
	hub *notify.Hub
}

// NewDialer creates a dialer. hub may be nil, in which case memory:// urls
// are rejected.
func NewDialer(hub *notify.Hub) *Dialer {
	return &Dialer{hub: hub}
}

// Dial opens a dedicated connection for one trigger
func (d *Dialer) Dial(ctx context.Context, details feed.Details) (feed.Conn, error) {
	scheme, err := schemeOf(details.URL)
	if err != nil {
		return nil, err
	}

	if scheme == schemeMemory {
		if d.hub == nil {
			return nil, fmt.Errorf("memory transport is not enabled")
		}
		return newMemoryConn(d.hub), nil
	}

	return dialRedis(details)
}

// Probe checks that the server behind details answers a PING
func (d *Dialer) Probe(ctx context.Context, details feed.Details) error {
	scheme, err := schemeOf(details.URL)
	if err != nil {
		return &ProbeError{code: "EINVAL", message: err.Error()}
	}

	if scheme == schemeMemory {
		if d.hub == nil {
			return &ProbeError{code: "ENOTSUP", message: "memory transport is not enabled"}
		}
		return nil
	}

	return probeRedis(ctx, details)
}

func schemeOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	switch u.Scheme {
	case "redis", "rediss", "unix", schemeMemory:
		return u.Scheme, nil
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
}
