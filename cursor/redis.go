package cursor

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis keeps cursors as plain string keys on a Redis server that is
// independent of the servers being consumed.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis wraps an existing client. Keys are stored as prefix+id.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// DialRedis connects to the cache server at url (redis://, rediss:// or unix://).
func DialRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor cache url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cursor cache unreachable: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Str("prefix", prefix).Msg("Connected cursor cache")
	return NewRedis(client, prefix), nil
}

func (r *Redis) key(id string) string {
	return r.prefix + id
}

func (r *Redis) Get(ctx context.Context, id string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, id, entryID string) error {
	return r.client.Set(ctx, r.key(id), entryID, 0).Err()
}

func (r *Redis) Del(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
