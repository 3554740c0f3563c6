// Package cursor persists the last relayed stream entry id per trigger so
// stream listeners can resume after a restart.
package cursor

import "context"

// Cache stores trigger id -> last successfully relayed entry id.
//
// Get reports ok=false when no cursor is stored. Set is an idempotent
// overwrite. Del tolerates a missing entry.
type Cache interface {
	Get(ctx context.Context, id string) (string, bool, error)
	Set(ctx context.Context, id, entryID string) error
	Del(ctx context.Context, id string) error
}

// Noop never stores anything. Listeners using it always start from the
// newest entry.
type Noop struct{}

func (Noop) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (Noop) Set(context.Context, string, string) error         { return nil }
func (Noop) Del(context.Context, string) error                 { return nil }
