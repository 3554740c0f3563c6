// Package store keeps durable feed state in a local Pebble database: stream
// cursors (implementing cursor.Cache) and the trigger definitions restored on
// startup.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/redisfeed/encoding"
	"github.com/maxpert/redisfeed/feed"
	"github.com/rs/zerolog/log"
)

// Key prefixes for Pebble storage
const (
	prefixCursor  = "/cursor/"  // /cursor/{triggerID} -> entry id
	prefixTrigger = "/trigger/" // /trigger/{triggerID} -> msgpack Record
)

const (
	memTableSize             = 16 << 20 // 16MB
	maxConcurrentCompactions = 2
)

var ErrClosed = errors.New("store is closed")

// Record is a persisted trigger definition
type Record struct {
	ID      string       `msgpack:"id"`
	Details feed.Details `msgpack:"details"`
}

// Store is a Pebble-backed state store
type Store struct {
	db   *pebble.DB
	path string

	// Cursors are written on every relayed entry; reads are served from memory.
	cursors   map[string]string
	cursorsMu sync.RWMutex

	// lifeMu keeps Close from running while a write is using db
	lifeMu sync.RWMutex
	closed atomic.Bool
}

// Open creates or opens the store under {dataDir}/feed_state
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "feed_state")

	opts := &pebble.Options{
		MemTableSize:             memTableSize,
		MaxConcurrentCompactions: func() int { return maxConcurrentCompactions },
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store at %s: %w", path, err)
	}

	s := &Store{
		db:      db,
		path:    path,
		cursors: make(map[string]string),
	}

	if err := s.loadCursors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load cursors: %w", err)
	}

	return s, nil
}

func (s *Store) loadCursors() error {
	count := 0
	err := s.scan(prefixCursor, func(key string, val []byte) error {
		s.cursors[key] = string(val)
		count++
		return nil
	})
	if err != nil {
		return err
	}

	if count > 0 {
		log.Info().Int("cursors", count).Msg("Loaded stream cursors")
	}
	return nil
}

// scan calls fn for every key under prefix with the prefix stripped
func (s *Store) scan(prefix string, fn func(key string, val []byte) error) error {
	lower := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(lower),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.SeekGE(lower); iter.Valid(); iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if err := fn(string(iter.Key()[len(prefix):]), val); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Get implements cursor.Cache
func (s *Store) Get(_ context.Context, id string) (string, bool, error) {
	if s.closed.Load() {
		return "", false, ErrClosed
	}

	s.cursorsMu.RLock()
	defer s.cursorsMu.RUnlock()
	val, ok := s.cursors[id]
	return val, ok, nil
}

// Set implements cursor.Cache
func (s *Store) Set(_ context.Context, id, entryID string) error {
	if !s.acquire() {
		return ErrClosed
	}
	defer s.lifeMu.RUnlock()

	if err := s.db.Set([]byte(prefixCursor+id), []byte(entryID), pebble.Sync); err != nil {
		return fmt.Errorf("failed to write cursor: %w", err)
	}

	s.cursorsMu.Lock()
	s.cursors[id] = entryID
	s.cursorsMu.Unlock()
	return nil
}

// Del implements cursor.Cache
func (s *Store) Del(_ context.Context, id string) error {
	if !s.acquire() {
		return ErrClosed
	}
	defer s.lifeMu.RUnlock()

	if err := s.db.Delete([]byte(prefixCursor+id), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}

	s.cursorsMu.Lock()
	delete(s.cursors, id)
	s.cursorsMu.Unlock()
	return nil
}

// SaveTrigger persists a trigger definition, replacing any previous one
func (s *Store) SaveTrigger(id string, details feed.Details) error {
	if !s.acquire() {
		return ErrClosed
	}
	defer s.lifeMu.RUnlock()

	val, err := encoding.Marshal(&Record{ID: id, Details: details})
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}
	if err := s.db.Set([]byte(prefixTrigger+id), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write trigger: %w", err)
	}
	return nil
}

// DeleteTrigger forgets a trigger definition. Missing ids are ignored.
func (s *Store) DeleteTrigger(id string) error {
	if !s.acquire() {
		return ErrClosed
	}
	defer s.lifeMu.RUnlock()
	if err := s.db.Delete([]byte(prefixTrigger+id), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete trigger: %w", err)
	}
	return nil
}

// Triggers returns every persisted trigger ordered by id
func (s *Store) Triggers() ([]Record, error) {
	if !s.acquire() {
		return nil, ErrClosed
	}
	defer s.lifeMu.RUnlock()

	var records []Record
	err := s.scan(prefixTrigger, func(key string, val []byte) error {
		var rec Record
		if err := encoding.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("corrupted trigger record %s: %w", key, err)
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// acquire read-locks the store for a db operation. It reports false, with
// the lock released, once the store is closed.
func (s *Store) acquire() bool {
	s.lifeMu.RLock()
	if s.closed.Load() {
		s.lifeMu.RUnlock()
		return false
	}
	return true
}

// Close waits for in-progress writes and closes the Pebble database
func (s *Store) Close() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return s.db.Close()
}

// prefixUpperBound returns the exclusive upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil
}
