package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/maxpert/redisfeed/cursor"
	"github.com/maxpert/redisfeed/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ cursor.Cache = (*Store)(nil)

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, filepath.Join(dir, "feed_state"), s.path)
	assert.Empty(t, s.cursors)
}

func TestCursorRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "t1", "1-0"))
	require.NoError(t, s.Set(ctx, "t1", "2-5"))

	val, ok, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2-5", val)

	require.NoError(t, s.Del(ctx, "t1"))
	require.NoError(t, s.Del(ctx, "t1"), "deleting a missing cursor is fine")
	_, ok, err = s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCursorsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "a", "10-0"))
	require.NoError(t, s.Set(ctx, "b", "20-1"))
	require.NoError(t, s.Set(ctx, "gone", "30-0"))
	require.NoError(t, s.Del(ctx, "gone"))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, map[string]string{"a": "10-0", "b": "20-1"}, s.cursors)
	val, ok, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "20-1", val)
}

func TestTriggerPersistence(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.SaveTrigger("orders", feed.Details{URL: "redis://h:6379", Stream: "orders"}))
	require.NoError(t, s.SaveTrigger("alerts", feed.Details{URL: "rediss://h:6380", Subscribe: "alerts", Cert: "PEM"}))
	require.NoError(t, s.SaveTrigger("orders", feed.Details{URL: "redis://h:6379", Stream: "orders-v2"}))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	records, err := s.Triggers()
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "alerts", records[0].ID)
	assert.Equal(t, "alerts", records[0].Details.Subscribe)
	assert.Equal(t, "PEM", records[0].Details.Cert)
	assert.Equal(t, "orders", records[1].ID)
	assert.Equal(t, "orders-v2", records[1].Details.Stream, "save replaces the previous definition")

	require.NoError(t, s.DeleteTrigger("alerts"))
	require.NoError(t, s.DeleteTrigger("missing"))
	records, err = s.Triggers()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "orders", records[0].ID)
}

func TestTriggersAndCursorsDoNotOverlap(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "t1", "1-0"))
	require.NoError(t, s.SaveTrigger("t1", feed.Details{URL: "redis://h", Stream: "s"}))

	records, err := s.Triggers()
	require.NoError(t, err)
	assert.Len(t, records, 1)

	val, ok, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1-0", val)
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Close(), ErrClosed)
	_, _, err = s.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Set(ctx, "t1", "1-0"), ErrClosed)
	assert.ErrorIs(t, s.SaveTrigger("t1", feed.Details{}), ErrClosed)
	_, err = s.Triggers()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseWaitsForCursorWrites(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 400)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				errs <- s.Set(ctx, fmt.Sprintf("t%d", w), fmt.Sprintf("%d-0", i))
			}
		}(w)
	}

	require.NoError(t, s.Close())
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrClosed, "writes racing Close either land or see ErrClosed")
		}
	}
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("/cursor0"), prefixUpperBound([]byte("/cursor/")))
	assert.Equal(t, []byte{0x01}, prefixUpperBound([]byte{0x00, 0xff})[:1])
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}
