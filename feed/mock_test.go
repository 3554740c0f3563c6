package feed

import (
	"context"
	"errors"
	"sync"
	"time"
)

type readResult struct {
	entries []StreamEntry
	err     error
}

// fakeConn scripts stream reads and pub/sub deliveries.
type fakeConn struct {
	reads chan readResult

	mu           sync.Mutex
	cursors      []string
	subs         []*fakeSub
	subscribeErr error
	autoConfirm  bool
	onSubscribe  func(*fakeSub) // runs after the confirmation is queued

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:       make(chan readResult, 16),
		closed:      make(chan struct{}),
		autoConfirm: true,
	}
}

func (c *fakeConn) Subscribe(ctx context.Context, pattern bool, target string) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}
	sub := &fakeSub{
		conn:       c,
		pattern:    pattern,
		target:     target,
		deliveries: make(chan Delivery, 16),
	}
	if c.autoConfirm {
		sub.deliveries <- Delivery{Kind: DeliverySubscribed, Channel: target}
	}
	if c.onSubscribe != nil {
		c.onSubscribe(sub)
	}
	c.subs = append(c.subs, sub)
	return sub, nil
}

func (c *fakeConn) ReadStream(ctx context.Context, stream, cursor string, block time.Duration) ([]StreamEntry, error) {
	c.mu.Lock()
	c.cursors = append(c.cursors, cursor)
	c.mu.Unlock()

	select {
	case r := <-c.reads:
		return r.entries, r.err
	case <-c.closed:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) readCursors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.cursors))
	copy(out, c.cursors)
	return out
}

func (c *fakeConn) sub(i int) *fakeSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.subs) {
		return nil
	}
	return c.subs[i]
}

type fakeSub struct {
	conn       *fakeConn
	pattern    bool
	target     string
	deliveries chan Delivery

	mu           sync.Mutex
	unsubscribed int
}

func (s *fakeSub) Receive(ctx context.Context) (Delivery, error) {
	select {
	case d := <-s.deliveries:
		if d.Kind == -1 {
			return Delivery{}, errors.New("connection reset by peer")
		}
		return d, nil
	case <-s.conn.closed:
		return Delivery{}, ErrConnClosed
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

func (s *fakeSub) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	s.unsubscribed++
	s.mu.Unlock()
	s.deliveries <- Delivery{Kind: DeliveryUnsubscribed, Channel: s.target}
	return nil
}

func (s *fakeSub) unsubscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

func (s *fakeSub) publish(channel, payload string) {
	d := Delivery{Kind: DeliveryMessage, Channel: channel, Payload: payload}
	if s.pattern {
		d.Pattern = s.target
	}
	s.deliveries <- d
}

// fail makes the next Receive return a non-closed error.
func (s *fakeSub) fail() {
	s.deliveries <- Delivery{Kind: -1}
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	setup func(*fakeConn)
	err   error
}

func (d *fakeDialer) Dial(ctx context.Context, details Details) (Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	if d.setup != nil {
		d.setup(c)
	}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

type disableCall struct {
	id     string
	status int
	reason string
}

type fakeManager struct {
	mu       sync.Mutex
	fired    map[string][]Event
	disabled []disableCall
	fireErr  func(id string, event Event) error
}

func newFakeManager() *fakeManager {
	return &fakeManager{fired: make(map[string][]Event)}
}

func (m *fakeManager) FireTrigger(ctx context.Context, id string, event Event) error {
	if m.fireErr != nil {
		if err := m.fireErr(id, event); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fired[id] = append(m.fired[id], event)
	return nil
}

func (m *fakeManager) DisableTrigger(ctx context.Context, id string, status int, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = append(m.disabled, disableCall{id: id, status: status, reason: reason})
}

func (m *fakeManager) firedFor(id string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.fired[id]))
	copy(out, m.fired[id])
	return out
}

func (m *fakeManager) disables() []disableCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]disableCall, len(m.disabled))
	copy(out, m.disabled)
	return out
}

type memCache struct {
	mu     sync.Mutex
	data   map[string]string
	sets   []string
	getErr error
	setErr error
	dels   int
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string]string)}
}

func (c *memCache) Get(ctx context.Context, id string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return "", false, c.getErr
	}
	v, ok := c.data[id]
	return v, ok, nil
}

func (c *memCache) Set(ctx context.Context, id, entryID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.data[id] = entryID
	c.sets = append(c.sets, entryID)
	return nil
}

func (c *memCache) Del(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, id)
	c.dels++
	return nil
}

func (c *memCache) value(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[id]
	return v, ok
}

func (c *memCache) setHistory() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sets))
	copy(out, c.sets)
	return out
}

// errorSink collects listener errors.
type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (e *errorSink) handle(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

func (e *errorSink) all() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]error, len(e.errs))
	copy(out, e.errs)
	return out
}
