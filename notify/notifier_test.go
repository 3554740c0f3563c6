package notify

import (
	"context"
	"sync"
	"testing"
	"time"
)

func expectMessage(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return msg
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
	return Message{}
}

func expectNone(t *testing.T, ch <-chan Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Errorf("unexpected message %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SubscribeConfirmation(t *testing.T) {
	hub := NewHub()

	sub, err := hub.Subscribe("alerts", false)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	msg := expectMessage(t, sub.C())
	if msg.Kind != KindSubscribe || msg.Channel != "alerts" {
		t.Errorf("expected subscribe confirmation for alerts, got %+v", msg)
	}
}

func TestHub_ExactChannel(t *testing.T) {
	hub := NewHub()

	sub, _ := hub.Subscribe("alerts", false)
	defer sub.Unsubscribe()
	expectMessage(t, sub.C())

	if n := hub.Publish("other", "x"); n != 0 {
		t.Errorf("expected 0 receivers, got %d", n)
	}
	if n := hub.Publish("alerts", "hello"); n != 1 {
		t.Errorf("expected 1 receiver, got %d", n)
	}

	msg := expectMessage(t, sub.C())
	if msg.Kind != KindMessage || msg.Channel != "alerts" || msg.Payload != "hello" || msg.Pattern != "" {
		t.Errorf("unexpected message %+v", msg)
	}
	expectNone(t, sub.C())
}

func TestHub_PatternSubscription(t *testing.T) {
	hub := NewHub()

	sub, err := hub.Subscribe("sensor.*", true)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()
	expectMessage(t, sub.C())

	hub.Publish("sensor.kitchen", "21")
	hub.Publish("metrics.cpu", "99")

	msg := expectMessage(t, sub.C())
	if msg.Channel != "sensor.kitchen" || msg.Pattern != "sensor.*" {
		t.Errorf("unexpected message %+v", msg)
	}
	expectNone(t, sub.C())
}

func TestHub_PatternUsesRedisSyntax(t *testing.T) {
	hub := NewHub()

	sub, err := hub.Subscribe("news.{", true)
	if err != nil {
		t.Fatalf("redis accepts every pattern: %v", err)
	}
	defer sub.Unsubscribe()
	expectMessage(t, sub.C())

	hub.Publish("news.a", "skip")
	hub.Publish("news.{", "hit")

	msg := expectMessage(t, sub.C())
	if msg.Payload != "hit" {
		t.Errorf("unexpected message %+v", msg)
	}
	expectNone(t, sub.C())
}

func TestHub_SubscribeAfterClose(t *testing.T) {
	hub := NewHub()
	hub.Close()
	if _, err := hub.Subscribe("alerts", false); err != ErrHubClosed {
		t.Errorf("expected ErrHubClosed, got %v", err)
	}
}

func TestHub_UnsubscribeIdempotent(t *testing.T) {
	hub := NewHub()

	sub, _ := hub.Subscribe("alerts", false)
	expectMessage(t, sub.C())

	sub.Unsubscribe()
	sub.Unsubscribe()

	msg := expectMessage(t, sub.C())
	if msg.Kind != KindUnsubscribe {
		t.Errorf("expected unsubscribe confirmation, got %+v", msg)
	}
	if _, ok := <-sub.C(); ok {
		t.Error("expected channel to be closed")
	}
	if hub.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.Subscribers())
	}
	if n := hub.Publish("alerts", "late"); n != 0 {
		t.Errorf("expected 0 receivers after unsubscribe, got %d", n)
	}
}

func TestHub_StreamReadFromStart(t *testing.T) {
	hub := NewHub()

	id1, err := hub.XAdd("orders", "sku", "1")
	if err != nil {
		t.Fatal(err)
	}
	id2, _ := hub.XAdd("orders", "sku", "2")

	entries, err := hub.XRead(context.Background(), "orders", "0", time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].ID != id1 || entries[1].ID != id2 {
		t.Fatalf("unexpected entries %+v", entries)
	}

	entries, err = hub.XRead(context.Background(), "orders", id1, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != id2 {
		t.Fatalf("expected only %s, got %+v", id2, entries)
	}
}

func TestHub_StreamIDsIncrease(t *testing.T) {
	hub := NewHub()

	var prev streamID
	for i := 0; i < 100; i++ {
		raw, err := hub.XAdd("s", "k", "v")
		if err != nil {
			t.Fatal(err)
		}
		id, err := parseStreamID(raw)
		if err != nil {
			t.Fatal(err)
		}
		if !id.after(prev) {
			t.Fatalf("id %s not after %s", id, prev)
		}
		prev = id
	}
}

func TestHub_StreamDollarWaitsForNewEntries(t *testing.T) {
	hub := NewHub()
	hub.XAdd("orders", "old", "1")

	var wg sync.WaitGroup
	var got []StreamEntry
	var readErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, readErr = hub.XRead(context.Background(), "orders", "$", 0)
	}()

	time.Sleep(20 * time.Millisecond)
	id, _ := hub.XAdd("orders", "new", "2")
	wg.Wait()

	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(got) != 1 || got[0].ID != id || got[0].Fields[0] != "new" {
		t.Fatalf("expected only the new entry, got %+v", got)
	}
}

func TestHub_StreamBlockTimeout(t *testing.T) {
	hub := NewHub()

	start := time.Now()
	entries, err := hub.XRead(context.Background(), "empty", "$", 30*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if entries != nil {
		t.Errorf("expected nil on timeout, got %+v", entries)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("returned before the block elapsed")
	}
}

func TestHub_StreamContextCancel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := hub.XRead(ctx, "s", "$", 0)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("read did not return after cancel")
	}
}

func TestHub_StreamInvalidCursorAndFields(t *testing.T) {
	hub := NewHub()

	if _, err := hub.XRead(context.Background(), "s", "abc", time.Millisecond); err != ErrInvalidStreamID {
		t.Errorf("expected ErrInvalidStreamID, got %v", err)
	}
	if _, err := hub.XAdd("s", "lonely"); err != ErrOddFields {
		t.Errorf("expected ErrOddFields, got %v", err)
	}
}

func TestHub_CloseReleasesReaders(t *testing.T) {
	hub := NewHub()
	sub, _ := hub.Subscribe("alerts", false)

	done := make(chan error, 1)
	go func() {
		_, err := hub.XRead(context.Background(), "s", "$", 0)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	hub.Close()

	select {
	case err := <-done:
		if err != ErrHubClosed {
			t.Errorf("expected ErrHubClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("read did not return after close")
	}

	// Confirmation, unsubscribe, then closed.
	for range sub.C() {
	}
	if _, err := hub.XAdd("s", "k", "v"); err != ErrHubClosed {
		t.Errorf("expected ErrHubClosed, got %v", err)
	}
}

func TestHub_ConcurrentPublish(t *testing.T) {
	hub := NewHub()
	sub, _ := hub.Subscribe("c", false)
	defer sub.Unsubscribe()
	expectMessage(t, sub.C())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				hub.Publish("c", "x")
			}
		}()
	}
	wg.Wait()

	received := 0
	for received < 100 {
		expectMessage(t, sub.C())
		received++
	}
}
