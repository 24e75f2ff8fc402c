package chat

import (
	"context"
	"sync"
	"testing"
	"time"
)

// waitForTail blocks until id's tail is no longer prev, i.e. a new operation registered.
func waitForTail(t *testing.T, q *opQueue, id string, prev chan struct{}) chan struct{} {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		q.mu.Lock()
		cur := q.tails[id]
		q.mu.Unlock()
		if cur != nil && cur != prev {
			return cur
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("operation on %s never registered", id)
	return nil
}

func TestOpQueue_FIFOPerID(t *testing.T) {
	q := newOpQueue()
	ctx := context.Background()

	release, err := q.enter(ctx, "m1")
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	tail := waitForTail(t, q, "m1", nil)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rel, err := q.enter(ctx, "m1")
			if err != nil {
				t.Errorf("enter %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			rel()
		}(i)
		tail = waitForTail(t, q, "m1", tail)
	}

	release()
	wg.Wait()

	for i, v := range order {
		if v != i+1 {
			t.Fatalf("operations ran out of order: %v", order)
		}
	}
	if q.pending() != 0 {
		t.Fatalf("expected queue drained, %d pending", q.pending())
	}
}

func TestOpQueue_DifferentIDsDoNotBlock(t *testing.T) {
	q := newOpQueue()
	ctx := context.Background()

	relA, _ := q.enter(ctx, "a")
	defer relA()

	done := make(chan struct{})
	go func() {
		rel, err := q.enter(ctx, "b")
		if err == nil {
			rel()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("operation on b waited for a")
	}
}

func TestOpQueue_CancelledWaiterKeepsChain(t *testing.T) {
	q := newOpQueue()
	bg := context.Background()

	rel1, _ := q.enter(bg, "m1")
	tail := waitForTail(t, q, "m1", nil)

	ctx, cancel := context.WithCancel(bg)
	cancelled := make(chan error, 1)
	go func() {
		_, err := q.enter(ctx, "m1")
		cancelled <- err
	}()
	tail = waitForTail(t, q, "m1", tail)

	third := make(chan struct{})
	go func() {
		rel, err := q.enter(bg, "m1")
		if err == nil {
			rel()
		}
		close(third)
	}()
	waitForTail(t, q, "m1", tail)

	cancel()
	if err := <-cancelled; err == nil {
		t.Fatalf("expected cancellation error")
	}

	select {
	case <-third:
		t.Fatalf("third operation skipped ahead of the first")
	case <-time.After(20 * time.Millisecond):
	}

	rel1()
	select {
	case <-third:
	case <-time.After(time.Second):
		t.Fatalf("chain broken after cancelled waiter")
	}
}

func TestOpQueue_WaitAll(t *testing.T) {
	q := newOpQueue()
	ctx := context.Background()

	relA, _ := q.enter(ctx, "a")
	relB, _ := q.enter(ctx, "b")

	waited := make(chan error, 1)
	go func() { waited <- q.waitAll(ctx) }()

	relA()
	select {
	case <-waited:
		t.Fatalf("waitAll returned with b still pending")
	case <-time.After(20 * time.Millisecond):
	}
	relB()
	if err := <-waited; err != nil {
		t.Fatalf("waitAll: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	rel, _ := q.enter(ctx, "c")
	defer rel()
	if err := q.waitAll(short); err == nil {
		t.Fatalf("expected waitAll to honour ctx")
	}
}
