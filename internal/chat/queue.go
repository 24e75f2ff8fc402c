package chat

import (
	"context"
	"sync"
)

// opQueue serializes operations per message id. Each entry is the done
// channel of the most recently submitted operation for that id.
type opQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newOpQueue() *opQueue {
	return &opQueue{tails: make(map[string]chan struct{})}
}

// enter registers an operation on id and blocks until every earlier
// operation on the same id has released. The returned release must be called
// exactly once; extra calls are ignored.
//
// If ctx ends while waiting, the slot is still handed on in order once the
// predecessor finishes, so later operations never skip ahead.
func (q *opQueue) enter(ctx context.Context, id string) (func(), error) {
	done := make(chan struct{})

	q.mu.Lock()
	prev := q.tails[id]
	q.tails[id] = done
	q.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(done)
			q.mu.Lock()
			if q.tails[id] == done {
				delete(q.tails, id)
			}
			q.mu.Unlock()
		})
	}

	if prev == nil {
		return release, nil
	}
	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		go func() {
			<-prev
			release()
		}()
		return nil, ctx.Err()
	}
}

// waitAll blocks until every operation submitted before the call has released.
func (q *opQueue) waitAll(ctx context.Context) error {
	q.mu.Lock()
	pending := make([]chan struct{}, 0, len(q.tails))
	for _, ch := range q.tails {
		pending = append(pending, ch)
	}
	q.mu.Unlock()

	for _, ch := range pending {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// pending reports how many ids currently have a queued or running operation.
func (q *opQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}
