package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDuplicateID       = errors.New("chat: duplicate message id")
	ErrInvalidRole       = errors.New("chat: invalid role")
	ErrEmptyContent      = errors.New("chat: message has no content")
	ErrReorderInProgress = errors.New("chat: reorder already in progress")
)

// PersistPolicy decides whether AddMessage notifies before or after the
// durable write.
type PersistPolicy int

const (
	// PersistOptimistic updates the cache and notifies, then writes.
	PersistOptimistic PersistPolicy = iota
	// PersistDurable writes first and only then touches the cache.
	PersistDurable
)

func (p PersistPolicy) String() string {
	if p == PersistDurable {
		return "durable"
	}
	return "optimistic"
}

// ParsePersistPolicy maps a config value to a policy; unknown values are optimistic.
func ParsePersistPolicy(s string) PersistPolicy {
	if s == "durable" {
		return PersistDurable
	}
	return PersistOptimistic
}

// Listener receives a private copy of the ordered message list.
type Listener func(msgs []Message)

type Option func(*Store)

func WithPolicy(p PersistPolicy) Option {
	return func(s *Store) { s.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store owns the in-memory message cache and the durable table behind it.
//
// Locking order: queue slot, then gate, then mu. Listeners are invoked
// under notifyMu only and must not call mutating Store methods synchronously.
type Store struct {
	table  Table
	policy PersistPolicy
	now    func() time.Time

	queue      *opQueue
	gate       sync.RWMutex
	reordering atomic.Bool

	mu     sync.Mutex
	cache  []Message
	loaded bool
	lastTS int64

	notifyMu  sync.Mutex
	listeners []*listenerEntry
}

type listenerEntry struct {
	fn Listener
}

func NewStore(table Table, opts ...Option) *Store {
	s := &Store{
		table: table,
		now:   time.Now,
		queue: newOpQueue(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Policy() PersistPolicy { return s.policy }

// Subscribe registers fn and immediately calls it with the current snapshot.
// The returned func unsubscribes; calling it more than once is harmless.
func (s *Store) Subscribe(fn Listener) func() {
	e := &listenerEntry{fn: fn}

	s.notifyMu.Lock()
	s.listeners = append(s.listeners, e)
	fn(s.snapshot())
	s.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.notifyMu.Lock()
			defer s.notifyMu.Unlock()
			for i, l := range s.listeners {
				if l == e {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Init replaces the cache with the table contents.
func (s *Store) Init(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { observe("init", start, err) }()

	if err := s.queue.waitAll(ctx); err != nil {
		return err
	}
	s.gate.Lock()
	defer s.gate.Unlock()

	if err := s.reload(ctx); err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	s.notify()
	return nil
}

// reload reads the table into the cache. Caller holds the gate.
func (s *Store) reload(ctx context.Context) error {
	msgs, err := s.table.List(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cache = msgs
	s.loaded = true
	for _, m := range msgs {
		if m.Timestamp > s.lastTS {
			s.lastTS = m.Timestamp
		}
	}
	s.mu.Unlock()
	return nil
}

// AddMessage stamps msg with the next timestamp and appends it. An empty ID
// is filled with a fresh UUID. The stored copy is returned.
func (s *Store) AddMessage(ctx context.Context, msg Message) (out Message, err error) {
	start := time.Now()
	defer func() { observe("add", start, err) }()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if !msg.Role.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}
	if msg.Content == "" && len(msg.Files) == 0 {
		return Message{}, ErrEmptyContent
	}

	// held until the durable write returns so later edits and deletes on
	// this id land after it
	release, err := s.queue.enter(ctx, msg.ID)
	if err != nil {
		return Message{}, err
	}
	defer release()

	s.gate.RLock()
	defer s.gate.RUnlock()

	msg = msg.Clone()

	s.mu.Lock()
	if s.indexLocked(msg.ID) >= 0 {
		s.mu.Unlock()
		return Message{}, fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
	}
	msg.Timestamp = s.nextTimestampLocked(1)
	if s.policy == PersistOptimistic {
		s.cache = append(s.cache, msg)
	}
	s.mu.Unlock()

	if s.policy == PersistOptimistic {
		s.notify()
		if err := s.table.Put(ctx, msg); err != nil {
			log.Printf("[store] add persist failed id=%s err=%v", msg.ID, err)
			return msg.Clone(), fmt.Errorf("persist message %s: %w", msg.ID, err)
		}
		return msg.Clone(), nil
	}

	if err := s.table.Put(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("persist message %s: %w", msg.ID, err)
	}
	s.mu.Lock()
	s.insertLocked(msg)
	s.mu.Unlock()
	s.notify()
	return msg.Clone(), nil
}

// EditContent replaces only the content of id.
func (s *Store) EditContent(ctx context.Context, id, content string) error {
	return s.EditMessage(ctx, id, ContentUpdate(content))
}

// EditMessage applies u to id after every earlier operation on id finished.
// Editing an id that no longer exists is a silent no-op.
func (s *Store) EditMessage(ctx context.Context, id string, u Update) (err error) {
	start := time.Now()
	defer func() { observe("edit", start, err) }()

	release, err := s.queue.enter(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	s.gate.RLock()
	defer s.gate.RUnlock()

	cur, inCache, err := s.lookup(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	merged := u.apply(cur)
	if !merged.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, merged.Role)
	}
	if merged.Content == "" && len(merged.Files) == 0 {
		return ErrEmptyContent
	}
	if err := s.table.Put(ctx, merged); err != nil {
		return fmt.Errorf("persist edit %s: %w", id, err)
	}
	if !inCache {
		return nil
	}

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	merged.Timestamp = s.cache[i].Timestamp
	s.cache[i] = merged
	s.mu.Unlock()

	s.notify()
	return nil
}

// lookup finds id in the cache, falling back to the table before Init.
func (s *Store) lookup(ctx context.Context, id string) (Message, bool, error) {
	s.mu.Lock()
	if i := s.indexLocked(id); i >= 0 {
		m := s.cache[i].Clone()
		s.mu.Unlock()
		return m, true, nil
	}
	loaded := s.loaded
	s.mu.Unlock()

	if loaded {
		return Message{}, false, ErrNotFound
	}
	m, err := s.table.Get(ctx, id)
	if err != nil {
		return Message{}, false, err
	}
	return m, false, nil
}

// DeleteMessage removes id once every earlier operation on it finished.
func (s *Store) DeleteMessage(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { observe("delete", start, err) }()

	release, err := s.queue.enter(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	s.gate.RLock()
	defer s.gate.RUnlock()

	if err := s.table.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}

	s.mu.Lock()
	i := s.indexLocked(id)
	if i >= 0 {
		s.cache = append(s.cache[:i], s.cache[i+1:]...)
	}
	s.mu.Unlock()

	if i >= 0 {
		s.notify()
	}
	return nil
}

// ReorderMessages moves activeID to the position overID currently holds and
// rewrites every timestamp so the new order survives a reload. A call made
// while another reorder runs returns ErrReorderInProgress without effect.
//
// If the bulk write fails the cache is reloaded from the table before the
// error is returned.
func (s *Store) ReorderMessages(ctx context.Context, activeID, overID string) (err error) {
	start := time.Now()
	defer func() { observe("reorder", start, err) }()

	if !s.reordering.CompareAndSwap(false, true) {
		return ErrReorderInProgress
	}
	defer s.reordering.Store(false)

	if activeID == overID {
		return nil
	}

	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if !loaded {
		// nothing cached yet; reorder relative to the table order
		if err := s.queue.waitAll(ctx); err != nil {
			return err
		}
		s.gate.Lock()
		err := s.reload(ctx)
		s.gate.Unlock()
		if err != nil {
			return fmt.Errorf("load messages: %w", err)
		}
	}

	s.mu.Lock()
	from, to := s.indexLocked(activeID), s.indexLocked(overID)
	if from < 0 || to < 0 {
		s.mu.Unlock()
		return nil
	}
	s.cache = moveItem(s.cache, from, to)
	s.mu.Unlock()
	s.notify()

	if err := s.queue.waitAll(ctx); err != nil {
		return err
	}
	s.gate.Lock()
	defer s.gate.Unlock()

	s.mu.Lock()
	base := s.nextTimestampLocked(len(s.cache))
	for i := range s.cache {
		s.cache[i].Timestamp = base + int64(i)
	}
	batch := cloneAll(s.cache)
	s.mu.Unlock()

	if err := s.table.PutMany(ctx, batch); err != nil {
		log.Printf("[store] reorder persist failed active=%s over=%s err=%v", activeID, overID, err)
		if rerr := s.reload(ctx); rerr != nil {
			log.Printf("[store] reorder reconcile failed err=%v", rerr)
		}
		s.notify()
		return fmt.Errorf("persist reorder: %w", err)
	}

	s.notify()
	return nil
}

// DeleteMessagesFrom removes id and every message after it. Unknown ids are ignored.
func (s *Store) DeleteMessagesFrom(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { observe("delete_from", start, err) }()

	if err := s.queue.waitAll(ctx); err != nil {
		return err
	}
	s.gate.Lock()
	defer s.gate.Unlock()

	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if !loaded {
		// nothing cached yet; cut relative to the table order
		if err := s.reload(ctx); err != nil {
			return fmt.Errorf("load messages: %w", err)
		}
	}

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	ids := make([]string, 0, len(s.cache)-i)
	for _, m := range s.cache[i:] {
		ids = append(ids, m.ID)
	}
	s.mu.Unlock()

	if err := s.table.DeleteMany(ctx, ids); err != nil {
		return fmt.Errorf("delete messages from %s: %w", id, err)
	}

	s.mu.Lock()
	s.cache = s.cache[:i:i]
	s.mu.Unlock()
	s.notify()
	return nil
}

// Clear wipes the table and the cache.
func (s *Store) Clear(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { observe("clear", start, err) }()

	if err := s.queue.waitAll(ctx); err != nil {
		return err
	}
	s.gate.Lock()
	defer s.gate.Unlock()

	if err := s.table.Clear(ctx); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	s.mu.Lock()
	s.cache = nil
	s.loaded = true
	s.mu.Unlock()
	s.notify()
	return nil
}

// GetAllMessages returns a copy of the ordered messages. Before Init and
// while the cache is empty it reads the table without filling the cache.
func (s *Store) GetAllMessages(ctx context.Context) ([]Message, error) {
	s.mu.Lock()
	if s.loaded || len(s.cache) > 0 {
		out := cloneAll(s.cache)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	msgs, err := s.table.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Get returns a copy of one cached message.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.cache[i].Clone(), true
	}
	return Message{}, false
}

func (s *Store) snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.cache)
}

// notify delivers the latest cache state to every listener in registration order.
func (s *Store) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if len(s.listeners) == 0 {
		return
	}
	snap := s.snapshot()
	for i, l := range s.listeners {
		if i == len(s.listeners)-1 {
			l.fn(snap)
			break
		}
		l.fn(cloneAll(snap))
	}
}

// insertLocked keeps the cache ordered by timestamp when durable adds
// finish out of order.
func (s *Store) insertLocked(m Message) {
	i := len(s.cache)
	for i > 0 && s.cache[i-1].Timestamp > m.Timestamp {
		i--
	}
	s.cache = append(s.cache, Message{})
	copy(s.cache[i+1:], s.cache[i:])
	s.cache[i] = m
}

func (s *Store) indexLocked(id string) int {
	for i := range s.cache {
		if s.cache[i].ID == id {
			return i
		}
	}
	return -1
}

// nextTimestampLocked reserves n consecutive timestamps and returns the first.
// Issued values never go backwards even if the wall clock does.
func (s *Store) nextTimestampLocked(n int) int64 {
	ts := s.now().UnixMilli()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts + int64(n) - 1
	return ts
}

func moveItem(msgs []Message, from, to int) []Message {
	if from == to {
		return msgs
	}
	m := msgs[from]
	if from < to {
		copy(msgs[from:to], msgs[from+1:to+1])
	} else {
		copy(msgs[to+1:from+1], msgs[to:from])
	}
	msgs[to] = m
	return msgs
}

func cloneAll(msgs []Message) []Message {
	if msgs == nil {
		return []Message{}
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
