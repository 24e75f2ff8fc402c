package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"
)

var (
	msgPrefix    = []byte("msg/")
	msgPrefixEnd = []byte("msg0") // '/'+1
)

// PebbleTable stores one JSON value per message under msg/<id>.
type PebbleTable struct {
	db *pebble.DB
}

// OpenPebbleTable opens (or creates) a pebble database at path.
func OpenPebbleTable(path string, opts *pebble.Options) (*PebbleTable, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	return &PebbleTable{db: db}, nil
}

func (t *PebbleTable) Close() error {
	if t == nil || t.db == nil {
		return nil
	}
	return t.db.Close()
}

func msgKey(id string) []byte {
	return append(append([]byte(nil), msgPrefix...), id...)
}

func (t *PebbleTable) List(_ context.Context) ([]Message, error) {
	it, err := t.db.NewIter(&pebble.IterOptions{LowerBound: msgPrefix, UpperBound: msgPrefixEnd})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Message
	for ok := it.First(); ok; ok = it.Next() {
		var m Message
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", bytes.TrimPrefix(it.Key(), msgPrefix), err)
		}
		out = append(out, m)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *PebbleTable) Get(_ context.Context, id string) (Message, error) {
	v, closer, err := t.db.Get(msgKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Message{}, ErrNotFound
		}
		return Message{}, err
	}
	defer closer.Close()

	var m Message
	if err := json.Unmarshal(v, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (t *PebbleTable) Put(_ context.Context, m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return t.db.Set(msgKey(m.ID), b, pebble.Sync)
}

func (t *PebbleTable) PutMany(_ context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := t.db.NewBatch()
	defer batch.Close()
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if err := batch.Set(msgKey(m.ID), b, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (t *PebbleTable) Delete(_ context.Context, id string) error {
	return t.db.Delete(msgKey(id), pebble.Sync)
}

func (t *PebbleTable) DeleteMany(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	batch := t.db.NewBatch()
	defer batch.Close()
	for _, id := range ids {
		if err := batch.Delete(msgKey(id), nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (t *PebbleTable) Clear(_ context.Context) error {
	return t.db.DeleteRange(msgPrefix, msgPrefixEnd, pebble.Sync)
}

var _ Table = (*PebbleTable)(nil)
