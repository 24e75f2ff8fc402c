package chat

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("chat: message not found")

// Table is the durable message table: keyed by id, listed by ascending timestamp.
type Table interface {
	List(ctx context.Context) ([]Message, error)
	Get(ctx context.Context, id string) (Message, error)
	Put(ctx context.Context, m Message) error
	PutMany(ctx context.Context, msgs []Message) error
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) error
	Clear(ctx context.Context) error
}
