package chat

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Repo is the gorm-backed durable message table.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Migrate creates or updates the message table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Message{})
}

// List returns every message in ASC timestamp order (oldest -> newest).
func (r *Repo) List(ctx context.Context) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Order("timestamp ASC").
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) Get(ctx context.Context, id string) (Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Message{}, ErrNotFound
		}
		return Message{}, err
	}
	return m, nil
}

// Put inserts or replaces the message with the same id.
func (r *Repo) Put(ctx context.Context, m Message) error {
	return r.db.WithContext(ctx).Save(&m).Error
}

// PutMany upserts all messages in a single transaction.
func (r *Repo) PutMany(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range msgs {
			if err := tx.Save(&msgs[i]).Error; err != nil {
				return fmt.Errorf("put %s: %w", msgs[i].ID, err)
			}
		}
		return nil
	})
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&Message{}, "id = ?", id).Error
}

func (r *Repo) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&Message{}).Error
}

func (r *Repo) Clear(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&Message{}).Error
}

var _ Table = (*Repo)(nil)
