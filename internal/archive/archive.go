package archive

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/suPer8Hu/llm-playground/internal/chat"
	"github.com/suPer8Hu/llm-playground/internal/common"
	"github.com/suPer8Hu/llm-playground/internal/events"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNoSnapshot = errors.New("archive: no snapshot")

// Snapshot is one archived conversation state.
type Snapshot struct {
	ID           string         `gorm:"primaryKey;size:26" json:"id"` // ULID length
	EventID      string         `gorm:"size:26;uniqueIndex;not null" json:"event_id"`
	MessageCount int            `gorm:"not null" json:"message_count"`
	Payload      datatypes.JSON `json:"payload"`
	EventAt      time.Time      `gorm:"index" json:"event_at"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (Snapshot) TableName() string { return "playground_snapshots" }

// Messages decodes the archived conversation.
func (s Snapshot) Messages() ([]chat.Message, error) {
	var msgs []chat.Message
	if len(s.Payload) == 0 {
		return msgs, nil
	}
	err := json.Unmarshal(s.Payload, &msgs)
	return msgs, err
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Snapshot{})
}

// SaveSnapshot stores ev once; redelivered events with a known EventID are
// ignored and report created=false.
func (r *Repo) SaveSnapshot(ctx context.Context, ev events.ChangeEvent) (bool, error) {
	payload, err := json.Marshal(ev.Messages)
	if err != nil {
		return false, err
	}
	id, err := common.NewULID()
	if err != nil {
		return false, err
	}
	snap := Snapshot{
		ID:           id,
		EventID:      ev.EventID,
		MessageCount: len(ev.Messages),
		Payload:      datatypes.JSON(payload),
		EventAt:      ev.At,
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&snap)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Latest returns the most recent snapshot by event time.
func (r *Repo) Latest(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := r.db.WithContext(ctx).Order("event_at DESC").Order("id DESC").First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, ErrNoSnapshot
	}
	return s, err
}

// List returns up to limit snapshots, newest first.
func (r *Repo) List(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []Snapshot
	err := r.db.WithContext(ctx).Order("event_at DESC").Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}
