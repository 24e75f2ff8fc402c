package settings

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const recordKey = "playground"

// Record is one key/value row of the settings table.
type Record struct {
	Key       string `gorm:"primaryKey;type:varchar(64)"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (Record) TableName() string { return "playground_settings" }

// GormStore keeps the settings as a single JSON row.
type GormStore struct {
	db     *gorm.DB
	sealer *Sealer
}

func NewGormStore(db *gorm.DB, sealer *Sealer) *GormStore {
	return &GormStore{db: db, sealer: sealer}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

func (g *GormStore) Load(ctx context.Context) (Settings, error) {
	var rec Record
	err := g.db.WithContext(ctx).Where(&Record{Key: recordKey}).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	return Decode([]byte(rec.Value), g.sealer)
}

func (g *GormStore) Save(ctx context.Context, s Settings) error {
	b, err := Encode(s, g.sealer)
	if err != nil {
		return err
	}
	rec := Record{Key: recordKey, Value: string(b), UpdatedAt: time.Now()}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
}

var _ Repository = (*GormStore)(nil)
