package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mythweaver/internal/model"
)

// SavedEntry 每个key一行，payload为整个收藏列表
type SavedEntry struct {
	Name      string         `gorm:"primaryKey;size:64"`
	Payload   datatypes.JSON // []StoryResult
	UpdatedAt time.Time
}

func (SavedEntry) TableName() string {
	return "saved_entries"
}

// GormStore sqlite/postgres后端
type GormStore struct {
	db  *gorm.DB
	key string
}

// NewGormStore 自动建表
func NewGormStore(db *gorm.DB, key string) (*GormStore, error) {
	if err := db.AutoMigrate(&SavedEntry{}); err != nil {
		return nil, fmt.Errorf("migrate saved_entries: %w", err)
	}
	return &GormStore{db: db, key: key}, nil
}

func (s *GormStore) Load(ctx context.Context) ([]model.StoryResult, error) {
	var entry SavedEntry
	err := s.db.WithContext(ctx).Where("name = ?", s.key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stories []model.StoryResult
	if len(entry.Payload) > 0 {
		if err := json.Unmarshal(entry.Payload, &stories); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.key, err)
		}
	}
	return stories, nil
}

func (s *GormStore) Save(ctx context.Context, stories []model.StoryResult) error {
	if stories == nil {
		stories = []model.StoryResult{}
	}
	data, err := json.Marshal(stories)
	if err != nil {
		return err
	}
	entry := SavedEntry{Name: s.key, Payload: datatypes.JSON(data)}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&entry).Error
}
