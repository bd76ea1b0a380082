package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"mythweaver/internal/model"
)

// FileStore 把收藏列表存成本地JSON文件
type FileStore struct {
	file string
}

// NewFileStore 文件名为 <dir>/<key>.json
func NewFileStore(dir, key string) *FileStore {
	if err := os.MkdirAll(dir, 0755); err != nil {
		logrus.WithError(err).Warn("创建收藏目录失败")
	}
	return &FileStore{file: filepath.Join(dir, key+".json")}
}

func (s *FileStore) Load(ctx context.Context) ([]model.StoryResult, error) {
	data, err := os.ReadFile(s.file)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection file: %w", err)
	}
	var stories []model.StoryResult
	if err := json.Unmarshal(data, &stories); err != nil {
		return nil, fmt.Errorf("failed to decode collection file: %w", err)
	}
	return stories, nil
}

// Save 先写临时文件再重命名，避免写一半的文件
func (s *FileStore) Save(ctx context.Context, stories []model.StoryResult) error {
	data, err := json.MarshalIndent(stories, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode collection: %w", err)
	}
	tmp := s.file + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write collection file: %w", err)
	}
	if err := os.Rename(tmp, s.file); err != nil {
		return fmt.Errorf("failed to replace collection file: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"file":  s.file,
		"count": len(stories),
	}).Debug("收藏列表已写入")
	return nil
}
