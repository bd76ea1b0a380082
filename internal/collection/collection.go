package collection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mythweaver/internal/model"
)

// ErrIndexOutOfRange 下标越界
var ErrIndexOutOfRange = errors.New("saved story index out of range")

// Store 收藏列表的持久化后端，整个列表作为一个条目读写
type Store interface {
	// Load 条目不存在时返回nil, nil
	Load(ctx context.Context) ([]model.StoryResult, error)
	Save(ctx context.Context, stories []model.StoryResult) error
}

// Collection 按插入顺序保存故事快照，没有ID，只按下标访问
type Collection struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

func New(store Store) *Collection {
	return &Collection{store: store, now: time.Now}
}

// List 返回全部快照的拷贝，空列表不为nil
func (c *Collection) List(ctx context.Context) ([]model.StoryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stories, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.StoryResult, 0, len(stories))
	for i := range stories {
		out = append(out, *stories[i].Clone())
	}
	return out, nil
}

// Save 追加一份快照并记录保存时间，不去重
func (c *Collection) Save(ctx context.Context, story *model.StoryResult) (*model.StoryResult, error) {
	if story == nil {
		return nil, errors.New("nothing to save")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	stories, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	snapshot := story.Clone()
	savedAt := c.now().UTC().Truncate(time.Second)
	snapshot.SavedAt = &savedAt

	stories = append(stories, *snapshot)
	if err := c.store.Save(ctx, stories); err != nil {
		return nil, fmt.Errorf("save collection: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"title": snapshot.Title,
		"index": len(stories) - 1,
	}).Info("故事已收藏")
	return snapshot.Clone(), nil
}

// Get 读取下标i处的快照
func (c *Collection) Get(ctx context.Context, i int) (*model.StoryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stories, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(stories) {
		return nil, ErrIndexOutOfRange
	}
	return stories[i].Clone(), nil
}

// Delete 删除下标i处的快照，后面的下标依次前移
func (c *Collection) Delete(ctx context.Context, i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stories, err := c.load(ctx)
	if err != nil {
		return err
	}
	if i < 0 || i >= len(stories) {
		return ErrIndexOutOfRange
	}
	removed := stories[i].Title
	stories = append(stories[:i], stories[i+1:]...)
	if err := c.store.Save(ctx, stories); err != nil {
		return fmt.Errorf("save collection: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"title": removed,
		"index": i,
	}).Info("收藏已删除")
	return nil
}

// AfterDelete 删除deleted之后调整当前选中的下标，-1表示清空选中
func AfterDelete(selected, deleted int) int {
	switch {
	case selected < 0 || selected == deleted:
		return -1
	case selected > deleted:
		return selected - 1
	default:
		return selected
	}
}

func (c *Collection) load(ctx context.Context) ([]model.StoryResult, error) {
	stories, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load collection: %w", err)
	}
	return stories, nil
}
