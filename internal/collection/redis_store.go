package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"mythweaver/internal/model"
)

// RedisStore 收藏列表存在一个string key里
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) ([]model.StoryResult, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	var stories []model.StoryResult
	if err := json.Unmarshal(data, &stories); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.key, err)
	}
	return stories, nil
}

func (s *RedisStore) Save(ctx context.Context, stories []model.StoryResult) error {
	if stories == nil {
		stories = []model.StoryResult{}
	}
	data, err := json.Marshal(stories)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}
