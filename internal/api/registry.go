package api

import (
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"mythweaver/internal/orchestrator"
)

// Registry 按会话ID保存编排器，过期或删除时关闭会话
type Registry struct {
	cache   *cache.Cache
	factory func() *orchestrator.Orchestrator
}

func NewRegistry(ttl time.Duration, factory func() *orchestrator.Orchestrator) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	c := cache.New(ttl, ttl/2)
	c.OnEvicted(func(id string, v any) {
		if o, ok := v.(*orchestrator.Orchestrator); ok {
			o.Dispose()
			logrus.WithField("session_id", id).Debug("会话已移除")
		}
	})
	return &Registry{cache: c, factory: factory}
}

// Create 新建会话
func (r *Registry) Create() *orchestrator.Orchestrator {
	o := r.factory()
	r.cache.SetDefault(o.ID(), o)
	return o
}

// Get 每次访问都会顺延过期时间
func (r *Registry) Get(id string) (*orchestrator.Orchestrator, bool) {
	v, ok := r.cache.Get(id)
	if !ok {
		return nil, false
	}
	o := v.(*orchestrator.Orchestrator)
	if !r.touch(id, o) {
		return nil, false
	}
	return o, true
}

// touch 顺延过期时间；读取之后刚被清理的会话不会被放回去
func (r *Registry) touch(id string, o *orchestrator.Orchestrator) bool {
	return r.cache.Replace(id, o, cache.DefaultExpiration) == nil
}

// Remove 删除并关闭会话
func (r *Registry) Remove(id string) bool {
	if _, ok := r.cache.Get(id); !ok {
		return false
	}
	r.cache.Delete(id)
	return true
}

func (r *Registry) Len() int {
	return r.cache.ItemCount()
}

// Close 关闭所有会话
func (r *Registry) Close() {
	for id := range r.cache.Items() {
		r.cache.Delete(id)
	}
}
