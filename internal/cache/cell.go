package cache

import (
	"context"
	"sync"
	"time"
)

// Loader 负责在缓存过期时整体重建缓存内容。
type Loader[T any] func(ctx context.Context) (T, error)

// Cell 是一个进程级的单值 TTL 缓存。
// 到期后整体重建，重建期间持锁，避免多个调用方并发触发回源。
type Cell[T any] struct {
	mu     sync.Mutex
	ttl    time.Duration
	loader Loader[T]
	value  T
	loaded time.Time
	now    func() time.Time
}

// NewCell 创建 TTL 缓存，ttl 小于等于零时默认 60 秒。
func NewCell[T any](ttl time.Duration, loader Loader[T]) *Cell[T] {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Cell[T]{ttl: ttl, loader: loader, now: time.Now}
}

// Get 返回缓存值；过期或尚未加载时调用 loader 重建。
// 重建失败时返回错误，同时保留上一次的有效值以便下次重试。
func (c *Cell[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded.IsZero() && c.now().Sub(c.loaded) < c.ttl {
		return c.value, nil
	}

	value, err := c.loader(ctx)
	if err != nil {
		var zero T
		if c.loaded.IsZero() {
			return zero, err
		}
		// 回源失败时沿用过期数据，下一次调用会再次尝试重建。
		return c.value, err
	}

	c.value = value
	c.loaded = c.now()
	return c.value, nil
}

// Invalidate 立即失效缓存内容。
func (c *Cell[T]) Invalidate() {
	c.mu.Lock()
	c.loaded = time.Time{}
	c.mu.Unlock()
}
