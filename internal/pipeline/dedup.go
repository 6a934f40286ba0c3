package pipeline

import (
	"context"
	"sync"
	"time"
)

// dedupEntry 是一次在途或刚完成的共享计算。
type dedupEntry struct {
	done chan struct{}
	resp *Response
	err  error
}

// DedupGuard 合并并发的相同调用:相同去重键的调用共享同一次
// 计算。完成后的缓存条目再保留一个宽限期才被清除,这样客户端
// 的连击重复提交会被合并,而稍晚发出的真正新请求不受影响。
type DedupGuard struct {
	mu      sync.Mutex
	entries map[string]*dedupEntry
	grace   time.Duration
}

// NewDedupGuard 创建去重表。
func NewDedupGuard(grace time.Duration) *DedupGuard {
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &DedupGuard{
		entries: make(map[string]*dedupEntry),
		grace:   grace,
	}
}

// Do 以原子的查找或插入语义执行 fn。同键的并发调用等待第一次
// 计算完成并共享其结果。
func (g *DedupGuard) Do(ctx context.Context, key string, fn func() (*Response, error)) (*Response, error) {
	g.mu.Lock()
	if entry, inflight := g.entries[key]; inflight {
		g.mu.Unlock()
		select {
		case <-entry.done:
			return entry.resp, entry.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	entry := &dedupEntry{done: make(chan struct{})}
	g.entries[key] = entry
	g.mu.Unlock()

	entry.resp, entry.err = fn()
	close(entry.done)

	time.AfterFunc(g.grace, func() {
		g.mu.Lock()
		if g.entries[key] == entry {
			delete(g.entries, key)
		}
		g.mu.Unlock()
	})

	return entry.resp, entry.err
}

// Pending 返回当前去重表中的条目数,仅用于观测。
func (g *DedupGuard) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
