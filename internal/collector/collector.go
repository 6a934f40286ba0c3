// Package collector 实现参数解析阶段的辅助数据采集器。
// 采集器负责补齐模板缺失的参数,可能要求用户在多个候选中做出选择。
package collector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SelectionOption 是一次用户选择中的一个候选项。
type SelectionOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Result 是一次采集的结果。IntegrationMapping 中的键值会被
// 自动并入参数集;RequiresUserSelection 为 true 时流水线必须
// 立即暂停并把候选项返回给调用方。
type Result struct {
	Success               bool              `json:"success"`
	Data                  map[string]string `json:"data,omitempty"`
	RequiresUserSelection bool              `json:"requires_user_selection,omitempty"`
	SelectionField        string            `json:"selection_field,omitempty"`
	SelectionOptions      []SelectionOption `json:"selection_options,omitempty"`
	IntegrationMapping    map[string]string `json:"integration_mapping,omitempty"`
	// ResourceMissing 表示采集器正常执行但链上不存在匹配的资源,
	// 例如指定交易对没有任何流动性池。
	ResourceMissing bool `json:"resource_missing,omitempty"`
}

// Collector 定义辅助数据采集器的统一接口。
type Collector interface {
	Name() string
	Collect(ctx context.Context, params map[string]string) (*Result, error)
}

// Registry 按名字管理已注册的采集器。
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]Collector
}

// NewRegistry 创建空的采集器注册表。
func NewRegistry() *Registry {
	return &Registry{collectors: make(map[string]Collector)}
}

// Register 注册一个采集器,名字重复时返回错误。
func (r *Registry) Register(c Collector) error {
	if c == nil || strings.TrimSpace(c.Name()) == "" {
		return fmt.Errorf("采集器名字不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.collectors[c.Name()]; exists {
		return fmt.Errorf("采集器 %s 已注册", c.Name())
	}
	r.collectors[c.Name()] = c
	return nil
}

// Get 按名字查找采集器。
func (r *Registry) Get(name string) (Collector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[name]
	return c, ok
}

// Names 返回已注册采集器的名字,按字典序排列。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
