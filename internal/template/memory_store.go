package template

import (
	"context"
	"strings"
	"sync"
	"time"

	xerrors "IntentChain/internal/errors"
)

// MemoryStore 使用内存保存模板，主要用于测试与本地演示。
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]*Template
	byName    map[string]string
	now       func() time.Time
}

// NewMemoryStore 创建内存模板库。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[string]*Template),
		byName:    make(map[string]string),
		now:       time.Now,
	}
}

// Create 插入新的模板。
func (s *MemoryStore) Create(ctx context.Context, tpl *Template) error {
	if tpl == nil || strings.TrimSpace(tpl.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "模板 ID 不能为空")
	}
	if err := Validate(tpl); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[tpl.ID]; ok {
		return ErrTemplateConflict
	}
	now := s.now().Unix()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now
	s.templates[tpl.ID] = cloneTemplate(tpl)
	s.byName[strings.ToLower(tpl.Name)] = tpl.ID
	return nil
}

// Update 更新已存在的模板。
func (s *MemoryStore) Update(ctx context.Context, tpl *Template) error {
	if tpl == nil || strings.TrimSpace(tpl.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "模板 ID 不能为空")
	}
	if err := Validate(tpl); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.templates[tpl.ID]
	if !ok {
		return ErrTemplateNotFound
	}
	tpl.CreatedAt = old.CreatedAt
	tpl.UpdatedAt = s.now().Unix()
	delete(s.byName, strings.ToLower(old.Name))
	s.templates[tpl.ID] = cloneTemplate(tpl)
	s.byName[strings.ToLower(tpl.Name)] = tpl.ID
	return nil
}

// GetByID 按 ID 查找模板。
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return cloneTemplate(tpl), nil
}

// GetByName 按名称（不区分大小写）查找模板。
func (s *MemoryStore) GetByName(ctx context.Context, name string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return cloneTemplate(s.templates[id]), nil
}

// ListActive 返回所有处于启用状态的模板。
func (s *MemoryStore) ListActive(ctx context.Context) ([]*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Template, 0, len(s.templates))
	for _, tpl := range s.templates {
		if tpl.Active {
			result = append(result, cloneTemplate(tpl))
		}
	}
	return result, nil
}

// Close 实现 Store 接口。
func (s *MemoryStore) Close() error { return nil }

func cloneTemplate(tpl *Template) *Template {
	if tpl == nil {
		return nil
	}
	clone := *tpl
	clone.Tags = append([]string(nil), tpl.Tags...)
	clone.Collectors = append([]string(nil), tpl.Collectors...)
	clone.Embedding = append([]float32(nil), tpl.Embedding...)
	clone.Schema.Required = append([]string(nil), tpl.Schema.Required...)
	if tpl.Schema.Properties != nil {
		clone.Schema.Properties = make(map[string]PropertySchema, len(tpl.Schema.Properties))
		for k, v := range tpl.Schema.Properties {
			clone.Schema.Properties[k] = v
		}
	}
	return &clone
}
