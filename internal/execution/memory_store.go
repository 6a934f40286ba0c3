package execution

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "IntentChain/internal/errors"
)

// MemoryStore 在内存中保存提交记录,适用于测试和单机部署。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Create 插入新的提交记录。
func (s *MemoryStore) Create(_ context.Context, record *Record) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	if strings.TrimSpace(record.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录 ID 不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return ErrRecordConflict
	}
	now := time.Now().Unix()
	record.CreatedAt = now
	record.UpdatedAt = now
	s.records[record.ID] = cloneRecord(record)
	return nil
}

// Get 查询指定记录。
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneRecord(record), nil
}

// Claim 将记录标记为运行中并返回最新状态。
func (s *MemoryStore) Claim(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	switch record.Status {
	case StatusSucceeded:
		return cloneRecord(record), ErrRecordCompleted
	case StatusRunning:
		return cloneRecord(record), ErrRecordConflict
	}
	if record.Attempts >= record.MaxRetries {
		return cloneRecord(record), ErrRecordExhausted
	}
	record.Status = StatusRunning
	record.Attempts++
	record.LastError = ""
	record.ErrorCode = ""
	record.UpdatedAt = time.Now().Unix()
	return cloneRecord(record), nil
}

// MarkSucceeded 写入提交结果。
func (s *MemoryStore) MarkSucceeded(_ context.Context, id string, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	record.Status = StatusSucceeded
	record.Result = &Outcome{
		Digest:      outcome.Digest,
		BlockNumber: outcome.BlockNumber,
		Chain:       outcome.Chain,
	}
	record.LastError = ""
	record.ErrorCode = ""
	record.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 记录失败原因。
func (s *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	record.Status = StatusFailed
	record.LastError = lastError
	record.ErrorCode = string(code)
	if terminal {
		record.Attempts = record.MaxRetries
	}
	record.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的记录。
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Record, error) {
	opts.applyDefaults()

	s.mu.RLock()
	matched := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		if matchesFilter(record, opts) {
			matched = append(matched, cloneRecord(record))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.UpdatedAt != b.UpdatedAt {
			if opts.Order == SortByUpdatedAsc {
				return a.UpdatedAt < b.UpdatedAt
			}
			return a.UpdatedAt > b.UpdatedAt
		}
		if opts.Order == SortByUpdatedAsc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	if opts.Offset >= len(matched) {
		return []*Record{}, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// Stats 返回符合过滤条件的聚合统计。
func (s *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	for _, record := range s.records {
		if !matchesFilter(record, opts) {
			continue
		}
		stats.Total++
		switch record.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
		if stats.OldestUpdatedAt == 0 || record.UpdatedAt < stats.OldestUpdatedAt {
			stats.OldestUpdatedAt = record.UpdatedAt
		}
		if record.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = record.UpdatedAt
		}
	}
	return stats, nil
}

// Close 清空内存存储。
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*Record)
	return nil
}

func matchesFilter(record *Record, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		found := false
		for _, status := range opts.Statuses {
			if record.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if opts.Chain != "" && record.Chain != opts.Chain {
		return false
	}
	if opts.Address != "" && !strings.EqualFold(record.Address, opts.Address) {
		return false
	}
	if opts.UpdatedGTE > 0 && record.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && record.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.Query != "" {
		needle := strings.ToLower(opts.Query)
		haystacks := []string{record.Intent, record.SyntheticID, record.Address}
		if record.Result != nil {
			haystacks = append(haystacks, record.Result.Digest)
		}
		found := false
		for _, value := range haystacks {
			if strings.Contains(strings.ToLower(value), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func cloneRecord(record *Record) *Record {
	if record == nil {
		return nil
	}
	out := *record
	out.Plan = clonePlan(record.Plan)
	out.Effects = cloneEffects(record.Effects)
	if record.Result != nil {
		result := *record.Result
		out.Result = &result
	}
	return &out
}
