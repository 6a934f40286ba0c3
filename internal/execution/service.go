package execution

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/ledger"
	"IntentChain/pkg/logger"
)

// SubmitRequest 描述一次交易计划的提交请求。
type SubmitRequest struct {
	// ID 可选,指定后重复提交将返回已有记录。
	ID          string
	Intent      string
	SyntheticID string
	Chain       string
	Address     string
	Plan        *ledger.Plan
	Effects     []string
}

// Service 负责提交记录的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造提交服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 创建一条新的提交记录并推送到队列。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Record, error) {
	if req.Plan == nil || len(req.Plan.Operations) == 0 {
		return nil, xerrors.New(CodeRecordValidation, "提交的交易计划不能为空")
	}
	if strings.TrimSpace(req.Address) == "" {
		return nil, xerrors.New(CodeRecordValidation, "提交地址不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "提交服务未初始化")
	}

	recordID := strings.TrimSpace(req.ID)
	if recordID != "" {
		record, err := s.store.Get(ctx, recordID)
		if err == nil {
			return record, nil
		}
		if !stdErrors.Is(err, ErrRecordNotFound) {
			return nil, err
		}
	} else {
		recordID = uuid.NewString()
	}

	planJSON, err := json.Marshal(req.Plan)
	if err != nil {
		return nil, xerrors.Wrap(CodeRecordValidation, err, "编码交易计划失败")
	}

	record := &Record{
		ID:          recordID,
		Intent:      req.Intent,
		SyntheticID: req.SyntheticID,
		Chain:       req.Chain,
		Address:     req.Address,
		Plan:        planJSON,
		Effects:     cloneEffects(req.Effects),
		Status:      StatusPending,
		Attempts:    0,
		MaxRetries:  s.maxRetries,
	}
	if err := s.store.Create(ctx, record); err != nil {
		if stdErrors.Is(err, ErrRecordConflict) {
			existing, getErr := s.store.Get(ctx, recordID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrRecordNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, recordID); err != nil {
		logger.L().Error("提交入队失败", slog.Any("error", err), slog.String("record_id", recordID))
		wrapped := xerrors.Wrap(CodeRecordPublish, err, "发布提交记录到队列失败")
		_ = s.store.MarkFailed(ctx, recordID, CodeRecordPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("提交入队成功",
		slog.String("record_id", recordID),
		slog.String("synthetic_id", record.SyntheticID),
		slog.String("address", record.Address),
		slog.String("chain", record.Chain),
		slog.Int("max_retries", record.MaxRetries),
	)
	return record, nil
}

// Get 返回指定记录的状态。
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "提交存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的记录列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Record, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "提交存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.List(ctx, options)
}

// Stats 返回符合过滤条件的统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "提交存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.Stats(ctx, options)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 在指定超时时间内轮询记录状态。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Record, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		record, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if record.Status == StatusSucceeded || record.Status == StatusFailed {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
