package execution

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/ledger"
	"IntentChain/internal/observability/alerting"
	"IntentChain/internal/observability/metrics"
	"IntentChain/pkg/logger"
)

// ChainRouter 按链名选择客户端,未指定链时回退到默认链。
type ChainRouter interface {
	Client(name string) (ledger.Client, bool)
	DefaultClient() (ledger.Client, error)
}

// Processor 负责从队列消费提交记录并广播到目标链。
type Processor struct {
	chains      ChainRouter
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(chains ChainRouter, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		chains:      chains,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动提交处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置提交消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, recordID string) error {
	if p.store == nil || p.chains == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	record, err := p.store.Claim(ctx, recordID)
	if err != nil {
		if stdErrors.Is(err, ErrRecordNotFound) || stdErrors.Is(err, ErrRecordCompleted) || stdErrors.Is(err, ErrRecordExhausted) {
			p.logDebug("跳过记录", slog.String("record_id", recordID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取提交记录失败", slog.Any("error", err), slog.String("record_id", recordID))
		p.emitAlert(ctx, &Record{ID: recordID}, xerrors.CodeSubmissionFailed, err, "claim")
		return err
	}

	result, submitErr := p.broadcast(ctx, record)
	if submitErr != nil {
		return p.handleSubmitFailure(ctx, record, submitErr)
	}

	outcome := Outcome{
		Digest:      result.Digest,
		BlockNumber: result.BlockNumber,
		Chain:       record.Chain,
	}
	if err := p.store.MarkSucceeded(ctx, record.ID, outcome); err != nil {
		logger.L().Error("标记提交成功状态失败", slog.Any("error", err), slog.String("record_id", record.ID))
		if storeErr := p.store.MarkFailed(ctx, record.ID, xerrors.CodeSubmissionFailed, err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("record_id", record.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, record.ID); pubErr != nil {
			return xerrors.Wrap(CodeRecordPublish, pubErr, fmt.Sprintf("记录 %s 在标记成功失败后重投失败", record.ID))
		}
		logger.Audit().Warn("记录标记成功失败后重试",
			slog.String("record_id", record.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	metrics.ObserveSubmission("succeeded")
	logger.Audit().Info("交易提交成功",
		slog.String("record_id", record.ID),
		slog.String("synthetic_id", record.SyntheticID),
		slog.String("chain", record.Chain),
		slog.String("digest", outcome.Digest),
		slog.String("block_number", outcome.BlockNumber),
	)
	return nil
}

// broadcast 反序列化交易计划并通过目标链客户端广播。
func (p *Processor) broadcast(ctx context.Context, record *Record) (ledger.SubmitResult, error) {
	var plan ledger.Plan
	if err := json.Unmarshal(record.Plan, &plan); err != nil {
		return ledger.SubmitResult{}, xerrors.Wrap(CodeRecordValidation, err, "解析交易计划失败")
	}

	var client ledger.Client
	if record.Chain != "" {
		found, ok := p.chains.Client(record.Chain)
		if !ok {
			return ledger.SubmitResult{}, xerrors.New(xerrors.CodeSubmissionFailed,
				fmt.Sprintf("链 %s 未配置", record.Chain), xerrors.WithRetryable(false))
		}
		client = found
	} else {
		fallback, err := p.chains.DefaultClient()
		if err != nil {
			return ledger.SubmitResult{}, xerrors.Wrap(xerrors.CodeSubmissionFailed, err, "获取默认链客户端失败")
		}
		client = fallback
	}

	result, err := client.Submit(ctx, &plan)
	if err != nil {
		if typed, ok := xerrors.From(err); ok && typed.Code() != xerrors.CodeUnknown {
			return ledger.SubmitResult{}, err
		}
		return ledger.SubmitResult{}, xerrors.Wrap(xerrors.CodeSubmissionFailed, err, "广播交易失败")
	}
	return result, nil
}

func (p *Processor) handleSubmitFailure(ctx context.Context, record *Record, submitErr error) error {
	code := xerrors.CodeOf(submitErr)
	if code == xerrors.CodeUnknown {
		code = xerrors.CodeSubmissionFailed
	}
	retryable := xerrors.RetryableError(submitErr)
	terminal := record.Attempts >= record.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, record.ID, code, submitErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记提交失败状态出错", slog.Any("error", storeErr), slog.String("record_id", record.ID))
		return storeErr
	}
	metrics.ObserveSubmission("failed")
	logger.Audit().Warn("交易提交失败",
		slog.String("record_id", record.ID),
		slog.String("synthetic_id", record.SyntheticID),
		slog.String("chain", record.Chain),
		slog.Bool("terminal", terminal),
		slog.String("error", submitErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", record.Attempts),
		slog.Int("max_retries", record.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	} else if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, record, code, submitErr, stage)

	if retryable && !terminal {
		if pubErr := p.producer.Publish(ctx, record.ID); pubErr != nil {
			return xerrors.Wrap(CodeRecordPublish, pubErr, fmt.Sprintf("记录 %s 重投失败", record.ID))
		}
		p.logDebug("记录已重新排队", slog.String("record_id", record.ID), slog.Int("attempts", record.Attempts))
	}
	return nil
}

// RecoverStuck 将长时间停留在运行态的记录重新投递。
// 进程崩溃后残留的 running 记录依赖该方法恢复。
func (p *Processor) RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	if p.store == nil || p.producer == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	if olderThan <= 0 {
		olderThan = 5 * time.Minute
	}
	cutoff := time.Now().Add(-olderThan)
	stuck, err := p.store.List(ctx, ListOptions{
		Statuses:   []Status{StatusRunning},
		UpdatedLTE: cutoff.Unix(),
		Limit:      100,
	})
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, record := range stuck {
		if err := p.store.MarkFailed(ctx, record.ID, xerrors.CodeSubmissionFailed, "提交进程中断", false); err != nil {
			logger.L().Error("恢复滞留记录失败", slog.Any("error", err), slog.String("record_id", record.ID))
			continue
		}
		if err := p.producer.Publish(ctx, record.ID); err != nil {
			logger.L().Error("滞留记录重投失败", slog.Any("error", err), slog.String("record_id", record.ID))
			continue
		}
		recovered++
	}
	if recovered > 0 {
		logger.Audit().Info("恢复滞留提交记录", slog.Int("count", recovered))
	}
	return recovered, nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, record *Record, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || record == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	if record.Chain != "" {
		metadata["chain"] = record.Chain
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		RecordID:   record.ID,
		Attempts:   record.Attempts,
		MaxRetries: record.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("record_id", record.ID),
			slog.String("stage", stage),
		)
	}
}
