package execution

import (
	"context"

	xerrors "IntentChain/internal/errors"
)

// Store 定义提交记录的持久化接口。
type Store interface {
	// Create 持久化一条新的提交记录。
	Create(ctx context.Context, record *Record) error
	// Get 返回指定记录,未找到时返回 ErrRecordNotFound。
	Get(ctx context.Context, id string) (*Record, error)
	// Claim 以原子方式将记录标记为运行中并累加尝试次数。
	Claim(ctx context.Context, id string) (*Record, error)
	// MarkSucceeded 写入提交结果并将记录置为成功。
	MarkSucceeded(ctx context.Context, id string, outcome Outcome) error
	// MarkFailed 记录失败原因;terminal 为 true 时不再重试。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	// List 返回符合过滤条件的记录。
	List(ctx context.Context, opts ListOptions) ([]*Record, error)
	// Stats 返回符合过滤条件的聚合统计。
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	// Close 释放底层资源。
	Close() error
}
