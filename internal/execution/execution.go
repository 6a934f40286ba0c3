package execution

import (
	"encoding/json"
	stdErrors "errors"

	xerrors "IntentChain/internal/errors"
)

// Status 表示提交记录在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome 保存一次链上提交的结果。
type Outcome struct {
	Digest      string `json:"digest"`
	BlockNumber string `json:"block_number"`
	Chain       string `json:"chain"`
}

// Record 描述一次排队提交的交易计划,构成提交审计记录。
type Record struct {
	ID          string          `json:"id"`
	Intent      string          `json:"intent"`
	SyntheticID string          `json:"synthetic_id"`
	Chain       string          `json:"chain"`
	Address     string          `json:"address"`
	Plan        json.RawMessage `json:"plan"`
	Effects     []string        `json:"effects,omitempty"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxRetries  int             `json:"max_retries"`
	LastError   string          `json:"last_error,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`
	Result      *Outcome        `json:"result,omitempty"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
}

var (
	// ErrRecordNotFound 表示指定的提交记录不存在。
	ErrRecordNotFound = xerrors.New(CodeRecordNotFound, "execution record not found")
	// ErrRecordConflict 表示记录在当前状态下无法进行所请求的操作。
	ErrRecordConflict = xerrors.New(CodeRecordConflict, "execution record conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrRecordCompleted 表示记录已经成功提交。
	ErrRecordCompleted = xerrors.New(CodeRecordCompleted, "execution already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrRecordExhausted 表示记录的重试次数已经耗尽。
	ErrRecordExhausted = xerrors.New(CodeRecordExhausted, "execution retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeRecordNotFound   xerrors.Code = "EXECUTION_NOT_FOUND"
	CodeRecordConflict   xerrors.Code = "EXECUTION_CONFLICT"
	CodeRecordCompleted  xerrors.Code = "EXECUTION_COMPLETED"
	CodeRecordExhausted  xerrors.Code = "EXECUTION_RETRIES_EXHAUSTED"
	CodeRecordValidation xerrors.Code = "EXECUTION_VALIDATION_FAILED"
	CodeRecordPublish    xerrors.Code = "EXECUTION_PUBLISH_FAILED"
)

func init() {
	xerrors.Register(CodeRecordNotFound, xerrors.Attributes{
		Message:   "execution record not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRecordConflict, xerrors.Attributes{
		Message:   "execution record conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRecordCompleted, xerrors.Attributes{
		Message:   "execution already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRecordExhausted, xerrors.Attributes{
		Message:   "execution retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeRecordValidation, xerrors.Attributes{
		Message:   "execution validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRecordPublish, xerrors.Attributes{
		Message:   "failed to publish execution",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// IsRecordError 判断错误是否为指定错误码的提交记录错误。
func IsRecordError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	var typed *xerrors.Error
	if !stdErrors.As(err, &typed) {
		return false
	}
	return typed.Code() == target
}

// IsValidStatus 校验状态取值是否合法。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneEffects(effects []string) []string {
	if len(effects) == 0 {
		return nil
	}
	out := make([]string, len(effects))
	copy(out, effects)
	return out
}

func clonePlan(plan json.RawMessage) json.RawMessage {
	if len(plan) == 0 {
		return nil
	}
	out := make(json.RawMessage, len(plan))
	copy(out, plan)
	return out
}
