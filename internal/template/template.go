package template

import (
	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/script"
)

// PropertySchema 描述单个参数的类型与说明。
type PropertySchema struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// InputSchema 描述模板执行前必须补齐的参数集合。
type InputSchema struct {
	Required   []string                  `json:"required"`
	Properties map[string]PropertySchema `json:"properties"`
}

// Template 是模板库中的一条可执行操作模板。
// Script 保存受限指令序列的 JSON 源码，由脚本校验器在注册与执行两个时点检查。
type Template struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Tags        []string    `json:"tags"`
	Script      string      `json:"script"`
	Schema      InputSchema `json:"input_schema"`
	Collectors  []string    `json:"supporting_collectors"`
	Embedding   []float32   `json:"embedding,omitempty"`
	TrustScore  float64     `json:"trust_score"`
	Active      bool        `json:"active"`
	CreatedAt   int64       `json:"created_at"`
	UpdatedAt   int64       `json:"updated_at"`
}

// RequiredFields 返回模板声明的必填参数名列表副本。
func (t *Template) RequiredFields() []string {
	if t == nil || len(t.Schema.Required) == 0 {
		return nil
	}
	fields := make([]string, len(t.Schema.Required))
	copy(fields, t.Schema.Required)
	return fields
}

// Validate 在注册时点校验模板脚本。指令面检查在注册与执行两个
// 时点各做一次:不合法的脚本不允许入库,而不是等到装配时才暴露。
// 信任分下限与指令数量上限跟随运行配置,由执行策略裁决,这里只
// 检查脚本能否解析以及指令是否落在允许的操作面内。
func Validate(tpl *Template) error {
	if tpl == nil {
		return xerrors.New(CodeTemplateValidation, "模板不能为空")
	}
	parsed, err := script.Parse(tpl.Script)
	if err != nil {
		return xerrors.Wrap(CodeTemplateValidation, err, "模板脚本无法解析")
	}
	policy := script.Policy{}
	if err := policy.Validate(parsed, tpl.TrustScore); err != nil {
		return xerrors.Wrap(CodeTemplateValidation, err, "模板脚本未通过指令面校验")
	}
	return nil
}

var (
	// ErrTemplateNotFound 表示指定的模板不存在。
	ErrTemplateNotFound = xerrors.New(CodeTemplateNotFound, "template not found")
	// ErrTemplateConflict 表示模板 ID 已存在。
	ErrTemplateConflict = xerrors.New(CodeTemplateConflict, "template already exists", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeTemplateNotFound   xerrors.Code = "TEMPLATE_NOT_FOUND"
	CodeTemplateConflict   xerrors.Code = "TEMPLATE_CONFLICT"
	CodeTemplateValidation xerrors.Code = "TEMPLATE_VALIDATION_FAILED"
)

func init() {
	xerrors.Register(CodeTemplateNotFound, xerrors.Attributes{
		Message:   "template not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTemplateConflict, xerrors.Attributes{
		Message:   "template already exists",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTemplateValidation, xerrors.Attributes{
		Message:   "template validation failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}
