// Package pipeline 是意图编译的入口:把自由文本或指定模板编译成
// 一份可签名的交易计划。每次调用都是 (输入, 已积累的直接参数)
// 的纯函数,服务端不保存任何会话;需要用户补充选择时,调用方把
// 选择并入 directParameters 后整体重放。
package pipeline

import (
	"context"
	"sort"
	"strings"
	"time"

	"IntentChain/internal/assembler"
	"IntentChain/internal/collector"
	"IntentChain/internal/combiner"
	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/intent"
	"IntentChain/internal/script"
	"IntentChain/internal/template"
	"IntentChain/pkg/logger"
)

// Status 标识一次调用的结果类型。
type Status string

const (
	// StatusReady 表示交易计划已装配完成,可以进入签名提交。
	StatusReady Status = "ready"
	// StatusCollecting 表示需要调用方补充参数或做出选择后重放。
	StatusCollecting Status = "collecting"
)

// Request 是流水线的唯一入口参数。
type Request struct {
	NaturalLanguageInput string            `json:"natural_language_input,omitempty"`
	TemplateID           string            `json:"template_id,omitempty"`
	ActingAddress        string            `json:"acting_address"`
	DirectParameters     map[string]string `json:"direct_parameters,omitempty"`
	OperationLimit       int               `json:"operation_limit,omitempty"`
}

// SelectionPrompt 描述一次需要用户做出的选择。
type SelectionPrompt struct {
	Field   string                      `json:"field"`
	Options []collector.SelectionOption `json:"options"`
}

// Response 是流水线的结果:要么是可签名的装配结果,要么是
// 参数收集提示。终态错误通过 error 返回。
type Response struct {
	Status        Status              `json:"status"`
	Assembly      *assembler.Assembly `json:"-"`
	Effects       []string            `json:"effects,omitempty"`
	Description   string              `json:"description,omitempty"`
	SyntheticID   string              `json:"synthetic_id,omitempty"`
	MissingFields []string            `json:"missing_fields,omitempty"`
	Selection     *SelectionPrompt    `json:"selection,omitempty"`
}

// Options 控制流水线的阈值与限制。
type Options struct {
	AcceptThreshold  float64
	OperationLimit   int
	MaxScriptOps     int
	MinTrustScore    float64
	DedupGrace       time.Duration
	CollectorTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.AcceptThreshold <= 0 {
		o.AcceptThreshold = 0.6
	}
	if o.OperationLimit <= 0 {
		o.OperationLimit = 4
	}
	if o.MaxScriptOps <= 0 {
		o.MaxScriptOps = 64
	}
	if o.MinTrustScore <= 0 {
		o.MinTrustScore = 0.5
	}
	if o.CollectorTimeout <= 0 {
		o.CollectorTimeout = 10 * time.Second
	}
}

// Pipeline 把各阶段组件编排成一次完整的意图编译。
type Pipeline struct {
	registry   *template.Registry
	decomposer *intent.Decomposer
	resolver   *intent.Resolver
	extractor  *intent.Extractor
	collectors *collector.Registry
	assembler  *assembler.Assembler
	dedup      *DedupGuard
	opts       Options
}

// New 创建流水线。
func New(
	registry *template.Registry,
	decomposer *intent.Decomposer,
	extractor *intent.Extractor,
	collectors *collector.Registry,
	opts Options,
) *Pipeline {
	opts.applyDefaults()
	return &Pipeline{
		registry:   registry,
		decomposer: decomposer,
		resolver:   intent.NewResolver(registry, extractor, opts.AcceptThreshold),
		extractor:  extractor,
		collectors: collectors,
		assembler: assembler.New(script.Policy{
			MaxOperations: opts.MaxScriptOps,
			MinTrustScore: opts.MinTrustScore,
		}),
		dedup: NewDedupGuard(opts.DedupGrace),
		opts:  opts,
	}
}

// Run 执行一次意图编译。并发的相同调用会被合并成一次计算。
func (p *Pipeline) Run(ctx context.Context, req Request) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	return p.dedup.Do(ctx, dedupKey(req), func() (*Response, error) {
		return p.run(ctx, req)
	})
}

// dedupKey 把请求归一化成去重键。直接参数必须参与键值:携带
// 用户选择的重放是一次新的计算,不能被上一轮 collecting 结果的
// 宽限期缓存合并。
func dedupKey(req Request) string {
	parts := []string{req.NaturalLanguageInput, req.TemplateID, req.ActingAddress}
	if len(req.DirectParameters) > 0 {
		keys := make([]string, 0, len(req.DirectParameters))
		for key := range req.DirectParameters {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			parts = append(parts, key+"="+req.DirectParameters[key])
		}
	}
	return strings.Join(parts, "\x1f")
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.ActingAddress) == "" {
		return xerrors.New(xerrors.CodeInputError, "缺少发起地址")
	}
	if strings.TrimSpace(req.NaturalLanguageInput) == "" && strings.TrimSpace(req.TemplateID) == "" {
		return xerrors.New(xerrors.CodeInputError, "需要提供自然语言输入或模板 ID")
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()

	candidates, err := p.selectCandidates(ctx, req)
	if err != nil {
		return nil, err
	}

	resolved := make([]combiner.ResolvedOperation, 0, len(candidates))
	for _, candidate := range candidates {
		params, halt, err := p.resolveParameters(ctx, req, candidate)
		if err != nil {
			return nil, err
		}
		if halt != nil {
			return halt, nil
		}
		resolved = append(resolved, combiner.ResolvedOperation{
			Template:   candidate.Template,
			Parameters: params,
		})
	}

	combined, err := combiner.Combine(resolved)
	if err != nil {
		return nil, err
	}

	bindParams := make(map[string]string, len(combined.Parameters)+1)
	for key, value := range combined.Parameters {
		bindParams[key] = value
	}
	bindParams["acting_address"] = req.ActingAddress

	assembly, err := p.assembler.Assemble(combined.Script, bindParams, req.ActingAddress, combined.TrustScore)
	if err != nil {
		return nil, err
	}

	logger.Audit().Info("意图编译完成",
		"acting_address", req.ActingAddress,
		"operations", len(resolved),
		"synthetic_id", combined.SyntheticID,
		"elapsed_ms", time.Since(started).Milliseconds(),
	)

	return &Response{
		Status:      StatusReady,
		Assembly:    assembly,
		Effects:     assembly.Effects,
		Description: combined.Description,
		SyntheticID: combined.SyntheticID,
	}, nil
}

// selectCandidates 确定本次调用要编译的操作列表。
func (p *Pipeline) selectCandidates(ctx context.Context, req Request) ([]intent.Candidate, error) {
	if id := strings.TrimSpace(req.TemplateID); id != "" {
		tpl, err := p.registry.GetByID(ctx, id)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeResolutionFailed, err, "指定的模板不存在")
		}
		extracted := map[string]string{}
		if input := strings.TrimSpace(req.NaturalLanguageInput); input != "" && p.extractor != nil {
			if params, extractErr := p.extractor.Extract(ctx, input, tpl); extractErr == nil {
				extracted = params
			} else {
				logger.L().Warn("指定模板的参数抽取失败,仅使用直接参数", "template", id, "error", extractErr)
			}
		}
		return []intent.Candidate{{SourceQuery: tpl.Name, Template: tpl, Extracted: extracted, Relevance: 1.0}}, nil
	}

	queries := p.decomposer.Decompose(ctx, req.NaturalLanguageInput)
	if len(queries) == 0 {
		return nil, xerrors.New(xerrors.CodeResolutionFailed, "输入中没有可执行的链上操作")
	}

	limit := p.opts.OperationLimit
	if req.OperationLimit > 0 && req.OperationLimit < limit {
		limit = req.OperationLimit
	}
	if len(queries) > limit {
		queries = queries[:limit]
	}

	candidates, err := p.resolver.Resolve(ctx, req.NaturalLanguageInput, queries)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, xerrors.New(xerrors.CodeResolutionFailed, "没有任何操作通过置信度检查")
	}
	return candidates, nil
}

// resolveParameters 运行单个候选操作的参数解析状态机。
// 返回的 halt 非空表示需要调用方补充选择后整体重放。
func (p *Pipeline) resolveParameters(ctx context.Context, req Request, candidate intent.Candidate) (map[string]string, *Response, error) {
	tpl := candidate.Template

	// 直接参数覆盖抽取参数。
	merged := make(map[string]string, len(candidate.Extracted)+len(req.DirectParameters))
	for key, value := range candidate.Extracted {
		merged[key] = value
	}
	for key, value := range req.DirectParameters {
		merged[key] = value
	}

	missing := missingFields(tpl.RequiredFields(), merged)
	if len(missing) == 0 {
		return merged, nil, nil
	}

	// 采集器严格串行执行:后一个采集器的输入可能依赖前一个的结果。
	resourceMissing := false
	ranCollector := false
	for _, name := range tpl.Collectors {
		c, ok := p.collectors.Get(name)
		if !ok {
			logger.L().Warn("模板声明了未注册的采集器", "template", tpl.ID, "collector", name)
			continue
		}

		collectorCtx, cancel := context.WithTimeout(ctx, p.opts.CollectorTimeout)
		input := make(map[string]string, len(merged)+1)
		for key, value := range merged {
			input[key] = value
		}
		input["acting_address"] = req.ActingAddress

		result, err := c.Collect(collectorCtx, input)
		cancel()
		ranCollector = true
		if err != nil {
			return nil, nil, xerrors.Wrap(xerrors.CodeResourceUnavailable, err,
				"采集器 "+name+" 执行失败")
		}

		if result.RequiresUserSelection && merged[result.SelectionField] == "" {
			// 立即暂停,后续采集器一律不再执行。
			return nil, &Response{
				Status:        StatusCollecting,
				MissingFields: missing,
				Selection: &SelectionPrompt{
					Field:   result.SelectionField,
					Options: result.SelectionOptions,
				},
			}, nil
		}

		if result.ResourceMissing {
			resourceMissing = true
		}
		for key, value := range result.IntegrationMapping {
			if _, direct := req.DirectParameters[key]; !direct {
				merged[key] = value
			}
		}
		missing = missingFields(tpl.RequiredFields(), merged)
		if len(missing) == 0 {
			return merged, nil, nil
		}
	}

	if !ranCollector {
		// 模板没有可用的采集器,让调用方直接补齐缺失参数后重放。
		return nil, &Response{Status: StatusCollecting, MissingFields: missing}, nil
	}

	// 采集器全部跑完仍缺参数:链上资源不存在不是瞬时状态,
	// 不做重试,直接以终态错误返回。
	code := xerrors.CodeParameterUnresolved
	if resourceMissing {
		code = xerrors.CodeResourceUnavailable
	}
	return nil, nil, xerrors.New(code,
		"模板 "+tpl.Name+" 的必填参数未解析: "+strings.Join(missing, ", "),
		xerrors.WithMetadata("template_id", tpl.ID),
		xerrors.WithMetadata("missing_fields", strings.Join(missing, ",")),
	)
}

func missingFields(required []string, params map[string]string) []string {
	missing := make([]string, 0, len(required))
	for _, field := range required {
		if strings.TrimSpace(params[field]) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}
