// Package intent 负责把自由文本拆分成规范化的操作查询,
// 并为每个查询挑选、解析对应的交易模板。
package intent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"IntentChain/internal/lexicon"
	"IntentChain/internal/llm"
	"IntentChain/pkg/logger"
)

const decomposeSystemPrompt = `你是一个区块链钱包助手的意图拆分器。把用户输入拆分成一组操作查询,以 JSON 字符串数组输出。
规则:
1. 每个查询是 2 到 4 个英文单词,形如 "action object" 或 "action object platform"。
2. 一个连贯的动作(例如"把物品放进容器")只能产生一个查询,不能拆成多个。
3. 用户提到的平台或市场名称要并入查询文本。
4. 重复的意图要输出重复的查询(例如"转账两次"输出两条 transfer 查询)。
5. 输入不包含任何链上操作(例如提问、闲聊)时输出空数组 []。
只输出 JSON 数组,不要任何解释。`

// Decomposer 把自由文本拆分成有序的操作查询列表。
// 大模型不可用或输出无法解析时降级到关键词词表扫描。
type Decomposer struct {
	llmClient  llm.Client
	lex        *lexicon.Lexicon
	timeout    time.Duration
	maxQueries int
}

// DecomposerOption 定义可选的拆分器配置。
type DecomposerOption func(*Decomposer)

// WithTimeout 设置调用大模型的超时时间。
func WithTimeout(timeout time.Duration) DecomposerOption {
	return func(d *Decomposer) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithMaxQueries 限制单次拆分输出的查询数量。
func WithMaxQueries(max int) DecomposerOption {
	return func(d *Decomposer) {
		if max > 0 {
			d.maxQueries = max
		}
	}
}

// NewDecomposer 创建意图拆分器。llmClient 可以为 nil,
// 此时只使用词表扫描。
func NewDecomposer(llmClient llm.Client, lex *lexicon.Lexicon, opts ...DecomposerOption) *Decomposer {
	d := &Decomposer{
		llmClient:  llmClient,
		lex:        lex,
		maxQueries: 4,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.lex == nil {
		d.lex = lexicon.Default(d.maxQueries)
	}
	return d
}

// Decompose 拆分用户输入。非操作类输入返回空列表而不是错误。
func (d *Decomposer) Decompose(ctx context.Context, text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if d.llmClient != nil {
		if queries, ok := d.decomposeWithLLM(ctx, text); ok {
			return queries
		}
	}
	return d.lex.Scan(text)
}

func (d *Decomposer) decomposeWithLLM(ctx context.Context, text string) ([]string, bool) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	resp, err := d.llmClient.Complete(ctx, llm.CompletionRequest{
		System: decomposeSystemPrompt,
		Prompt: text,
	})
	if err != nil {
		logger.L().Warn("意图拆分调用大模型失败,降级到词表扫描", "error", err)
		return nil, false
	}

	queries, err := parseQueryList(resp.Content)
	if err != nil {
		logger.L().Warn("意图拆分输出无法解析,降级到词表扫描", "content", resp.Content, "error", err)
		return nil, false
	}
	if len(queries) > d.maxQueries {
		queries = queries[:d.maxQueries]
	}
	return queries, true
}

// parseQueryList 从大模型输出中恢复 JSON 字符串数组,
// 容忍外层包裹的 Markdown 代码块。
func parseQueryList(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raw []string
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, err
	}

	queries := make([]string, 0, len(raw))
	for _, q := range raw {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		queries = append(queries, q)
	}
	return queries, nil
}
