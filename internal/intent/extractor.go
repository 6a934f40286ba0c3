package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/llm"
	"IntentChain/internal/template"
)

const extractSystemPrompt = `你是一个区块链钱包助手的参数抽取器。根据给出的参数说明,从用户输入中抽取参数值,以 JSON 对象输出。
规则:
1. 只输出说明中列出的参数,值一律为字符串。
2. 用户没有提到的参数不要输出,不要猜测。
3. 金额保持用户给出的原始写法,不要换算单位。
只输出 JSON 对象,不要任何解释。`

// Extractor 调用大模型从用户输入中抽取模板参数。
type Extractor struct {
	llmClient llm.Client
	timeout   time.Duration
}

// NewExtractor 创建参数抽取器。
func NewExtractor(llmClient llm.Client, timeout time.Duration) *Extractor {
	return &Extractor{llmClient: llmClient, timeout: timeout}
}

// Extract 针对单个模板抽取参数。每个候选操作只会调用一次,
// 以控制大模型调用量。
func (e *Extractor) Extract(ctx context.Context, userInput string, tpl *template.Template) (map[string]string, error) {
	if e == nil || e.llmClient == nil {
		return map[string]string{}, nil
	}
	if tpl == nil || len(tpl.Schema.Properties) == 0 {
		return map[string]string{}, nil
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.llmClient.Complete(ctx, llm.CompletionRequest{
		System: extractSystemPrompt,
		Prompt: buildExtractPrompt(userInput, tpl),
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeResolutionFailed, err, "参数抽取调用大模型失败")
	}

	params, err := parseParameterObject(resp.Content)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeResolutionFailed, err, "参数抽取输出无法解析")
	}

	// 丢弃模板未声明的参数。
	for key := range params {
		if _, declared := tpl.Schema.Properties[key]; !declared {
			delete(params, key)
		}
	}
	return params, nil
}

func buildExtractPrompt(userInput string, tpl *template.Template) string {
	var sb strings.Builder
	sb.WriteString("操作: ")
	sb.WriteString(tpl.Name)
	sb.WriteString("\n参数说明:\n")
	for _, field := range sortedPropertyNames(tpl) {
		prop := tpl.Schema.Properties[field]
		sb.WriteString(fmt.Sprintf("- %s (%s): %s\n", field, prop.Type, prop.Description))
	}
	sb.WriteString("用户输入: ")
	sb.WriteString(userInput)
	return sb.String()
}

func sortedPropertyNames(tpl *template.Template) []string {
	names := make([]string, 0, len(tpl.Schema.Properties))
	for name := range tpl.Schema.Properties {
		names = append(names, name)
	}
	// 必填字段在前,其余按声明名排序,保证提示词稳定。
	required := make(map[string]bool, len(tpl.Schema.Required))
	for _, name := range tpl.Schema.Required {
		required[name] = true
	}
	sort.SliceStable(names, func(i, j int) bool {
		if required[names[i]] != required[names[j]] {
			return required[names[i]]
		}
		return names[i] < names[j]
	})
	return names
}

func parseParameterObject(content string) (map[string]string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raw map[string]any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, err
	}

	params := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				params[key] = v
			}
		case float64:
			params[key] = strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
		case bool:
			params[key] = fmt.Sprintf("%t", v)
		}
	}
	return params, nil
}
