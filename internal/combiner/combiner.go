// Package combiner 把多个已解析的模板合并成一个合成模板:
// 参数重名时重命名后加入,脚本按输入顺序拼接,互不交错。
package combiner

import (
	"fmt"
	"sort"
	"strings"

	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/script"
	"IntentChain/internal/template"
	"github.com/google/uuid"
)

// ResolvedOperation 是一个完成参数解析的 (模板, 参数) 对。
type ResolvedOperation struct {
	Template   *template.Template
	Parameters map[string]string
}

// Combined 是合并 N 个模板得到的合成模板。
type Combined struct {
	SyntheticID     string
	SourceTemplates []*template.Template
	// RenameTable 按来源位置记录参数改名情况,与 SourceTemplates
	// 下标对齐,值为 原名→终名;同一模板可以出现多次,每次出现
	// 都有自己的条目,没有改名时为 nil。
	RenameTable []map[string]string
	Script      *script.Script
	Parameters  map[string]string
	Required    []string
	Tags        []string
	Description string
	// TrustScore 取所有来源模板的最小值,安全校验按最弱来源执行。
	TrustScore float64
}

// Combine 按输入顺序合并操作,顺序即拆分顺序,绝不重排。
// 参数名先到先得:后面的模板撞名时把自己的参数改名,并只改写
// 自己的脚本,前面模板的脚本与参数引用保持原样。
func Combine(ops []ResolvedOperation) (*Combined, error) {
	if len(ops) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "没有可合并的操作")
	}

	combined := &Combined{
		SyntheticID: "combined-" + uuid.NewString(),
		RenameTable: make([]map[string]string, 0, len(ops)),
		Parameters:  make(map[string]string),
		TrustScore:  ops[0].Template.TrustScore,
	}

	claimed := make(map[string]struct{})
	tagSeen := make(map[string]struct{})
	names := make([]string, 0, len(ops))
	var instructions []script.Instruction

	for _, op := range ops {
		tpl := op.Template
		if tpl == nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "合并的操作缺少模板")
		}

		renames := make(map[string]string)
		for _, field := range declaredParameters(tpl) {
			if _, taken := claimed[field]; !taken {
				claimed[field] = struct{}{}
				continue
			}
			renamed := field + "_" + normalizeSuffix(tpl.ID)
			for i := 2; ; i++ {
				if _, taken := claimed[renamed]; !taken {
					break
				}
				renamed = fmt.Sprintf("%s_%s%d", field, normalizeSuffix(tpl.ID), i)
			}
			claimed[renamed] = struct{}{}
			renames[field] = renamed
		}
		if len(renames) > 0 {
			combined.RenameTable = append(combined.RenameTable, renames)
		} else {
			combined.RenameTable = append(combined.RenameTable, nil)
		}

		parsed, err := script.Parse(tpl.Script)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err,
				fmt.Sprintf("模板 %s 的脚本无法解析", tpl.ID))
		}
		rewritten := parsed.Rewrite(renames)

		instructions = append(instructions, script.Instruction{Op: script.OpMarker, Label: tpl.Name})
		instructions = append(instructions, rewritten.Instructions...)

		for key, value := range op.Parameters {
			combined.Parameters[finalName(renames, key)] = value
		}
		for _, field := range tpl.RequiredFields() {
			combined.Required = append(combined.Required, finalName(renames, field))
		}

		for _, tag := range tpl.Tags {
			if _, seen := tagSeen[tag]; !seen {
				tagSeen[tag] = struct{}{}
				combined.Tags = append(combined.Tags, tag)
			}
		}

		if tpl.TrustScore < combined.TrustScore {
			combined.TrustScore = tpl.TrustScore
		}
		combined.SourceTemplates = append(combined.SourceTemplates, tpl)
		names = append(names, tpl.Name)
	}

	combined.Script = &script.Script{Instructions: instructions}
	combined.Description = "合成操作: " + strings.Join(names, " + ")
	return combined, nil
}

// declaredParameters 返回模板声明的全部参数名,按字典序排列,
// 保证重命名结果稳定。
func declaredParameters(tpl *template.Template) []string {
	names := make([]string, 0, len(tpl.Schema.Properties))
	for name := range tpl.Schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func finalName(renames map[string]string, field string) string {
	if renamed, ok := renames[field]; ok {
		return renamed
	}
	return field
}

// normalizeSuffix 把模板 ID 变换成合法的参数名后缀。
func normalizeSuffix(id string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return strings.Trim(sb.String(), "_")
}
