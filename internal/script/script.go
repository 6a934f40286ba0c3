// Package script 定义模板脚本的受限指令模型。脚本以 JSON 指令
// 序列的形式存放在模板库中,由装配器在受控的指令面上解释执行,
// 绝不会作为通用代码运行。
package script

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	xerrors "IntentChain/internal/errors"
)

// OpCode 标识一条脚本指令的类型。
type OpCode string

const (
	// OpLiteral 构造一个带类型的字面量并绑定到名字。
	OpLiteral OpCode = "literal"
	// OpObject 按 ID 引用一个已存在的链上对象。
	OpObject OpCode = "object"
	// OpSplit 从一个余额中切分出若干份额。
	OpSplit OpCode = "split"
	// OpMerge 将多个余额合并进目标余额。
	OpMerge OpCode = "merge"
	// OpCall 调用一个具名的合约入口。
	OpCall OpCode = "call"
	// OpTransfer 将对象或余额转移给地址。
	OpTransfer OpCode = "transfer"
	// OpMarker 是组合器插入的来源标记,不产生链上效果。
	OpMarker OpCode = "marker"
)

// Instruction 是脚本中的一条指令。字段按指令类型取用,
// 字符串值可以包含 ${name} 形式的参数占位符。
type Instruction struct {
	Op       OpCode   `json:"op"`
	Name     string   `json:"name,omitempty"`
	Type     string   `json:"type,omitempty"`
	Value    string   `json:"value,omitempty"`
	Source   string   `json:"source,omitempty"`
	Sources  []string `json:"sources,omitempty"`
	Amounts  []string `json:"amounts,omitempty"`
	Target   string   `json:"target,omitempty"`
	TypeArgs []string `json:"type_args,omitempty"`
	Args     []string `json:"args,omitempty"`
	Label    string   `json:"label,omitempty"`
}

// Script 是一段有序的指令序列。
type Script struct {
	Instructions []Instruction
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Parse 解析 JSON 格式的脚本文本。
func Parse(raw string) (*Script, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "脚本内容不能为空")
	}
	var instructions []Instruction
	if err := json.Unmarshal([]byte(raw), &instructions); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "脚本不是合法的指令序列")
	}
	return &Script{Instructions: instructions}, nil
}

// Encode 输出脚本的 JSON 文本形式。
func (s *Script) Encode() (string, error) {
	bytes, err := json.Marshal(s.Instructions)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码脚本失败")
	}
	return string(bytes), nil
}

// Placeholders 返回脚本引用的全部参数名,按字典序去重排列。
func (s *Script) Placeholders() []string {
	seen := make(map[string]struct{})
	for _, ins := range s.Instructions {
		for _, field := range ins.stringFields() {
			for _, match := range placeholderPattern.FindAllStringSubmatch(field, -1) {
				seen[match[1]] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rewrite 将占位符按重命名表替换,返回新的脚本,原脚本不变。
func (s *Script) Rewrite(renames map[string]string) *Script {
	if len(renames) == 0 {
		return s.clone()
	}
	out := s.clone()
	for i := range out.Instructions {
		out.Instructions[i].mapStrings(func(v string) string {
			return placeholderPattern.ReplaceAllStringFunc(v, func(ref string) string {
				name := placeholderPattern.FindStringSubmatch(ref)[1]
				if renamed, ok := renames[name]; ok {
					return "${" + renamed + "}"
				}
				return ref
			})
		})
	}
	return out
}

// Bind 用参数值替换全部占位符。任何未提供的占位符都会报错,
// 保证进入装配阶段的脚本是完全具体的。
func (s *Script) Bind(params map[string]string) (*Script, error) {
	out := s.clone()
	var missing []string
	for i := range out.Instructions {
		out.Instructions[i].mapStrings(func(v string) string {
			return placeholderPattern.ReplaceAllStringFunc(v, func(ref string) string {
				name := placeholderPattern.FindStringSubmatch(ref)[1]
				value, ok := params[name]
				if !ok {
					missing = append(missing, name)
					return ref
				}
				return value
			})
		})
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, xerrors.New(xerrors.CodeParameterUnresolved,
			fmt.Sprintf("脚本存在未绑定的参数: %s", strings.Join(missing, ", ")))
	}
	return out, nil
}

func (s *Script) clone() *Script {
	out := &Script{Instructions: make([]Instruction, len(s.Instructions))}
	for i, ins := range s.Instructions {
		copied := ins
		copied.Sources = append([]string(nil), ins.Sources...)
		copied.Amounts = append([]string(nil), ins.Amounts...)
		copied.TypeArgs = append([]string(nil), ins.TypeArgs...)
		copied.Args = append([]string(nil), ins.Args...)
		out.Instructions[i] = copied
	}
	return out
}

// stringFields 返回指令中可能含有占位符的字段值。
func (ins *Instruction) stringFields() []string {
	fields := []string{ins.Value, ins.Source, ins.Target}
	fields = append(fields, ins.Sources...)
	fields = append(fields, ins.Amounts...)
	fields = append(fields, ins.Args...)
	return fields
}

// mapStrings 对指令中可替换的字段逐一应用变换。
func (ins *Instruction) mapStrings(fn func(string) string) {
	ins.Value = fn(ins.Value)
	ins.Source = fn(ins.Source)
	ins.Target = fn(ins.Target)
	for i := range ins.Sources {
		ins.Sources[i] = fn(ins.Sources[i])
	}
	for i := range ins.Amounts {
		ins.Amounts[i] = fn(ins.Amounts[i])
	}
	for i := range ins.Args {
		ins.Args[i] = fn(ins.Args[i])
	}
}
