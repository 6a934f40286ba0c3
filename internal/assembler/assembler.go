// Package assembler 在受限的指令面上解释模板脚本,产出可提交的
// 交易计划以及签名前展示给用户的效果描述。
package assembler

import (
	"fmt"
	"strings"

	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/ledger"
	"IntentChain/internal/script"
)

// Assembly 是一次装配的结果。所有变更都保留在 Plan 中,
// 在后续独立的签名提交步骤之前不会触碰链上状态。
type Assembly struct {
	Plan *ledger.Plan
	// Effects 按脚本顺序描述每个逻辑操作的链上效果。
	Effects []string
}

// Assembler 执行模板脚本的静态校验与解释。
type Assembler struct {
	policy script.Policy
}

// New 创建装配器。
func New(policy script.Policy) *Assembler {
	return &Assembler{policy: policy}
}

// Assemble 先做静态安全校验,再把参数绑定进脚本并逐条解释。
// 脚本来自模板库,校验失败时必须拒绝执行。
func (a *Assembler) Assemble(s *script.Script, params map[string]string, actingAddress string, trustScore float64) (*Assembly, error) {
	if err := a.policy.Validate(s, trustScore); err != nil {
		return nil, err
	}

	bound, err := s.Bind(params)
	if err != nil {
		return nil, err
	}

	builder := ledger.NewBuilder()
	effects := make([]string, 0, len(bound.Instructions))
	currentLabel := ""

	for i, ins := range bound.Instructions {
		var effect string
		var opErr error

		switch ins.Op {
		case script.OpMarker:
			builder.Mark(ins.Label)
			currentLabel = ins.Label
			continue
		case script.OpLiteral:
			opErr = builder.PutLiteral(ins.Name, ins.Type, ins.Value)
			effect = fmt.Sprintf("构造 %s 类型的值 %s", ins.Type, ins.Value)
		case script.OpObject:
			opErr = builder.RefObject(ins.Name, ins.Value)
			effect = fmt.Sprintf("引用链上对象 %s", ins.Value)
		case script.OpSplit:
			opErr = builder.SplitBalance(ins.Name, ins.Source, ins.Amounts)
			effect = fmt.Sprintf("从 %s 中切分出 %s", ins.Source, strings.Join(ins.Amounts, ", "))
		case script.OpMerge:
			opErr = builder.MergeBalances(ins.Target, ins.Sources)
			effect = fmt.Sprintf("将 %s 合并进 %s", strings.Join(ins.Sources, ", "), ins.Target)
		case script.OpCall:
			opErr = builder.CallEntry(ins.Name, ins.Target, ins.TypeArgs, ins.Args)
			effect = fmt.Sprintf("调用合约入口 %s", ins.Target)
		case script.OpTransfer:
			opErr = builder.TransferObjects(ins.Sources, ins.Target)
			effect = fmt.Sprintf("转移 %s 给 %s", strings.Join(ins.Sources, ", "), ins.Target)
		default:
			opErr = fmt.Errorf("未知指令 %q", ins.Op)
		}

		if opErr != nil {
			return nil, xerrors.Wrap(xerrors.CodeExecutionFailed, opErr,
				fmt.Sprintf("脚本第 %d 条指令执行失败", i))
		}
		if currentLabel != "" {
			effect = fmt.Sprintf("[%s] %s", currentLabel, effect)
		}
		effects = append(effects, effect)
	}

	plan, err := builder.Finish(actingAddress)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailed, err, "交易计划封装失败")
	}
	return &Assembly{Plan: plan, Effects: effects}, nil
}
