package script

import (
	"fmt"
	"strings"

	xerrors "IntentChain/internal/errors"
)

// Policy 描述脚本静态校验的安全策略。脚本来自模板库而非
// 代码仓库,执行前必须通过这里的检查。
type Policy struct {
	// MaxOperations 限制脚本的指令数量(不含来源标记)。
	MaxOperations int
	// MinTrustScore 是允许执行的模板最低信任分。
	MinTrustScore float64
	// AllowedOps 为空时使用默认允许列表。
	AllowedOps map[OpCode]bool
}

// DefaultPolicy 返回默认安全策略。
func DefaultPolicy() Policy {
	return Policy{
		MaxOperations: 32,
		MinTrustScore: 0.5,
	}
}

func defaultAllowedOps() map[OpCode]bool {
	return map[OpCode]bool{
		OpLiteral:  true,
		OpObject:   true,
		OpSplit:    true,
		OpMerge:    true,
		OpCall:     true,
		OpTransfer: true,
		OpMarker:   true,
	}
}

// Validate 对脚本做静态安全校验。任何一条检查失败都会
// 返回 SECURITY_REJECTED,调用方必须拒绝执行。
func (p Policy) Validate(s *Script, trustScore float64) error {
	if s == nil || len(s.Instructions) == 0 {
		return xerrors.New(xerrors.CodeSecurityRejected, "脚本为空")
	}
	if trustScore < p.MinTrustScore {
		return xerrors.New(xerrors.CodeSecurityRejected,
			fmt.Sprintf("模板信任分 %.2f 低于下限 %.2f", trustScore, p.MinTrustScore))
	}

	allowed := p.AllowedOps
	if allowed == nil {
		allowed = defaultAllowedOps()
	}

	operations := 0
	for i, ins := range s.Instructions {
		if !allowed[ins.Op] {
			return xerrors.New(xerrors.CodeSecurityRejected,
				fmt.Sprintf("指令 %d 使用了不允许的操作 %q", i, ins.Op))
		}
		if err := checkShape(i, ins); err != nil {
			return err
		}
		if ins.Op != OpMarker {
			operations++
		}
	}
	if p.MaxOperations > 0 && operations > p.MaxOperations {
		return xerrors.New(xerrors.CodeSecurityRejected,
			fmt.Sprintf("脚本包含 %d 条指令,超过上限 %d", operations, p.MaxOperations))
	}
	return nil
}

// checkShape 校验单条指令的必填字段。
func checkShape(index int, ins Instruction) error {
	reject := func(reason string) error {
		return xerrors.New(xerrors.CodeSecurityRejected,
			fmt.Sprintf("指令 %d (%s) %s", index, ins.Op, reason))
	}

	switch ins.Op {
	case OpLiteral:
		if strings.TrimSpace(ins.Name) == "" || strings.TrimSpace(ins.Type) == "" {
			return reject("缺少 name 或 type")
		}
	case OpObject:
		if strings.TrimSpace(ins.Name) == "" || strings.TrimSpace(ins.Value) == "" {
			return reject("缺少 name 或对象 ID")
		}
	case OpSplit:
		if strings.TrimSpace(ins.Name) == "" || strings.TrimSpace(ins.Source) == "" || len(ins.Amounts) == 0 {
			return reject("缺少 name、source 或 amounts")
		}
	case OpMerge:
		if strings.TrimSpace(ins.Target) == "" || len(ins.Sources) == 0 {
			return reject("缺少 target 或 sources")
		}
	case OpCall:
		if strings.TrimSpace(ins.Target) == "" {
			return reject("缺少合约入口")
		}
		if len(strings.Split(ins.Target, "::")) != 3 {
			return reject("合约入口必须形如 package::module::function")
		}
	case OpTransfer:
		if strings.TrimSpace(ins.Target) == "" || len(ins.Sources) == 0 {
			return reject("缺少接收地址或转移对象")
		}
	case OpMarker:
		if strings.TrimSpace(ins.Label) == "" {
			return reject("缺少 label")
		}
	default:
		return reject("未知操作")
	}
	return nil
}
