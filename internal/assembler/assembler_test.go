package assembler

import (
	"strings"
	"testing"

	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/ledger"
	"IntentChain/internal/script"
)

func parse(t *testing.T, raw string) *script.Script {
	t.Helper()
	s, err := script.Parse(raw)
	if err != nil {
		t.Fatalf("解析脚本失败: %v", err)
	}
	return s
}

func TestAssembleTransferScript(t *testing.T) {
	s := parse(t, `[
		{"op": "marker", "label": "transfer tokens"},
		{"op": "literal", "name": "amount", "type": "u64", "value": "${amount}"},
		{"op": "split", "name": "payment", "source": "gas", "amounts": ["${amount}"]},
		{"op": "transfer", "sources": ["payment"], "target": "${recipient}"}
	]`)

	a := New(script.DefaultPolicy())
	assembly, err := a.Assemble(s, map[string]string{
		"amount":    "10000000",
		"recipient": "0xabc",
	}, "0xsender", 1.0)
	if err != nil {
		t.Fatalf("装配失败: %v", err)
	}

	if len(assembly.Effects) != 3 {
		t.Fatalf("期望 3 条效果描述, 实际 %d: %v", len(assembly.Effects), assembly.Effects)
	}
	if !strings.Contains(assembly.Effects[2], "0xabc") {
		t.Fatalf("转账效果应包含接收地址: %s", assembly.Effects[2])
	}
	for _, effect := range assembly.Effects {
		if !strings.HasPrefix(effect, "[transfer tokens]") {
			t.Fatalf("效果描述应带来源标记: %s", effect)
		}
	}

	if assembly.Plan.ActingAddress != "0xsender" {
		t.Fatalf("发起地址不正确: %s", assembly.Plan.ActingAddress)
	}
	// 计划包含标记在内的 4 条操作。
	if len(assembly.Plan.Operations) != 4 {
		t.Fatalf("期望 4 条计划操作, 实际 %d", len(assembly.Plan.Operations))
	}
	if assembly.Plan.Operations[0].Kind != ledger.OpKindMarker {
		t.Fatalf("第一条操作应是来源标记: %+v", assembly.Plan.Operations[0])
	}
}

func TestAssembleRejectsLowTrustBeforeExecution(t *testing.T) {
	s := parse(t, `[{"op": "transfer", "sources": ["gas"], "target": "${recipient}"}]`)
	a := New(script.DefaultPolicy())

	// 占位符未绑定也应先被安全校验拒绝。
	_, err := a.Assemble(s, nil, "0xsender", 0.1)
	if xerrors.CodeOf(err) != xerrors.CodeSecurityRejected {
		t.Fatalf("期望 SECURITY_REJECTED, 实际 %v", err)
	}
}

func TestAssembleSurfacesUnboundParameters(t *testing.T) {
	s := parse(t, `[{"op": "transfer", "sources": ["gas"], "target": "${recipient}"}]`)
	a := New(script.DefaultPolicy())

	_, err := a.Assemble(s, map[string]string{}, "0xsender", 1.0)
	if xerrors.CodeOf(err) != xerrors.CodeParameterUnresolved {
		t.Fatalf("期望 PARAMETER_UNRESOLVED, 实际 %v", err)
	}
}

func TestAssembleFailsOnBrokenReferences(t *testing.T) {
	s := parse(t, `[{"op": "transfer", "sources": ["never_bound"], "target": "0xabc"}]`)
	a := New(script.DefaultPolicy())

	_, err := a.Assemble(s, map[string]string{}, "0xsender", 1.0)
	if xerrors.CodeOf(err) != xerrors.CodeExecutionFailed {
		t.Fatalf("期望 EXECUTION_FAILED, 实际 %v", err)
	}
}
