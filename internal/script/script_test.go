package script

import (
	"errors"
	"reflect"
	"testing"

	xerrors "IntentChain/internal/errors"
)

const transferScript = `[
  {"op": "literal", "name": "amount", "type": "u64", "value": "${amount}"},
  {"op": "split", "name": "payment", "source": "gas", "amounts": ["${amount}"]},
  {"op": "transfer", "sources": ["payment"], "target": "${recipient}"}
]`

func TestParseAndPlaceholders(t *testing.T) {
	s, err := Parse(transferScript)
	if err != nil {
		t.Fatalf("解析脚本失败: %v", err)
	}
	if len(s.Instructions) != 3 {
		t.Fatalf("期望 3 条指令, 实际 %d", len(s.Instructions))
	}
	got := s.Placeholders()
	want := []string{"amount", "recipient"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("占位符不匹配: got %v, want %v", got, want)
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	if _, err := Parse("not a script"); err == nil {
		t.Fatal("非法脚本应解析失败")
	}
	if _, err := Parse("  "); err == nil {
		t.Fatal("空脚本应解析失败")
	}
}

func TestRewriteLeavesOriginalUntouched(t *testing.T) {
	s, err := Parse(transferScript)
	if err != nil {
		t.Fatalf("解析脚本失败: %v", err)
	}
	rewritten := s.Rewrite(map[string]string{"amount": "amount_tpl2"})

	if got := rewritten.Instructions[0].Value; got != "${amount_tpl2}" {
		t.Fatalf("重写结果不正确: %s", got)
	}
	if got := rewritten.Instructions[2].Target; got != "${recipient}" {
		t.Fatalf("未命中的占位符不应被改写: %s", got)
	}
	if got := s.Instructions[0].Value; got != "${amount}" {
		t.Fatalf("原脚本不应被修改: %s", got)
	}
}

func TestBindSubstitutesAllPlaceholders(t *testing.T) {
	s, err := Parse(transferScript)
	if err != nil {
		t.Fatalf("解析脚本失败: %v", err)
	}
	bound, err := s.Bind(map[string]string{
		"amount":    "10000000",
		"recipient": "0xabc",
	})
	if err != nil {
		t.Fatalf("绑定参数失败: %v", err)
	}
	if bound.Instructions[0].Value != "10000000" {
		t.Fatalf("amount 未被替换: %s", bound.Instructions[0].Value)
	}
	if bound.Instructions[2].Target != "0xabc" {
		t.Fatalf("recipient 未被替换: %s", bound.Instructions[2].Target)
	}
	if got := bound.Placeholders(); len(got) != 0 {
		t.Fatalf("绑定后不应残留占位符: %v", got)
	}
}

func TestBindReportsMissingParameters(t *testing.T) {
	s, err := Parse(transferScript)
	if err != nil {
		t.Fatalf("解析脚本失败: %v", err)
	}
	_, err = s.Bind(map[string]string{"amount": "1"})
	if err == nil {
		t.Fatal("缺少参数时应报错")
	}
	if xerrors.CodeOf(err) != xerrors.CodeParameterUnresolved {
		t.Fatalf("期望 PARAMETER_UNRESOLVED, 实际 %s", xerrors.CodeOf(err))
	}
}

func TestValidateRejectsUnknownOp(t *testing.T) {
	s := &Script{Instructions: []Instruction{{Op: OpCode("eval"), Value: "rm -rf"}}}
	err := DefaultPolicy().Validate(s, 1.0)
	if xerrors.CodeOf(err) != xerrors.CodeSecurityRejected {
		t.Fatalf("未知操作应被拒绝, 实际 %v", err)
	}
}

func TestValidateRejectsLowTrustScore(t *testing.T) {
	s, err := Parse(transferScript)
	if err != nil {
		t.Fatalf("解析脚本失败: %v", err)
	}
	verr := DefaultPolicy().Validate(s, 0.2)
	if xerrors.CodeOf(verr) != xerrors.CodeSecurityRejected {
		t.Fatalf("低信任分应被拒绝, 实际 %v", verr)
	}
}

func TestValidateRejectsOversizedScript(t *testing.T) {
	policy := Policy{MaxOperations: 2, MinTrustScore: 0}
	s, err := Parse(transferScript)
	if err != nil {
		t.Fatalf("解析脚本失败: %v", err)
	}
	verr := policy.Validate(s, 1.0)
	if xerrors.CodeOf(verr) != xerrors.CodeSecurityRejected {
		t.Fatalf("超长脚本应被拒绝, 实际 %v", verr)
	}
}

func TestValidateIgnoresMarkersInOperationCount(t *testing.T) {
	policy := Policy{MaxOperations: 3, MinTrustScore: 0}
	s, err := Parse(transferScript)
	if err != nil {
		t.Fatalf("解析脚本失败: %v", err)
	}
	s.Instructions = append([]Instruction{{Op: OpMarker, Label: "src"}}, s.Instructions...)
	if verr := policy.Validate(s, 1.0); verr != nil {
		t.Fatalf("来源标记不应计入指令数: %v", verr)
	}
}

func TestValidateMalformedCallTarget(t *testing.T) {
	s := &Script{Instructions: []Instruction{{Op: OpCall, Target: "badtarget"}}}
	err := DefaultPolicy().Validate(s, 1.0)
	var e *xerrors.Error
	if !errors.As(err, &e) || e.Code() != xerrors.CodeSecurityRejected {
		t.Fatalf("非法合约入口应被拒绝, 实际 %v", err)
	}
}
