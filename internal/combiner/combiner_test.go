package combiner

import (
	"strings"
	"testing"

	"IntentChain/internal/script"
	"IntentChain/internal/template"
)

func transferTemplate(id string) *template.Template {
	return &template.Template{
		ID:   id,
		Name: "transfer tokens",
		Tags: []string{"transfer"},
		Script: `[
			{"op": "literal", "name": "amt_` + id + `", "type": "u64", "value": "${amount}"},
			{"op": "transfer", "sources": ["gas"], "target": "${recipient}"}
		]`,
		Schema: template.InputSchema{
			Required: []string{"recipient", "amount"},
			Properties: map[string]template.PropertySchema{
				"recipient": {Type: "address"},
				"amount":    {Type: "string"},
			},
		},
		TrustScore: 0.9,
		Active:     true,
	}
}

func mintTemplate() *template.Template {
	return &template.Template{
		ID:   "tpl-mint",
		Name: "mint nft",
		Tags: []string{"nft", "transfer"},
		Script: `[
			{"op": "call", "name": "nft", "target": "0x2::nft::mint", "args": ["${nft_name}"]}
		]`,
		Schema: template.InputSchema{
			Required: []string{"nft_name"},
			Properties: map[string]template.PropertySchema{
				"nft_name": {Type: "string"},
			},
		},
		TrustScore: 0.7,
		Active:     true,
	}
}

func TestCombineDisjointIsPureConcatenation(t *testing.T) {
	ops := []ResolvedOperation{
		{Template: transferTemplate("tpl-transfer"), Parameters: map[string]string{"recipient": "0xabc", "amount": "1"}},
		{Template: mintTemplate(), Parameters: map[string]string{"nft_name": "X"}},
	}

	combined, err := Combine(ops)
	if err != nil {
		t.Fatalf("合并失败: %v", err)
	}

	if len(combined.RenameTable) != len(ops) {
		t.Fatalf("重命名表应与来源位置对齐: %v", combined.RenameTable)
	}
	for i, renames := range combined.RenameTable {
		if len(renames) != 0 {
			t.Fatalf("参数集不相交时来源 %d 不应有任何重命名: %v", i, renames)
		}
	}
	wantParams := map[string]string{"recipient": "0xabc", "amount": "1", "nft_name": "X"}
	for key, want := range wantParams {
		if combined.Parameters[key] != want {
			t.Fatalf("参数 %s 不匹配: got %q, want %q", key, combined.Parameters[key], want)
		}
	}
	if len(combined.Parameters) != len(wantParams) {
		t.Fatalf("参数集应恰好是并集: %v", combined.Parameters)
	}

	// 两个来源标记按输入顺序出现,脚本块不交错。
	var labels []string
	for _, ins := range combined.Script.Instructions {
		if ins.Op == script.OpMarker {
			labels = append(labels, ins.Label)
		}
	}
	if len(labels) != 2 || labels[0] != "transfer tokens" || labels[1] != "mint nft" {
		t.Fatalf("来源标记顺序不正确: %v", labels)
	}
}

func TestCombineCollisionRenamesOnlyLaterTemplate(t *testing.T) {
	first := transferTemplate("tpl-a")
	second := transferTemplate("tpl-b")
	ops := []ResolvedOperation{
		{Template: first, Parameters: map[string]string{"recipient": "0xabc", "amount": "1"}},
		{Template: second, Parameters: map[string]string{"recipient": "0xdef", "amount": "2"}},
	}

	combined, err := Combine(ops)
	if err != nil {
		t.Fatalf("合并失败: %v", err)
	}

	if len(combined.RenameTable[0]) != 0 {
		t.Fatal("先声明参数的模板不应被重命名")
	}
	renames := combined.RenameTable[1]
	if renames["amount"] != "amount_tpl_b" || renames["recipient"] != "recipient_tpl_b" {
		t.Fatalf("后一个模板的重命名不正确: %v", renames)
	}

	// 前一个模板的脚本保持原样,后一个被改写。
	encoded, err := combined.Script.Encode()
	if err != nil {
		t.Fatalf("编码脚本失败: %v", err)
	}
	if !strings.Contains(encoded, "${recipient}") {
		t.Fatal("前一个模板的参数引用不应被改写")
	}
	if !strings.Contains(encoded, "${recipient_tpl_b}") {
		t.Fatal("后一个模板的参数引用应被改写")
	}

	if combined.Parameters["recipient"] != "0xabc" || combined.Parameters["recipient_tpl_b"] != "0xdef" {
		t.Fatalf("参数值映射不正确: %v", combined.Parameters)
	}
}

func TestCombineSameTemplateThriceKeepsEveryRename(t *testing.T) {
	tpl := transferTemplate("tpl-x")
	ops := []ResolvedOperation{
		{Template: tpl, Parameters: map[string]string{"recipient": "0xaaa", "amount": "1"}},
		{Template: tpl, Parameters: map[string]string{"recipient": "0xbbb", "amount": "2"}},
		{Template: tpl, Parameters: map[string]string{"recipient": "0xccc", "amount": "3"}},
	}

	combined, err := Combine(ops)
	if err != nil {
		t.Fatalf("合并失败: %v", err)
	}

	if len(combined.RenameTable) != 3 {
		t.Fatalf("重命名表应与来源位置对齐: %v", combined.RenameTable)
	}
	if len(combined.RenameTable[0]) != 0 {
		t.Fatalf("第一次出现不应被重命名: %v", combined.RenameTable[0])
	}
	second := combined.RenameTable[1]
	third := combined.RenameTable[2]
	if second["recipient"] != "recipient_tpl_x" || third["recipient"] != "recipient_tpl_x2" {
		t.Fatalf("同一模板的每次出现都应有独立的重命名记录: %v / %v", second, third)
	}

	want := map[string]string{"recipient": "0xaaa", "recipient_tpl_x": "0xbbb", "recipient_tpl_x2": "0xccc"}
	for key, value := range want {
		if combined.Parameters[key] != value {
			t.Fatalf("参数 %s 不匹配: got %q, want %q", key, combined.Parameters[key], value)
		}
	}
}

func TestCombineUnionsTagsAndTakesMinTrustScore(t *testing.T) {
	ops := []ResolvedOperation{
		{Template: transferTemplate("tpl-transfer"), Parameters: map[string]string{}},
		{Template: mintTemplate(), Parameters: map[string]string{}},
	}

	combined, err := Combine(ops)
	if err != nil {
		t.Fatalf("合并失败: %v", err)
	}
	if len(combined.Tags) != 2 {
		t.Fatalf("标签应去重合并: %v", combined.Tags)
	}
	if combined.TrustScore != 0.7 {
		t.Fatalf("信任分应取最小值, 实际 %f", combined.TrustScore)
	}
	if !strings.Contains(combined.Description, "transfer tokens") || !strings.Contains(combined.Description, "mint nft") {
		t.Fatalf("描述应列出来源模板: %s", combined.Description)
	}
}

func TestCombineRejectsEmptyInput(t *testing.T) {
	if _, err := Combine(nil); err == nil {
		t.Fatal("空输入应失败")
	}
}
