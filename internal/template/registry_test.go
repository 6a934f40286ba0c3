package template

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "IntentChain/internal/errors"
)

type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	vec, ok := s.vectors[text]
	if !ok {
		return []float32{0, 0, 1}, nil
	}
	return vec, nil
}

const testScript = `[{"op": "transfer", "sources": ["gas"], "target": "${recipient}"}]`

func seedStore(t *testing.T, templates ...*Template) Store {
	t.Helper()
	store := NewMemoryStore()
	for _, tpl := range templates {
		if err := store.Create(context.Background(), tpl); err != nil {
			t.Fatalf("写入模板 %s 失败: %v", tpl.ID, err)
		}
	}
	return store
}

func TestSearchFiltersBySimilarityFloor(t *testing.T) {
	store := seedStore(t,
		&Template{ID: "tpl-swap", Name: "token swap", Script: testScript, Embedding: []float32{1, 0, 0}, Active: true},
		&Template{ID: "tpl-stake", Name: "stake tokens", Script: testScript, Embedding: []float32{0, 1, 0}, Active: true},
	)
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"swap tokens": {1, 0, 0},
	}}
	registry := NewRegistry(store, embedder)

	matches, err := registry.Search(context.Background(), "swap tokens", 5)
	if err != nil {
		t.Fatalf("检索失败: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("期望命中 1 个模板, 实际 %d", len(matches))
	}
	if matches[0].Template.ID != "tpl-swap" {
		t.Fatalf("期望命中 tpl-swap, 实际 %s", matches[0].Template.ID)
	}
	if matches[0].Similarity < 0.99 {
		t.Fatalf("期望相似度接近 1, 实际 %f", matches[0].Similarity)
	}
}

func TestSearchDeterministicTieBreak(t *testing.T) {
	// 两个模板的向量完全相同,排序必须按 ID 稳定。
	store := seedStore(t,
		&Template{ID: "tpl-b", Name: "bridge b", Script: testScript, Embedding: []float32{1, 0, 0}, Active: true},
		&Template{ID: "tpl-a", Name: "bridge a", Script: testScript, Embedding: []float32{1, 0, 0}, Active: true},
	)
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"bridge": {1, 0, 0},
	}}
	registry := NewRegistry(store, embedder)

	for i := 0; i < 5; i++ {
		matches, err := registry.Search(context.Background(), "bridge", 5)
		if err != nil {
			t.Fatalf("检索失败: %v", err)
		}
		if len(matches) != 2 {
			t.Fatalf("期望命中 2 个模板, 实际 %d", len(matches))
		}
		if matches[0].Template.ID != "tpl-a" || matches[1].Template.ID != "tpl-b" {
			t.Fatalf("排序不稳定: %s, %s", matches[0].Template.ID, matches[1].Template.ID)
		}
	}
}

func TestSearchFallsBackOnEmbedderFailure(t *testing.T) {
	store := seedStore(t,
		&Template{ID: "tpl-swap", Name: "Token Swap", Description: "swap one token for another", Script: testScript, Active: true},
		&Template{ID: "tpl-transfer", Name: "Simple Transfer", Script: testScript, Active: true},
	)
	embedder := &stubEmbedder{err: errors.New("embedding service down")}
	registry := NewRegistry(store, embedder)

	matches, err := registry.Search(context.Background(), "token swap", 5)
	if err != nil {
		t.Fatalf("回退检索不应报错: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("期望命中 1 个模板, 实际 %d", len(matches))
	}
	if matches[0].Template.ID != "tpl-swap" || matches[0].Similarity != exactNameScore {
		t.Fatalf("期望名称精确命中 tpl-swap, 实际 %s(%f)", matches[0].Template.ID, matches[0].Similarity)
	}
}

func TestSearchSubstringFallback(t *testing.T) {
	store := seedStore(t,
		&Template{ID: "tpl-stake", Name: "Stake SUI tokens", Script: testScript, Active: true},
		&Template{ID: "tpl-other", Name: "Mint NFT", Script: testScript, Active: true},
	)
	registry := NewRegistry(store, nil)

	matches, err := registry.Search(context.Background(), "stake", 5)
	if err != nil {
		t.Fatalf("检索失败: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("期望命中 1 个模板, 实际 %d", len(matches))
	}
	if matches[0].Similarity != substringScore {
		t.Fatalf("期望子串命中得分 %f, 实际 %f", substringScore, matches[0].Similarity)
	}
}

func TestSearchIgnoresInactiveTemplates(t *testing.T) {
	store := seedStore(t,
		&Template{ID: "tpl-old", Name: "legacy swap", Script: testScript, Embedding: []float32{1, 0, 0}, Active: false},
	)
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"swap": {1, 0, 0},
	}}
	registry := NewRegistry(store, embedder)

	matches, err := registry.Search(context.Background(), "swap", 5)
	if err != nil {
		t.Fatalf("检索失败: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("停用模板不应被检索, 实际命中 %d", len(matches))
	}
}

type flakyStore struct {
	Store
	fail bool
}

func (s *flakyStore) ListActive(ctx context.Context) ([]*Template, error) {
	if s.fail {
		return nil, errors.New("storage down")
	}
	return s.Store.ListActive(ctx)
}

func TestSearchServesStaleSnapshotOnRefreshFailure(t *testing.T) {
	store := &flakyStore{Store: seedStore(t,
		&Template{ID: "tpl-swap", Name: "Token Swap", Script: testScript, Active: true},
	)}
	registry := NewRegistry(store, nil, WithCacheTTL(time.Nanosecond))

	if _, err := registry.Search(context.Background(), "token swap", 5); err != nil {
		t.Fatalf("首次检索失败: %v", err)
	}

	store.fail = true
	matches, err := registry.Search(context.Background(), "token swap", 5)
	if err != nil {
		t.Fatalf("快照刷新失败时应沿用过期快照: %v", err)
	}
	if len(matches) != 1 || matches[0].Template.ID != "tpl-swap" {
		t.Fatalf("过期快照检索结果不正确: %+v", matches)
	}
}

func TestCreateRejectsInvalidScript(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	cases := []struct {
		name   string
		script string
	}{
		{"不在允许列表的操作", `[{"op": "exec", "value": "arbitrary"}]`},
		{"不是指令序列", `{"op": "transfer"}`},
		{"缺少必填字段", `[{"op": "call"}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := store.Create(ctx, &Template{ID: "tpl-bad", Name: "bad", Script: tc.script, Active: true})
			if xerrors.CodeOf(err) != CodeTemplateValidation {
				t.Fatalf("期望 TEMPLATE_VALIDATION_FAILED, 实际 %v", err)
			}
			if _, err := store.GetByID(ctx, "tpl-bad"); !errors.Is(err, ErrTemplateNotFound) {
				t.Fatalf("未通过校验的模板不应入库, 实际 %v", err)
			}
		})
	}

	// 更新同样经过注册时点校验。
	good := &Template{ID: "tpl-good", Name: "good", Script: testScript, Active: true}
	if err := store.Create(ctx, good); err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	good.Script = `[{"op": "exec", "value": "arbitrary"}]`
	if err := store.Update(ctx, good); xerrors.CodeOf(err) != CodeTemplateValidation {
		t.Fatalf("更新时应拒绝非法脚本, 实际 %v", err)
	}
}

func TestMemoryStoreConflictAndUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tpl := &Template{ID: "tpl-1", Name: "Token Swap", Script: testScript, Active: true}
	if err := store.Create(ctx, tpl); err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	if err := store.Create(ctx, &Template{ID: "tpl-1", Name: "Other", Script: testScript}); !errors.Is(err, ErrTemplateConflict) {
		t.Fatalf("重复 ID 应返回 ErrTemplateConflict, 实际 %v", err)
	}

	tpl.Name = "Token Swap v2"
	if err := store.Update(ctx, tpl); err != nil {
		t.Fatalf("更新失败: %v", err)
	}
	got, err := store.GetByName(ctx, "token swap v2")
	if err != nil {
		t.Fatalf("按新名称查找失败: %v", err)
	}
	if got.ID != "tpl-1" {
		t.Fatalf("期望 tpl-1, 实际 %s", got.ID)
	}
	if _, err := store.GetByName(ctx, "Token Swap"); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("旧名称应已失效, 实际 %v", err)
	}
}
