package template

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"IntentChain/internal/cache"
	"IntentChain/internal/llm"
	"IntentChain/pkg/logger"
)

// 检索相关的默认参数。低于 SimilarityFloor 的候选直接丢弃,
// 名称精确命中与子串命中分别映射为固定分数,保证回退路径可比较。
const (
	DefaultSimilarityFloor = 0.45
	exactNameScore         = 1.0
	substringScore         = 0.8
	defaultSearchLimit     = 5
	defaultCacheTTL        = 60 * time.Second
)

// Match 表示一次检索命中。
type Match struct {
	Template   *Template
	Similarity float64
}

// Registry 负责模板的语义检索。嵌入向量检索失败时
// 回退到基于名称的字面匹配,检索本身不会因此报错。
type Registry struct {
	store    Store
	embedder llm.Embedder
	floor    float64
	active   *cache.Cell[[]*Template]
}

// RegistryOption 调整 Registry 的行为。
type RegistryOption func(*Registry)

// WithSimilarityFloor 覆盖相似度下限。
func WithSimilarityFloor(floor float64) RegistryOption {
	return func(r *Registry) {
		if floor > 0 {
			r.floor = floor
		}
	}
}

// WithCacheTTL 覆盖启用模板快照的缓存时长。
func WithCacheTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.active = cache.NewCell(ttl, r.loadActive)
		}
	}
}

// NewRegistry 创建模板检索器。embedder 可以为 nil,
// 此时检索只走字面匹配路径。
func NewRegistry(store Store, embedder llm.Embedder, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:    store,
		embedder: embedder,
		floor:    DefaultSimilarityFloor,
	}
	r.active = cache.NewCell(defaultCacheTTL, r.loadActive)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) loadActive(ctx context.Context) ([]*Template, error) {
	return r.store.ListActive(ctx)
}

// Invalidate 丢弃缓存的模板快照,下一次检索会重新加载。
func (r *Registry) Invalidate() {
	r.active.Invalidate()
}

// GetByID 按 ID 查找模板。
func (r *Registry) GetByID(ctx context.Context, id string) (*Template, error) {
	return r.store.GetByID(ctx, id)
}

// GetByName 按名称查找模板。
func (r *Registry) GetByName(ctx context.Context, name string) (*Template, error) {
	return r.store.GetByName(ctx, name)
}

// Search 对查询串做语义检索,返回相似度不低于下限的模板,
// 按相似度降序排列;相似度相同的按模板 ID 升序,保证同一
// 模板库下结果稳定可复现。
func (r *Registry) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	templates, err := r.active.Get(ctx)
	if err != nil {
		// 回源失败时快照缓存会沿用过期数据,只要还有快照就继续检索。
		if len(templates) == 0 {
			return nil, err
		}
		logger.L().Warn("刷新模板快照失败,沿用过期快照", "error", err)
	}

	matches := r.searchByEmbedding(ctx, query, templates)
	if len(matches) == 0 {
		matches = searchByName(query, templates)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Template.ID < matches[j].Template.ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (r *Registry) searchByEmbedding(ctx context.Context, query string, templates []*Template) []Match {
	if r.embedder == nil {
		return nil
	}
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		logger.L().Warn("查询向量化失败,回退到字面匹配", "query", query, "error", err)
		return nil
	}

	matches := make([]Match, 0, len(templates))
	for _, tpl := range templates {
		if len(tpl.Embedding) == 0 {
			continue
		}
		score := cosineSimilarity(vector, tpl.Embedding)
		if score >= r.floor {
			matches = append(matches, Match{Template: tpl, Similarity: score})
		}
	}
	return matches
}

func searchByName(query string, templates []*Template) []Match {
	lowered := strings.ToLower(query)

	exact := make([]Match, 0, 1)
	partial := make([]Match, 0, 4)
	for _, tpl := range templates {
		name := strings.ToLower(tpl.Name)
		if name == lowered {
			exact = append(exact, Match{Template: tpl, Similarity: exactNameScore})
			continue
		}
		if strings.Contains(name, lowered) ||
			strings.Contains(strings.ToLower(tpl.Description), lowered) ||
			containsTag(tpl.Tags, lowered) {
			partial = append(partial, Match{Template: tpl, Similarity: substringScore})
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return partial
}

func containsTag(tags []string, lowered string) bool {
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), lowered) {
			return true
		}
	}
	return false
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
