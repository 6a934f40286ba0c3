package intent

import (
	"context"

	"IntentChain/internal/template"
	"IntentChain/pkg/logger"
)

// Candidate 是一个已通过置信度检查并完成参数抽取的候选操作。
type Candidate struct {
	SourceQuery string
	Template    *template.Template
	Extracted   map[string]string
	Relevance   float64
}

// Resolver 为每个拆分出的查询挑选模板并抽取参数。
type Resolver struct {
	registry        *template.Registry
	extractor       *Extractor
	acceptThreshold float64
	searchLimit     int
}

// NewResolver 创建候选操作解析器。acceptThreshold 是接受检索
// 最高命中的置信度下限,比检索自身的过滤阈值更严格。
func NewResolver(registry *template.Registry, extractor *Extractor, acceptThreshold float64) *Resolver {
	if acceptThreshold <= 0 {
		acceptThreshold = 0.6
	}
	return &Resolver{
		registry:        registry,
		extractor:       extractor,
		acceptThreshold: acceptThreshold,
		searchLimit:     5,
	}
}

// Resolve 逐个处理查询。检索或抽取失败的查询直接丢弃,
// 流水线用解析成功的子集继续执行;参数抽取只对每个查询的
// 最高命中执行一次。
func (r *Resolver) Resolve(ctx context.Context, userInput string, queries []string) ([]Candidate, error) {
	candidates := make([]Candidate, 0, len(queries))
	for _, query := range queries {
		matches, err := r.registry.Search(ctx, query, r.searchLimit)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			logger.L().Info("查询没有命中任何模板,丢弃", "query", query)
			continue
		}

		top := matches[0]
		if top.Similarity < r.acceptThreshold {
			logger.L().Info("最高命中低于置信度下限,丢弃",
				"query", query,
				"template", top.Template.ID,
				"similarity", top.Similarity,
				"threshold", r.acceptThreshold,
			)
			continue
		}

		extracted, err := r.extractor.Extract(ctx, userInput, top.Template)
		if err != nil {
			logger.L().Warn("参数抽取失败,丢弃该操作", "query", query, "template", top.Template.ID, "error", err)
			continue
		}

		candidates = append(candidates, Candidate{
			SourceQuery: query,
			Template:    top.Template,
			Extracted:   extracted,
			Relevance:   top.Similarity,
		})
	}
	return candidates, nil
}
