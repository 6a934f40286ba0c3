// Package lexicon 提供意图拆分降级路径使用的关键词词表。
// 当大模型不可用或输出无法解析时,拆分器会扫描词表直接生成检索查询。
package lexicon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Entry 描述一条动作关键词及其对应的规范化检索查询。
type Entry struct {
	Query    string   `json:"query"`
	Keywords []string `json:"keywords"`
}

// Lexicon 通过加载 JSON 文件提供关键词扫描能力。
type Lexicon struct {
	entries    []Entry
	maxQueries int
}

// New 创建词表实例。
func New(entries []Entry, maxQueries int) *Lexicon {
	if maxQueries <= 0 {
		maxQueries = 4
	}
	return &Lexicon{
		entries:    entries,
		maxQueries: maxQueries,
	}
}

// Load 从 JSON 文件加载词表条目。
func Load(path string, maxQueries int) (*Lexicon, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("词表文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析词表路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取词表文件失败: %w", err)
	}
	defer file.Close()

	var entries []Entry
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析词表文件失败: %w", err)
	}

	return New(entries, maxQueries), nil
}

// Default 返回内置的基础词表,覆盖最常见的链上动作。
func Default(maxQueries int) *Lexicon {
	return New([]Entry{
		{Query: "transfer tokens", Keywords: []string{"transfer", "send", "pay"}},
		{Query: "swap tokens", Keywords: []string{"swap", "exchange", "convert"}},
		{Query: "stake tokens", Keywords: []string{"stake", "staking", "delegate"}},
		{Query: "mint nft", Keywords: []string{"mint", "nft"}},
		{Query: "list nft marketplace", Keywords: []string{"list", "sell", "marketplace"}},
	}, maxQueries)
}

// Scan 在文本中查找词表关键词,按词表顺序输出对应查询。
// 同一条目出现多次关键词只计一次,没有任何匹配时返回空列表。
func (l *Lexicon) Scan(text string) []string {
	if l == nil {
		return nil
	}
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return nil
	}

	queries := make([]string, 0, l.maxQueries)
	for _, entry := range l.entries {
		if entry.Query == "" {
			continue
		}
		for _, keyword := range entry.Keywords {
			normalized := strings.ToLower(strings.TrimSpace(keyword))
			if normalized == "" {
				continue
			}
			if strings.Contains(lowered, normalized) {
				queries = append(queries, entry.Query)
				break
			}
		}
		if len(queries) >= l.maxQueries {
			break
		}
	}
	return queries
}

// MaxQueries 返回单次拆分允许生成的查询上限。
func (l *Lexicon) MaxQueries() int {
	if l == nil {
		return 0
	}
	return l.maxQueries
}
