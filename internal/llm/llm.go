package llm

import "context"

// CompletionRequest 描述发送给大模型的一次补全请求。
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
}

// CompletionResponse 是大模型返回的原始文本内容。
type CompletionResponse struct {
	Content string
}

// Client 定义了调用大模型补全的统一接口。
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Embedder 将文本转换为定长数值向量，供语义检索计算余弦相似度。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
