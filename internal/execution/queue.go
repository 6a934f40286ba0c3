package execution

import "context"

// Handler 处理一条提交记录,返回错误表示处理失败。
type Handler func(ctx context.Context, recordID string) error

// Producer 负责将待提交记录投递到队列。
type Producer interface {
	Publish(ctx context.Context, recordID string) error
	Close() error
}

// Consumer 负责消费队列中的提交记录。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产与消费能力。
type Queue interface {
	Producer
	Consumer
}
