package template

import "context"

// Store 抽象了模板库的持久化接口。
type Store interface {
	Create(ctx context.Context, tpl *Template) error
	Update(ctx context.Context, tpl *Template) error
	GetByID(ctx context.Context, id string) (*Template, error)
	GetByName(ctx context.Context, name string) (*Template, error)
	ListActive(ctx context.Context) ([]*Template, error)
	Close() error
}
