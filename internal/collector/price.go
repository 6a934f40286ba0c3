package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"IntentChain/internal/cache"
	xerrors "IntentChain/internal/errors"
)

// TokenPrice 从行情服务拉取代币价格表,为限价类模板补齐
// token_price 参数。价格表整体缓存,TTL 过期后全量刷新。
type TokenPrice struct {
	endpoint   string
	httpClient *http.Client
	prices     *cache.Cell[map[string]string]
}

// NewTokenPrice 创建价格采集器。
func NewTokenPrice(endpoint string, cacheTTL, timeout time.Duration) (*TokenPrice, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置行情服务端点")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &TokenPrice{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	p.prices = cache.NewCell(cacheTTL, p.fetchPrices)
	return p, nil
}

// Name 实现 Collector 接口。
func (p *TokenPrice) Name() string { return "token_price" }

// Collect 查询 token 参数对应的价格。价格表中不存在该代币时
// 视为链下资源缺失。
func (p *TokenPrice) Collect(ctx context.Context, params map[string]string) (*Result, error) {
	token := strings.ToUpper(strings.TrimSpace(params["token"]))
	if token == "" {
		token = strings.ToUpper(strings.TrimSpace(params["token_in"]))
	}
	if token == "" {
		return &Result{Success: false}, nil
	}

	prices, err := p.prices.Get(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeResourceUnavailable, err, "获取代币价格失败")
	}

	price, ok := prices[token]
	if !ok {
		return &Result{Success: true, ResourceMissing: true}, nil
	}
	return &Result{
		Success:            true,
		Data:               map[string]string{"token": token},
		IntegrationMapping: map[string]string{"token_price": price},
	}, nil
}

func (p *TokenPrice) fetchPrices(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/prices", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("行情服务返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var prices map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&prices); err != nil {
		return nil, fmt.Errorf("解析价格表失败: %w", err)
	}
	return prices, nil
}

var _ Collector = (*TokenPrice)(nil)
