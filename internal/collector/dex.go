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

// Pool 描述一个 DEX 流动性池。
type Pool struct {
	ID     string `json:"id"`
	TokenA string `json:"token_a"`
	TokenB string `json:"token_b"`
	TVL    string `json:"tvl"`
}

// DexPools 从外部路由服务拉取流动性池列表,为 swap 类模板补齐
// pool_id 参数。池列表整体缓存,按 TTL 过期后全量刷新。
type DexPools struct {
	endpoint   string
	httpClient *http.Client
	pools      *cache.Cell[[]Pool]
}

// NewDexPools 创建流动性池采集器。
func NewDexPools(endpoint string, cacheTTL, timeout time.Duration) (*DexPools, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置流动性池服务端点")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &DexPools{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	d.pools = cache.NewCell(cacheTTL, d.fetchPools)
	return d, nil
}

// Name 实现 Collector 接口。
func (d *DexPools) Name() string { return "dex_pools" }

// Collect 在池列表中查找包含指定交易对的池。命中多个池时要求
// 用户选择;恰好一个时直接并入参数集;没有命中说明链上不存在
// 该交易对的流动性。
func (d *DexPools) Collect(ctx context.Context, params map[string]string) (*Result, error) {
	if params["pool_id"] != "" {
		return &Result{Success: true}, nil
	}

	tokenIn := strings.ToUpper(strings.TrimSpace(params["token_in"]))
	tokenOut := strings.ToUpper(strings.TrimSpace(params["token_out"]))
	if tokenIn == "" || tokenOut == "" {
		return &Result{Success: false}, nil
	}

	pools, err := d.pools.Get(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeResourceUnavailable, err, "获取流动性池列表失败")
	}

	matched := make([]Pool, 0, 2)
	for _, pool := range pools {
		a := strings.ToUpper(pool.TokenA)
		b := strings.ToUpper(pool.TokenB)
		if (a == tokenIn && b == tokenOut) || (a == tokenOut && b == tokenIn) {
			matched = append(matched, pool)
		}
	}

	switch len(matched) {
	case 0:
		return &Result{Success: true, ResourceMissing: true}, nil
	case 1:
		return &Result{
			Success:            true,
			Data:               map[string]string{"pool_count": "1"},
			IntegrationMapping: map[string]string{"pool_id": matched[0].ID},
		}, nil
	default:
		options := make([]SelectionOption, 0, len(matched))
		for _, pool := range matched {
			options = append(options, SelectionOption{
				Value: pool.ID,
				Label: fmt.Sprintf("%s/%s (TVL %s)", pool.TokenA, pool.TokenB, pool.TVL),
			})
		}
		return &Result{
			Success:               true,
			RequiresUserSelection: true,
			SelectionField:        "pool_id",
			SelectionOptions:      options,
		}, nil
	}
}

func (d *DexPools) fetchPools(ctx context.Context) ([]Pool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/pools", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("池服务返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pools []Pool
	if err := json.NewDecoder(resp.Body).Decode(&pools); err != nil {
		return nil, fmt.Errorf("解析池列表失败: %w", err)
	}
	return pools, nil
}

var _ Collector = (*DexPools)(nil)
