package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"IntentChain/internal/ledger"
)

type stubLedger struct {
	balance string
	err     error
}

func (s *stubLedger) FetchChainSnapshot(ctx context.Context) (ledger.ChainSnapshot, error) {
	return ledger.ChainSnapshot{}, nil
}

func (s *stubLedger) QueryBalance(ctx context.Context, address string) (string, error) {
	return s.balance, s.err
}

func (s *stubLedger) Submit(ctx context.Context, plan *ledger.Plan) (ledger.SubmitResult, error) {
	return ledger.SubmitResult{}, nil
}

func (s *stubLedger) Close() {}

func TestWalletBalancesCollect(t *testing.T) {
	c := NewWalletBalances(&stubLedger{balance: "0xde0b6b3a7640000"})
	result, err := c.Collect(context.Background(), map[string]string{"acting_address": "0xabc"})
	if err != nil {
		t.Fatalf("采集失败: %v", err)
	}
	if !result.Success {
		t.Fatal("期望采集成功")
	}
	if result.IntegrationMapping["wallet_balance"] != "0xde0b6b3a7640000" {
		t.Fatalf("余额未并入参数集: %v", result.IntegrationMapping)
	}
}

func TestWalletBalancesNeedsAddress(t *testing.T) {
	c := NewWalletBalances(&stubLedger{balance: "0x1"})
	result, err := c.Collect(context.Background(), map[string]string{})
	if err != nil {
		t.Fatalf("采集失败: %v", err)
	}
	if result.Success {
		t.Fatal("缺少地址时不应成功")
	}
}

func poolServer(t *testing.T, pools string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pools" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(pools))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDexPoolsSingleMatch(t *testing.T) {
	server := poolServer(t, `[
		{"id": "pool-1", "token_a": "SUI", "token_b": "USDC", "tvl": "100000"},
		{"id": "pool-2", "token_a": "SUI", "token_b": "WETH", "tvl": "50000"}
	]`)
	c, err := NewDexPools(server.URL, time.Minute, time.Second)
	if err != nil {
		t.Fatalf("创建采集器失败: %v", err)
	}

	result, err := c.Collect(context.Background(), map[string]string{
		"token_in":  "sui",
		"token_out": "usdc",
	})
	if err != nil {
		t.Fatalf("采集失败: %v", err)
	}
	if result.IntegrationMapping["pool_id"] != "pool-1" {
		t.Fatalf("期望命中 pool-1, 实际 %v", result.IntegrationMapping)
	}
}

func TestDexPoolsRequiresSelectionOnMultipleMatches(t *testing.T) {
	server := poolServer(t, `[
		{"id": "pool-1", "token_a": "SUI", "token_b": "USDC", "tvl": "100000"},
		{"id": "pool-2", "token_a": "USDC", "token_b": "SUI", "tvl": "50000"}
	]`)
	c, err := NewDexPools(server.URL, time.Minute, time.Second)
	if err != nil {
		t.Fatalf("创建采集器失败: %v", err)
	}

	result, err := c.Collect(context.Background(), map[string]string{
		"token_in":  "SUI",
		"token_out": "USDC",
	})
	if err != nil {
		t.Fatalf("采集失败: %v", err)
	}
	if !result.RequiresUserSelection {
		t.Fatal("多个池应要求用户选择")
	}
	if result.SelectionField != "pool_id" || len(result.SelectionOptions) != 2 {
		t.Fatalf("选择项不正确: %+v", result)
	}
}

func TestDexPoolsNoMatchReportsResourceMissing(t *testing.T) {
	server := poolServer(t, `[]`)
	c, err := NewDexPools(server.URL, time.Minute, time.Second)
	if err != nil {
		t.Fatalf("创建采集器失败: %v", err)
	}

	result, err := c.Collect(context.Background(), map[string]string{
		"token_in":  "SUI",
		"token_out": "USDC",
	})
	if err != nil {
		t.Fatalf("采集失败: %v", err)
	}
	if !result.ResourceMissing {
		t.Fatal("没有匹配池时应标记资源缺失")
	}
}

func TestDexPoolsSkipsWhenPoolAlreadyChosen(t *testing.T) {
	server := poolServer(t, `[]`)
	c, err := NewDexPools(server.URL, time.Minute, time.Second)
	if err != nil {
		t.Fatalf("创建采集器失败: %v", err)
	}

	result, err := c.Collect(context.Background(), map[string]string{"pool_id": "pool-1"})
	if err != nil {
		t.Fatalf("采集失败: %v", err)
	}
	if !result.Success || result.RequiresUserSelection {
		t.Fatalf("已有 pool_id 时应直接通过: %+v", result)
	}
}

func TestTokenPriceCollect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"SUI": "1.23", "USDC": "1.00"}`))
	}))
	t.Cleanup(server.Close)

	c, err := NewTokenPrice(server.URL, time.Minute, time.Second)
	if err != nil {
		t.Fatalf("创建采集器失败: %v", err)
	}

	result, err := c.Collect(context.Background(), map[string]string{"token": "sui"})
	if err != nil {
		t.Fatalf("采集失败: %v", err)
	}
	if result.IntegrationMapping["token_price"] != "1.23" {
		t.Fatalf("价格未并入参数集: %v", result.IntegrationMapping)
	}

	missing, err := c.Collect(context.Background(), map[string]string{"token": "DOGE"})
	if err != nil {
		t.Fatalf("采集失败: %v", err)
	}
	if !missing.ResourceMissing {
		t.Fatal("未知代币应标记资源缺失")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	c := NewWalletBalances(&stubLedger{})
	if err := registry.Register(c); err != nil {
		t.Fatalf("注册失败: %v", err)
	}
	if err := registry.Register(c); err == nil {
		t.Fatal("重复注册应失败")
	}
	if _, ok := registry.Get("wallet_balances"); !ok {
		t.Fatal("注册后应能查到采集器")
	}
}
