package collector

import (
	"context"
	"strings"

	"IntentChain/internal/ledger"
)

// WalletBalances 查询发起地址的链上余额,为需要支付金额的模板
// 补齐 wallet_balance 参数。
type WalletBalances struct {
	client ledger.Client
}

// NewWalletBalances 创建余额采集器。
func NewWalletBalances(client ledger.Client) *WalletBalances {
	return &WalletBalances{client: client}
}

// Name 实现 Collector 接口。
func (w *WalletBalances) Name() string { return "wallet_balances" }

// Collect 查询 acting_address 的余额并并入参数集。
func (w *WalletBalances) Collect(ctx context.Context, params map[string]string) (*Result, error) {
	address := strings.TrimSpace(params["acting_address"])
	if address == "" {
		return &Result{Success: false}, nil
	}

	balance, err := w.client.QueryBalance(ctx, address)
	if err != nil {
		return nil, err
	}
	return &Result{
		Success: true,
		Data:    map[string]string{"balance": balance},
		IntegrationMapping: map[string]string{
			"wallet_balance": balance,
		},
	}, nil
}

var _ Collector = (*WalletBalances)(nil)
