package ledger

import "context"

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// SubmitResult captures the outcome of committing a plan to the ledger.
type SubmitResult struct {
	Digest      string
	BlockNumber string
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	QueryBalance(ctx context.Context, address string) (string, error)
	Submit(ctx context.Context, plan *Plan) (SubmitResult, error)
	Close()
}
