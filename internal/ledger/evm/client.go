package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"IntentChain/internal/ledger"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible submission client.
// Plans are encoded as calldata and routed through the dispatcher contract,
// which interprets the operation list on-chain.
type Config struct {
	Name         string
	RPCURL       string
	BatchRPCURL  string
	Dispatcher   string
	SignerKeyEnv string
	Notes        string
}

// Client implements the ledger.Client interface for EVM compatible chains.
type Client struct {
	name        string
	notes       string
	rpcClient   *gethrpc.Client
	batchClient *gethrpc.Client
	eth         *ethclient.Client
	sim         *backends.SimulatedBackend
	dispatcher  common.Address
	signerKey   *ecdsa.PrivateKey
	chainID     *big.Int
	mu          sync.Mutex
}

// NewClient dials the configured RPC endpoints and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置链的 RPC 地址")
	}
	if strings.TrimSpace(cfg.Dispatcher) == "" {
		return nil, errors.New("未配置 dispatcher 合约地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接链节点失败: %w", err)
	}

	eth := ethclient.NewClient(rpcClient)

	batchClient := rpcClient
	if batchURL := strings.TrimSpace(cfg.BatchRPCURL); batchURL != "" && batchURL != rpcURL {
		batchClient, err = gethrpc.DialContext(ctx, batchURL)
		if err != nil {
			return nil, fmt.Errorf("连接批量交易节点失败: %w", err)
		}
	}

	var signerKey *ecdsa.PrivateKey
	if env := strings.TrimSpace(cfg.SignerKeyEnv); env != "" {
		raw := strings.TrimPrefix(strings.TrimSpace(os.Getenv(env)), "0x")
		if raw != "" {
			signerKey, err = crypto.HexToECDSA(raw)
			if err != nil {
				return nil, fmt.Errorf("解析签名私钥失败: %w", err)
			}
		}
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}

	return &Client{
		name:        cfg.Name,
		notes:       cfg.Notes,
		rpcClient:   rpcClient,
		batchClient: batchClient,
		eth:         eth,
		dispatcher:  common.HexToAddress(cfg.Dispatcher),
		signerKey:   signerKey,
		chainID:     chainID,
	}, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for testing purposes.
func NewSimulatedClient(name string, chainID *big.Int, backend *backends.SimulatedBackend, key *ecdsa.PrivateKey, dispatcher common.Address) *Client {
	return &Client{
		name:       name,
		sim:        backend,
		dispatcher: dispatcher,
		signerKey:  key,
		chainID:    new(big.Int).Set(chainID),
		notes:      "simulated backend",
	}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.batchClient != nil && c.batchClient != c.rpcClient {
		c.batchClient.Close()
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
	c.rpcClient = nil
	c.batchClient = nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (ledger.ChainSnapshot, error) {
	if c == nil {
		return ledger.ChainSnapshot{}, errors.New("未初始化的链客户端")
	}

	if c.eth != nil {
		blockNumber, err := c.eth.BlockNumber(ctx)
		if err != nil {
			return ledger.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
		}
		return ledger.ChainSnapshot{
			ChainID:     toHexBig(c.chainID),
			BlockNumber: fmt.Sprintf("0x%x", blockNumber),
			Notes:       c.notes,
		}, nil
	}

	if c.sim == nil {
		return ledger.ChainSnapshot{}, errors.New("客户端缺少链访问后端")
	}
	block, err := c.sim.BlockByNumber(ctx, nil)
	if err != nil {
		return ledger.ChainSnapshot{}, fmt.Errorf("获取区块信息失败: %w", err)
	}
	return ledger.ChainSnapshot{
		ChainID:     toHexBig(c.chainID),
		BlockNumber: fmt.Sprintf("0x%x", block.NumberU64()),
		Notes:       c.notes,
	}, nil
}

// QueryBalance returns the native balance of address as a hex string.
func (c *Client) QueryBalance(ctx context.Context, address string) (string, error) {
	if c == nil {
		return "", errors.New("未初始化的链客户端")
	}
	addr := strings.TrimSpace(address)
	if addr == "" {
		return "", errors.New("查询余额需要提供地址")
	}

	var balance *big.Int
	var err error
	switch {
	case c.eth != nil:
		balance, err = c.eth.BalanceAt(ctx, common.HexToAddress(addr), nil)
	case c.sim != nil:
		balance, err = c.sim.BalanceAt(ctx, common.HexToAddress(addr), nil)
	default:
		return "", errors.New("当前客户端不支持余额查询")
	}
	if err != nil {
		return "", fmt.Errorf("查询余额失败: %w", err)
	}
	return toHexBig(balance), nil
}

// Submit signs the encoded plan and broadcasts it through the dispatcher
// contract. The whole operation list travels in a single transaction so the
// plan executes atomically on-chain.
func (c *Client) Submit(ctx context.Context, plan *ledger.Plan) (ledger.SubmitResult, error) {
	if c == nil {
		return ledger.SubmitResult{}, errors.New("未初始化的链客户端")
	}
	if plan == nil || len(plan.Operations) == 0 {
		return ledger.SubmitResult{}, errors.New("没有可提交的操作")
	}
	if c.signerKey == nil {
		return ledger.SubmitResult{}, errors.New("客户端未配置签名私钥")
	}

	payload, err := json.Marshal(plan)
	if err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("编码交易计划失败: %w", err)
	}

	from := crypto.PubkeyToAddress(c.signerKey.PublicKey)
	nonce, err := c.pendingNonce(ctx, from)
	if err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("查询交易计数失败: %w", err)
	}

	gasTipCap := big.NewInt(1_000_000_000)
	gasFeeCap := new(big.Int).Set(gasTipCap)
	if head, headErr := c.latestHeader(ctx); headErr == nil && head.BaseFee != nil {
		gasFeeCap = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), gasTipCap)
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       120_000 + uint64(len(payload))*68,
		To:        &c.dispatcher,
		Data:      payload,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(c.chainID), c.signerKey)
	if err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("签名交易失败: %w", err)
	}

	if c.sim != nil && c.rpcClient == nil {
		if err := c.sim.SendTransaction(ctx, signed); err != nil {
			return ledger.SubmitResult{}, fmt.Errorf("发送交易失败: %w", err)
		}
		c.sim.Commit()
		receipt, err := c.sim.TransactionReceipt(ctx, signed.Hash())
		if err != nil {
			return ledger.SubmitResult{}, fmt.Errorf("查询交易回执失败: %w", err)
		}
		return ledger.SubmitResult{
			Digest:      signed.Hash().Hex(),
			BlockNumber: fmt.Sprintf("0x%x", receipt.BlockNumber),
		}, nil
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("序列化交易失败: %w", err)
	}
	var hash common.Hash
	elems := []gethrpc.BatchElem{{
		Method: "eth_sendRawTransaction",
		Args:   []any{"0x" + hex.EncodeToString(raw)},
		Result: &hash,
	}}
	if err := c.batchClient.BatchCallContext(ctx, elems); err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("广播交易失败: %w", err)
	}
	if elems[0].Error != nil {
		return ledger.SubmitResult{}, fmt.Errorf("交易被节点拒绝: %w", elems[0].Error)
	}
	return ledger.SubmitResult{Digest: hash.Hex()}, nil
}

func (c *Client) pendingNonce(ctx context.Context, from common.Address) (uint64, error) {
	if c.eth != nil {
		return c.eth.PendingNonceAt(ctx, from)
	}
	if c.sim != nil {
		return c.sim.PendingNonceAt(ctx, from)
	}
	return 0, errors.New("当前客户端不支持交易计数查询")
}

func (c *Client) latestHeader(ctx context.Context) (*coretypes.Header, error) {
	if c.eth != nil {
		return c.eth.HeaderByNumber(ctx, nil)
	}
	if c.sim != nil {
		return c.sim.HeaderByNumber(ctx, nil)
	}
	return nil, errors.New("当前客户端不支持区块查询")
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ ledger.Client = (*Client)(nil)
