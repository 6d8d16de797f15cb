// Package chain is a thin typed adapter over one EVM JSON-RPC endpoint.
// Every call reports its method to the budget governor before hitting the
// network, so CU accounting covers retries as well.
package chain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/agenttrust/backend/internal/budget"
	"github.com/agenttrust/backend/internal/config"
)

// TxEnvelope is the slice of eth_getTransactionByHash the pipeline needs:
// the gas-paying sender and the destination.
type TxEnvelope struct {
	Hash        common.Hash
	From        common.Address
	To          *common.Address
	BlockNumber uint64
}

// Gateway issues typed queries against one chain and records every call
// with the governor.
type Gateway struct {
	chain       config.Chain
	rpc         *rpc.Client
	eth         *ethclient.Client
	gov         *budget.Governor
	logger      *log.Logger
	callTimeout time.Duration
}

// Dial connects to the chain's RPC endpoint.
func Dial(ctx context.Context, cfg *config.Config, ch config.Chain, gov *budget.Governor) (*Gateway, error) {
	client, err := rpc.DialContext(ctx, cfg.RPCURL(ch))
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", ch.Name, err)
	}
	return &Gateway{
		chain:       ch,
		rpc:         client,
		eth:         ethclient.NewClient(client),
		gov:         gov,
		logger:      log.New(log.Writer(), fmt.Sprintf("[RPC:%s] ", ch.Name), log.LstdFlags),
		callTimeout: 15 * time.Second,
	}, nil
}

// Chain returns the chain this gateway is bound to.
func (g *Gateway) Chain() config.Chain { return g.chain }

// Close releases the underlying connection.
func (g *Gateway) Close() { g.rpc.Close() }

// Head returns the current chain head block number.
func (g *Gateway) Head(ctx context.Context) (uint64, error) {
	var head uint64
	err := withRetry(g.logger, "eth_blockNumber", func() error {
		g.gov.Record("eth_blockNumber", 1)
		cctx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
		var err error
		head, err = g.eth.BlockNumber(cctx)
		return err
	})
	return head, err
}

// Logs fetches event logs for one contract over [from, to] with an
// optional topic filter.
func (g *Gateway) Logs(ctx context.Context, addr common.Address, topics [][]common.Hash, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{addr},
		Topics:    topics,
	}

	var logs []types.Log
	err := withRetry(g.logger, "eth_getLogs", func() error {
		g.gov.Record("eth_getLogs", 1)
		cctx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
		var err error
		logs, err = g.eth.FilterLogs(cctx, query)
		return err
	})
	return logs, err
}

// Receipt fetches the full receipt for one transaction.
func (g *Gateway) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := withRetry(g.logger, "eth_getTransactionReceipt", func() error {
		g.gov.Record("eth_getTransactionReceipt", 1)
		cctx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
		var err error
		receipt, err = g.eth.TransactionReceipt(cctx, txHash)
		return err
	})
	return receipt, err
}

// Transaction fetches the envelope for one transaction. A raw call is used
// because the typed client does not expose the sender without signer
// recovery.
func (g *Gateway) Transaction(ctx context.Context, txHash common.Hash) (*TxEnvelope, error) {
	var raw struct {
		Hash        common.Hash     `json:"hash"`
		From        common.Address  `json:"from"`
		To          *common.Address `json:"to"`
		BlockNumber *hexutil.Big    `json:"blockNumber"`
	}

	err := withRetry(g.logger, "eth_getTransactionByHash", func() error {
		g.gov.Record("eth_getTransactionByHash", 1)
		cctx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
		return g.rpc.CallContext(cctx, &raw, "eth_getTransactionByHash", txHash)
	})
	if err != nil {
		return nil, err
	}
	if raw.Hash == (common.Hash{}) {
		return nil, fmt.Errorf("transaction %s not found", txHash.Hex())
	}

	env := &TxEnvelope{Hash: raw.Hash, From: raw.From, To: raw.To}
	if raw.BlockNumber != nil {
		env.BlockNumber = raw.BlockNumber.ToInt().Uint64()
	}
	return env, nil
}
