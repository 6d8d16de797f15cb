package indexer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/agenttrust/backend/internal/chain"
	"github.com/agenttrust/backend/internal/config"
	"github.com/agenttrust/backend/internal/store"
)

// PaymentStore is the transaction+wallet slice of the event store.
type PaymentStore interface {
	InsertTransaction(ctx context.Context, t store.Transaction) (bool, error)
	ObserveWallet(ctx context.Context, obs store.WalletObservation) error
}

// ReceiptGateway is the per-transaction slice of the chain gateway the
// payment source needs beyond log scanning.
type ReceiptGateway interface {
	Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Transaction(ctx context.Context, txHash common.Hash) (*chain.TxEnvelope, error)
}

// PaymentSource scans AuthorizationUsed events on the chain's USDC
// contract and materializes the settled transfers behind them. The gas
// payer (tx.from) is the facilitator; a transfer is x402 iff the
// facilitator is on the chain's known list.
type PaymentSource struct {
	chain   config.Chain
	gateway ReceiptGateway
	db      PaymentStore
	logger  *log.Logger
}

// NewPaymentSource builds the payment scanner source for one chain.
func NewPaymentSource(ch config.Chain, gw ReceiptGateway, db PaymentStore) *PaymentSource {
	return &PaymentSource{
		chain:   ch,
		gateway: gw,
		db:      db,
		logger:  log.New(log.Writer(), fmt.Sprintf("[PAYMENT:%s] ", ch.Name), log.LstdFlags),
	}
}

func (s *PaymentSource) ID() string      { return "x402_" + shortChain(s.chain.Name) }
func (s *PaymentSource) Genesis() uint64 { return s.chain.PaymentGenesis }

func (s *PaymentSource) Address() common.Address {
	return common.HexToAddress(s.chain.USDC)
}

func (s *PaymentSource) Topics() [][]common.Hash {
	return [][]common.Hash{{authorizationUsedTopic}}
}

// HandleLogs processes each distinct transaction hash in the batch: one
// receipt fetch, one envelope fetch, then a transaction row per USDC
// Transfer inside the receipt (first transfer wins on the unique key).
// The authorizer comes from the first AuthorizationUsed log for that
// hash, falling back to the transfer's payer.
func (s *PaymentSource) HandleLogs(ctx context.Context, logs []types.Log) (int, error) {
	var order []common.Hash
	authorizers := make(map[common.Hash]common.Address)
	for _, lg := range logs {
		auth, err := authorizerOf(lg)
		if err != nil {
			s.logger.Printf("⚠️  skipping malformed log %s[%d]: %v", lg.TxHash.Hex(), lg.Index, err)
			continue
		}
		if _, ok := authorizers[lg.TxHash]; !ok {
			authorizers[lg.TxHash] = auth
			order = append(order, lg.TxHash)
		}
	}

	found := 0
	for _, txHash := range order {
		n, err := s.processTransaction(ctx, txHash, authorizers[txHash])
		if err != nil {
			// RPC failures already exhausted their retries in the
			// gateway; abort the run with the cursor at the last
			// committed batch.
			return found, err
		}
		found += n
	}
	return found, nil
}

func (s *PaymentSource) processTransaction(ctx context.Context, txHash common.Hash, authorizer common.Address) (int, error) {
	receipt, err := s.gateway.Receipt(ctx, txHash)
	if err != nil {
		return 0, fmt.Errorf("fetch receipt %s: %w", txHash.Hex(), err)
	}
	env, err := s.gateway.Transaction(ctx, txHash)
	if err != nil {
		return 0, fmt.Errorf("fetch transaction %s: %w", txHash.Hex(), err)
	}

	facilitator := strings.ToLower(env.From.Hex())
	isX402 := s.chain.HasFacilitator(facilitator)
	usdc := common.HexToAddress(s.chain.USDC)
	now := time.Now().UTC()

	found := 0
	for _, lg := range receipt.Logs {
		if lg.Address != usdc || len(lg.Topics) == 0 || lg.Topics[0] != transferTopic {
			continue
		}
		transfer, err := decodeUSDCTransfer(*lg)
		if err != nil {
			s.logger.Printf("⚠️  skipping malformed transfer %s[%d]: %v", txHash.Hex(), lg.Index, err)
			continue
		}

		payer := strings.ToLower(transfer.Payer.Hex())
		recipient := strings.ToLower(transfer.Recipient.Hex())
		auth := strings.ToLower(authorizer.Hex())
		if authorizer == (common.Address{}) {
			auth = payer
		}

		row := store.Transaction{
			TxHash:      strings.ToLower(txHash.Hex()),
			Chain:       s.chain.Name,
			BlockNumber: lg.BlockNumber,
			Authorizer:  &auth,
			Payer:       &payer,
			Recipient:   &recipient,
			AmountRaw:   transfer.AmountRaw.String(),
			AmountUSDC:  usdcAmount(transfer.AmountRaw),
			Facilitator: facilitator,
			IsX402:      isX402,
		}

		inserted, err := s.db.InsertTransaction(ctx, row)
		if err != nil {
			s.logger.Printf("⚠️  transaction insert failed for %s: %v", txHash.Hex(), err)
			continue
		}
		if !inserted {
			// Already indexed on a prior run; skip the wallet bumps so
			// re-scans stay idempotent.
			continue
		}
		found++

		for _, addr := range []string{payer, recipient} {
			obs := store.WalletObservation{
				Address: addr,
				Source:  store.SourceX402,
				Chain:   s.chain.Name,
				TxDelta: 1,
				SeenAt:  now,
			}
			if err := s.db.ObserveWallet(ctx, obs); err != nil {
				s.logger.Printf("⚠️  wallet upsert failed for %s: %v", addr, err)
			}
		}
	}
	return found, nil
}
