package indexer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/agenttrust/backend/internal/config"
	"github.com/agenttrust/backend/internal/store"
)

// WalletStore is the wallet slice of the event store.
type WalletStore interface {
	ObserveWallet(ctx context.Context, obs store.WalletObservation) error
}

// shortChain abbreviates chain names for scanner ids (erc8004_identity_eth,
// x402_arb, ...).
func shortChain(name string) string {
	switch name {
	case "ethereum":
		return "eth"
	case "arbitrum":
		return "arb"
	default:
		return name
	}
}

// IdentitySource scans identity-registry mints: ERC-721 Transfer events
// from the zero address. Each mint creates or promotes a wallet with its
// erc8004 identity token.
type IdentitySource struct {
	chain   config.Chain
	wallets WalletStore
	logger  *log.Logger
}

// NewIdentitySource builds the identity scanner source for one chain.
func NewIdentitySource(ch config.Chain, wallets WalletStore) *IdentitySource {
	return &IdentitySource{
		chain:   ch,
		wallets: wallets,
		logger:  log.New(log.Writer(), fmt.Sprintf("[IDENTITY:%s] ", ch.Name), log.LstdFlags),
	}
}

func (s *IdentitySource) ID() string      { return "erc8004_identity_" + shortChain(s.chain.Name) }
func (s *IdentitySource) Genesis() uint64 { return s.chain.IdentityGenesis }

func (s *IdentitySource) Address() common.Address {
	return common.HexToAddress(s.chain.IdentityRegistry)
}

// Topic filter: Transfer with from = 0x0 (mints only).
func (s *IdentitySource) Topics() [][]common.Hash {
	return [][]common.Hash{{transferTopic}, {zeroAddressTopic}}
}

// HandleLogs decodes the batch and upserts one wallet per distinct minted
// owner. Multiple mints to the same wallet within a batch collapse to a
// single observation; the upsert preserves the earliest erc8004 id.
func (s *IdentitySource) HandleLogs(ctx context.Context, logs []types.Log) (int, error) {
	seen := make(map[string]bool)
	now := time.Now().UTC()
	found := 0

	for _, lg := range logs {
		mint, err := decodeIdentityMint(lg)
		if err != nil {
			s.logger.Printf("⚠️  skipping malformed log %s[%d]: %v", lg.TxHash.Hex(), lg.Index, err)
			continue
		}

		addr := strings.ToLower(mint.Owner.Hex())
		if seen[addr] {
			continue
		}
		seen[addr] = true

		tokenID := mint.TokenID.Int64()
		obs := store.WalletObservation{
			Address:   addr,
			Source:    store.SourceERC8004,
			Chain:     s.chain.Name,
			ERC8004ID: &tokenID,
			SeenAt:    now,
		}
		if err := s.wallets.ObserveWallet(ctx, obs); err != nil {
			s.logger.Printf("⚠️  wallet upsert failed for %s: %v", addr, err)
			continue
		}
		found++
	}
	return found, nil
}
