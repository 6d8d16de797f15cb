package indexer

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/agenttrust/backend/internal/config"
	"github.com/agenttrust/backend/internal/store"
)

// FeedbackStore is the feedback slice of the event store.
type FeedbackStore interface {
	InsertFeedback(ctx context.Context, f store.Feedback) (bool, error)
}

// FeedbackSource scans NewFeedback events on the reputation registry.
// Feedback joins to wallets by erc8004_id at aggregation time, so no
// wallet mutation happens here.
type FeedbackSource struct {
	chain    config.Chain
	feedback FeedbackStore
	logger   *log.Logger
}

// NewFeedbackSource builds the feedback scanner source for one chain.
func NewFeedbackSource(ch config.Chain, feedback FeedbackStore) *FeedbackSource {
	return &FeedbackSource{
		chain:    ch,
		feedback: feedback,
		logger:   log.New(log.Writer(), fmt.Sprintf("[FEEDBACK:%s] ", ch.Name), log.LstdFlags),
	}
}

func (s *FeedbackSource) ID() string      { return "erc8004_feedback_" + shortChain(s.chain.Name) }
func (s *FeedbackSource) Genesis() uint64 { return s.chain.ReputationGenesis }

func (s *FeedbackSource) Address() common.Address {
	return common.HexToAddress(s.chain.ReputationRegistry)
}

func (s *FeedbackSource) Topics() [][]common.Hash {
	return [][]common.Hash{{newFeedbackTopic}}
}

// HandleLogs decodes each NewFeedback payload and inserts it idempotently
// on (tx_hash, feedback_index). The log index within the transaction
// serves as the feedback index.
func (s *FeedbackSource) HandleLogs(ctx context.Context, logs []types.Log) (int, error) {
	found := 0
	for _, lg := range logs {
		ev, err := decodeFeedback(lg)
		if err != nil {
			s.logger.Printf("⚠️  skipping malformed log %s[%d]: %v", lg.TxHash.Hex(), lg.Index, err)
			continue
		}

		contentHash := "0x" + common.Bytes2Hex(ev.ContentHash[:])
		row := store.Feedback{
			TxHash:        strings.ToLower(lg.TxHash.Hex()),
			FeedbackIndex: int(lg.Index),
			AgentID:       ev.AgentID.Int64(),
			ClientAddress: strings.ToLower(ev.ClientAddress.Hex()),
			Value:         decimal.NewFromBigInt(ev.Value, 0),
			ValueDecimals: int(ev.ValueDecimals),
			Tag1:          optional(ev.Tag1),
			Tag2:          optional(ev.Tag2),
			Endpoint:      optional(ev.Endpoint),
			FeedbackURI:   optional(ev.FeedbackURI),
			ContentHash:   &contentHash,
			BlockNumber:   lg.BlockNumber,
			Chain:         s.chain.Name,
			Source:        store.FeedbackSourceChain,
		}

		inserted, err := s.feedback.InsertFeedback(ctx, row)
		if err != nil {
			s.logger.Printf("⚠️  feedback insert failed for %s[%d]: %v", lg.TxHash.Hex(), lg.Index, err)
			continue
		}
		if inserted {
			found++
		}
	}
	return found, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
