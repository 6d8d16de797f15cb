package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet sources. The promotion to SourceBoth is one-way.
const (
	SourceERC8004 = "erc8004"
	SourceX402    = "x402"
	SourceBoth    = "both"
)

// Wallet roles derived at scoring time.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleBoth   = "both"
)

// Feedback provenance.
const (
	FeedbackSourceChain = "chain"
	FeedbackSourceAPI   = "api"
)

// Wallet is an observed on-chain agent wallet. Addresses are stored
// lowercased.
type Wallet struct {
	Address        string
	Source         string
	Chain          string
	ERC8004ID      *int64
	TxCount        int64
	FirstSeenAt    time.Time
	LastSeenAt     time.Time
	TrustScore     *int
	ScoreBreakdown map[string]int
	ScoredAt       *time.Time
	Role           *string
	NeedsRescore   bool
}

// WalletObservation is one indexer sighting of a wallet; the upsert merges
// it into the existing row under the promotion rules.
type WalletObservation struct {
	Address   string
	Source    string
	Chain     string
	ERC8004ID *int64
	TxDelta   int64
	SeenAt    time.Time
}

// Transaction is one settled USDC transfer. Unique on (tx_hash, chain);
// when a receipt carries several transfers the first decoded one wins.
type Transaction struct {
	TxHash         string
	Chain          string
	BlockNumber    uint64
	Authorizer     *string
	Payer          *string
	Recipient      *string
	AmountRaw      string
	AmountUSDC     decimal.Decimal
	Facilitator    string
	IsX402         bool
	BlockTimestamp *time.Time
}

// Feedback is one attestation about an agent identity. Value is the raw
// signed fixed-point integer; ValueDecimals scales it.
type Feedback struct {
	TxHash        string
	FeedbackIndex int
	AgentID       int64
	ClientAddress string
	Value         decimal.Decimal
	ValueDecimals int
	Tag1          *string
	Tag2          *string
	Endpoint      *string
	FeedbackURI   *string
	ContentHash   *string
	BlockNumber   uint64
	Chain         string
	Source        string
}

// Snapshot is one row of the append-only score history.
type Snapshot struct {
	ID         int64
	Address    string
	Score      int
	Breakdown  map[string]int
	ComputedAt time.Time
}

// APIKey carries a tier and a daily request quota. The secret is stored
// bcrypt-hashed.
type APIKey struct {
	KeyID      string
	KeyHash    string
	Name       string
	Tier       string
	DailyQuota int
	IsActive   bool
	CreatedAt  time.Time
}

// Webhook event kinds.
const (
	EventScoreChange = "score_change"
	EventScoreDrop   = "score_drop"
	EventScoreRise   = "score_rise"
)

// Webhook is a registered score-change subscription.
type Webhook struct {
	ID            string
	APIKeyID      string
	URL           string
	WalletAddress *string
	EventType     string
	Threshold     *int
	Secret        string
	IsActive      bool
	FailCount     int
	CreatedAt     time.Time
}
