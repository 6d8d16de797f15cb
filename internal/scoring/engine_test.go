package scoring

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrust/backend/internal/signals"
	"github.com/agenttrust/backend/internal/store"
)

type appliedScore struct {
	address   string
	score     int
	breakdown map[string]int
	role      string
}

type fakeWalletStore struct {
	wallets  []store.Wallet
	fullArg  *bool
	applied  []appliedScore
	failAddr string
}

func (f *fakeWalletStore) WalletsForScoring(ctx context.Context, full bool) ([]store.Wallet, error) {
	f.fullArg = &full
	return f.wallets, nil
}

func (f *fakeWalletStore) ApplyScore(ctx context.Context, address string, score int, breakdown map[string]int, role string, computedAt time.Time) error {
	if address == f.failAddr {
		return fmt.Errorf("connection reset")
	}
	f.applied = append(f.applied, appliedScore{address, score, breakdown, role})
	return nil
}

type fakeSignals struct {
	bundle *signals.Bundle
	calls  int
}

func (f *fakeSignals) Collect(ctx context.Context) (*signals.Bundle, error) {
	f.calls++
	return f.bundle, nil
}

func testEngine(wallets *fakeWalletStore, sigs *fakeSignals) *Engine {
	e := NewEngine(wallets, sigs)
	e.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return e
}

func intPtr(n int) *int     { return &n }
func i64Ptr(n int64) *int64 { return &n }

func TestEngineScoresAndPersists(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	agentID := i64Ptr(42)

	wallets := &fakeWalletStore{wallets: []store.Wallet{
		{
			Address:     "0xaaa",
			Source:      store.SourceBoth,
			ERC8004ID:   agentID,
			TxCount:     10,
			FirstSeenAt: now.AddDate(0, 0, -90),
			LastSeenAt:  now.AddDate(0, 0, -1),
			TrustScore:  intPtr(40),
		},
	}}
	sigs := &fakeSignals{bundle: &signals.Bundle{
		Counterparties: map[string]int{"0xaaa": 5},
		Feedback: map[int64]signals.FeedbackStats{
			42: {Count: 10, Avg: decimal.NewFromFloat(4.0)},
		},
		Volume: map[string]signals.VolumeStats{
			"0xaaa": {TotalUSDC: decimal.NewFromInt(1000), Counterparties: 5},
		},
		Roles: map[string]signals.RoleStats{
			"0xaaa": {AsPayer: 3, AsRecipient: 7},
		},
	}}

	deltas, err := testEngine(wallets, sigs).Run(context.Background(), false)
	require.NoError(t, err)

	// Composition example plus the registration bonus.
	require.Len(t, deltas, 1)
	assert.Equal(t, "0xaaa", deltas[0].Address)
	assert.Equal(t, 59, deltas[0].New)
	assert.Equal(t, 40, *deltas[0].Old)
	assert.Equal(t, TierMedium, deltas[0].Tier)

	require.Len(t, wallets.applied, 1)
	assert.Equal(t, 59, wallets.applied[0].score)
	assert.Equal(t, store.RoleBoth, wallets.applied[0].role)
	assert.Equal(t, 5, wallets.applied[0].breakdown["registered_bonus"])
}

func TestEngineFirstScoreHasNilOld(t *testing.T) {
	wallets := &fakeWalletStore{wallets: []store.Wallet{
		{Address: "0xbbb", Source: store.SourceX402, TxCount: 2},
	}}
	sigs := &fakeSignals{bundle: &signals.Bundle{}}

	deltas, err := testEngine(wallets, sigs).Run(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Nil(t, deltas[0].Old)
}

func TestEngineSkipsWalletOnPersistFailure(t *testing.T) {
	wallets := &fakeWalletStore{
		wallets: []store.Wallet{
			{Address: "0xbad", Source: store.SourceX402},
			{Address: "0xok", Source: store.SourceX402},
		},
		failAddr: "0xbad",
	}
	sigs := &fakeSignals{bundle: &signals.Bundle{}}

	deltas, err := testEngine(wallets, sigs).Run(context.Background(), false)
	require.NoError(t, err)

	// One bad row does not starve the run.
	require.Len(t, deltas, 1)
	assert.Equal(t, "0xok", deltas[0].Address)
}

func TestEngineEmptyWorkingSetSkipsAggregation(t *testing.T) {
	wallets := &fakeWalletStore{}
	sigs := &fakeSignals{bundle: &signals.Bundle{}}

	deltas, err := testEngine(wallets, sigs).Run(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, deltas)
	assert.Zero(t, sigs.calls)
	require.NotNil(t, wallets.fullArg)
	assert.True(t, *wallets.fullArg)
}

func TestEngineUnregisteredWalletGetsNoBonus(t *testing.T) {
	wallets := &fakeWalletStore{wallets: []store.Wallet{
		{Address: "0xccc", Source: store.SourceX402, TxCount: 2},
	}}
	sigs := &fakeSignals{bundle: &signals.Bundle{}}

	_, err := testEngine(wallets, sigs).Run(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, wallets.applied, 1)
	assert.Equal(t, 0, wallets.applied[0].breakdown["registered_bonus"])
}
