package scoring

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agenttrust/backend/internal/signals"
	"github.com/agenttrust/backend/internal/store"
)

var walletsScored = promauto.NewCounter(prometheus.CounterOpts{
	Name: "scoring_wallets_scored_total",
	Help: "Wallets scored across all runs.",
})

// WalletStore is the store surface one scoring pass needs.
type WalletStore interface {
	WalletsForScoring(ctx context.Context, full bool) ([]store.Wallet, error)
	ApplyScore(ctx context.Context, address string, score int, breakdown map[string]int, role string, computedAt time.Time) error
}

// SignalSource supplies the aggregated per-wallet signal maps.
type SignalSource interface {
	Collect(ctx context.Context) (*signals.Bundle, error)
}

// Delta records one wallet's score transition for the dispatcher. Old is
// nil on the first score.
type Delta struct {
	Address string
	Old     *int
	New     int
	Tier    string
}

// Engine scores the working set against one signal bundle. The caller
// holds the scoring advisory lock for the duration of Run.
type Engine struct {
	wallets WalletStore
	signals SignalSource
	logger  *log.Logger
	now     func() time.Time
}

func NewEngine(wallets WalletStore, sigs SignalSource) *Engine {
	return &Engine{
		wallets: wallets,
		signals: sigs,
		logger:  log.New(log.Writer(), "[SCORING] ", log.LstdFlags),
		now:     time.Now,
	}
}

// Run aggregates signals once, scores every wallet in the working set and
// persists each result. A wallet whose persistence fails is logged and
// skipped so one bad row cannot starve the rest of the run.
func (e *Engine) Run(ctx context.Context, full bool) ([]Delta, error) {
	wallets, err := e.wallets.WalletsForScoring(ctx, full)
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		e.logger.Printf("✅ nothing to score")
		return nil, nil
	}

	bundle, err := e.signals.Collect(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now()
	deltas := make([]Delta, 0, len(wallets))
	failed := 0
	for i := range wallets {
		w := &wallets[i]
		sig := e.buildSignals(w, bundle)
		score, breakdown := Compute(sig, now)
		role := bundle.Roles[w.Address].Role()

		if err := e.wallets.ApplyScore(ctx, w.Address, score, breakdown, role, now); err != nil {
			e.logger.Printf("⚠️ score for %s not persisted: %v", w.Address, err)
			failed++
			continue
		}
		walletsScored.Inc()
		deltas = append(deltas, Delta{
			Address: w.Address,
			Old:     w.TrustScore,
			New:     score,
			Tier:    Tier(score),
		})
	}

	e.logger.Printf("📊 scored %d wallets (%d skipped) in %s mode",
		len(deltas), failed, modeName(full))
	return deltas, nil
}

func (e *Engine) buildSignals(w *store.Wallet, bundle *signals.Bundle) Signals {
	sig := Signals{
		TxCount:      w.TxCount,
		FirstSeenAt:  w.FirstSeenAt,
		LastSeenAt:   w.LastSeenAt,
		IsRegistered: w.Source == store.SourceERC8004 || w.Source == store.SourceBoth,
	}
	sig.UniqueCounterparties = bundle.Counterparties[w.Address]

	if vol, ok := bundle.Volume[w.Address]; ok {
		sig.TotalVolumeUSDC = vol.TotalUSDC.InexactFloat64()
		sig.VolumeCounterparties = vol.Counterparties
	}
	if w.ERC8004ID != nil {
		if fb, ok := bundle.Feedback[*w.ERC8004ID]; ok && fb.Count > 0 {
			avg := fb.Avg.InexactFloat64()
			sig.AvgFeedback = &avg
			sig.FeedbackCount = fb.Count
		}
	}
	return sig
}

func modeName(full bool) string {
	if full {
		return "full"
	}
	return "incremental"
}
