// Command scorer runs one scoring pass: aggregate signals, score the
// working set, then dispatch webhook notifications for the resulting
// deltas. An advisory lock keeps concurrent invocations from overlapping.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agenttrust/backend/internal/config"
	"github.com/agenttrust/backend/internal/notify"
	"github.com/agenttrust/backend/internal/scoring"
	"github.com/agenttrust/backend/internal/signals"
	"github.com/agenttrust/backend/internal/store"
)

func main() {
	fullFlag := flag.Bool("full", false, "rescore every wallet instead of only dirty ones")
	flag.Parse()

	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ database: %v", err)
	}
	defer db.Close()

	lock, acquired, err := db.AcquireScoringLock(ctx)
	if err != nil {
		log.Fatalf("❌ scoring lock: %v", err)
	}
	if !acquired {
		log.Printf("⚠️ another scoring run holds the lock; exiting")
		return
	}
	defer lock.Release(ctx)

	start := time.Now()
	engine := scoring.NewEngine(db, signals.NewAggregator(db.DB()))
	deltas, err := engine.Run(ctx, *fullFlag)
	if err != nil {
		log.Fatalf("❌ scoring: %v", err)
	}

	if err := notify.NewDispatcher(db).Dispatch(ctx, deltas); err != nil {
		log.Fatalf("❌ dispatch: %v", err)
	}

	printSummary(ctx, db, len(deltas), time.Since(start))
}

func printSummary(ctx context.Context, db *store.Store, scored int, elapsed time.Duration) {
	log.Printf("📊 scoring pass complete in %s: %d wallets scored", elapsed.Round(time.Millisecond), scored)

	if dist, err := db.ScoreDistribution(ctx); err == nil {
		log.Printf("📊 tiers: HIGH %d, MEDIUM %d, LOW %d, MINIMAL %d",
			dist[80], dist[50], dist[20], dist[0])
	}

	if top, err := db.TopScored(ctx, 10, false); err == nil && len(top) > 0 {
		log.Printf("📊 top %d:", len(top))
		for _, w := range top {
			log.Printf("   %s  %3d  %s", w.Address, *w.TrustScore, scoring.Tier(*w.TrustScore))
		}
	}
	if bottom, err := db.TopScored(ctx, 5, true); err == nil && len(bottom) > 0 {
		log.Printf("📊 bottom %d:", len(bottom))
		for _, w := range bottom {
			log.Printf("   %s  %3d  %s", w.Address, *w.TrustScore, scoring.Tier(*w.TrustScore))
		}
	}
}
