// Command indexer runs one scan pass over the selected chains: identity
// mints, reputation feedback and x402 USDC payments. It exits 0 on any
// clean stop (up to date, block limit reached, or budget stop) and 1 on
// an unrecoverable error.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agenttrust/backend/internal/budget"
	"github.com/agenttrust/backend/internal/chain"
	"github.com/agenttrust/backend/internal/config"
	"github.com/agenttrust/backend/internal/indexer"
	"github.com/agenttrust/backend/internal/store"
)

func main() {
	chainFlag := flag.String("chain", "all", "chain to scan: ethereum|base|arbitrum|all")
	daysFlag := flag.Int("days", 7, "default trailing window in days for scanners without a cursor")
	limitFlag := flag.Uint64("limit", 0, "cap on blocks scanned per scanner this run (0 = no cap)")
	flag.Parse()

	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ config: %v", err)
	}
	chains, err := config.LoadChains()
	if err != nil {
		log.Fatalf("❌ chains: %v", err)
	}
	selected, err := config.SelectChains(chains, *chainFlag)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ database: %v", err)
	}
	defer db.Close()

	gov := budget.NewGovernor(cfg.Budget)
	start := time.Now()

	var summaries []*indexer.Summary
	for _, ch := range selected {
		gw, err := chain.Dial(ctx, cfg, ch, gov)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}

		for _, src := range sourcesFor(ch, gw, db) {
			sc := indexer.NewScanner(src, gw, db, gov, ch.Pacing())
			sc.DefaultWindow = ch.BlocksForDays(*daysFlag)
			sc.Limit = *limitFlag

			summary, err := sc.Run(ctx)
			if err != nil {
				gw.Close()
				log.Fatalf("❌ scan %s: %v", src.ID(), err)
			}
			summaries = append(summaries, summary)
		}
		gw.Close()
	}

	printSummary(ctx, db, gov, summaries, time.Since(start))
}

// sourcesFor builds the scanner sources configured for one chain. A chain
// with no registry address for a family simply skips that scanner.
func sourcesFor(ch config.Chain, gw *chain.Gateway, db *store.Store) []indexer.Source {
	var sources []indexer.Source
	if ch.IdentityRegistry != "" {
		sources = append(sources, indexer.NewIdentitySource(ch, db))
	}
	if ch.ReputationRegistry != "" {
		sources = append(sources, indexer.NewFeedbackSource(ch, db))
	}
	if ch.USDC != "" {
		sources = append(sources, indexer.NewPaymentSource(ch, gw, db))
	}
	return sources
}

func printSummary(ctx context.Context, db *store.Store, gov *budget.Governor, summaries []*indexer.Summary, elapsed time.Duration) {
	events, batches := 0, 0
	budgetStop := false
	for _, s := range summaries {
		events += s.EventsFound
		batches += s.Batches
		budgetStop = budgetStop || s.BudgetStop
		state := "scanned"
		if s.UpToDate {
			state = "up to date"
		} else if s.BudgetStop {
			state = "budget stop"
		}
		log.Printf("📊 %-24s %s: blocks %d..%d, %d batches, %d events",
			s.ScannerID, state, s.From, s.To, s.Batches, s.EventsFound)
	}

	usage := gov.Snapshot()
	log.Printf("📊 run complete in %s: %d scanners, %d batches, %d events", elapsed.Round(time.Millisecond), len(summaries), batches, events)
	log.Printf("📊 CU usage: %d / %d (%.2f%%)", usage.Used, usage.Budget, 100*float64(usage.Used)/float64(usage.Budget))
	for method, calls := range usage.Calls {
		log.Printf("   %-28s %d calls", method, calls)
	}

	if size, err := db.DatabaseSize(ctx); err == nil {
		log.Printf("📊 database size: %s", humanBytes(size))
	}
	if budgetStop {
		log.Printf("🛑 stopped on CU budget; cursors preserved, rerun next window")
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
