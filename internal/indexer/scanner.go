// Package indexer implements the resumable per-(chain, event-source)
// scanners. One generic batch loop drives three sources: identity mints,
// reputation feedback and USDC payments.
package indexer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BatchBlocks is the hard per-call log window imposed by the free-tier
// RPC provider. Exceeding it is a terminal configuration error.
const BatchBlocks = 10

var eventsIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "indexer_events_indexed_total",
	Help: "Events decoded and persisted per scanner",
}, []string{"scanner"})

// LogGateway is the slice of the chain gateway a scanner drives directly.
type LogGateway interface {
	Head(ctx context.Context) (uint64, error)
	Logs(ctx context.Context, addr common.Address, topics [][]common.Hash, from, to uint64) ([]types.Log, error)
}

// CursorStore persists per-scanner progress.
type CursorStore interface {
	Cursor(ctx context.Context, scannerID string) (uint64, bool, error)
	CommitCursor(ctx context.Context, scannerID string, block uint64) error
}

// Stopper is polled before every batch; the budget governor satisfies it.
type Stopper interface {
	ShouldStop() bool
}

// Source is one event family on one chain.
type Source interface {
	ID() string
	Genesis() uint64
	Address() common.Address
	Topics() [][]common.Hash
	// HandleLogs decodes and persists one batch. Per-row failures are
	// logged and skipped inside; only batch-fatal errors return.
	HandleLogs(ctx context.Context, logs []types.Log) (found int, err error)
}

// Summary is the per-run result every CLI path reports.
type Summary struct {
	ScannerID   string
	From        uint64
	To          uint64
	Batches     int
	EventsFound int
	UpToDate    bool
	BudgetStop  bool
	Elapsed     time.Duration
}

// Scanner runs one source over a block range in bounded batches,
// committing the cursor after every batch so an interrupted run resumes
// exactly where it stopped.
type Scanner struct {
	source  Source
	gateway LogGateway
	cursors CursorStore
	stop    Stopper
	pacing  time.Duration

	// DefaultWindow bounds the first run (no cursor) to the trailing N
	// blocks; 0 means scan from the source genesis. Limit caps blocks
	// scanned this run; 0 means no cap.
	DefaultWindow uint64
	Limit         uint64

	logger *log.Logger
}

// NewScanner wires a scanner for one source.
func NewScanner(source Source, gw LogGateway, cursors CursorStore, stop Stopper, pacing time.Duration) *Scanner {
	return &Scanner{
		source:  source,
		gateway: gw,
		cursors: cursors,
		stop:    stop,
		pacing:  pacing,
		logger:  log.New(log.Writer(), fmt.Sprintf("[SCAN:%s] ", source.ID()), log.LstdFlags),
	}
}

// Run executes one scan. Batches commit in strictly ascending block order;
// the cursor is never advanced past an uncommitted batch.
func (s *Scanner) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{ScannerID: s.source.ID()}
	defer func() { summary.Elapsed = time.Since(start) }()

	head, err := s.gateway.Head(ctx)
	if err != nil {
		return summary, fmt.Errorf("fetch head: %w", err)
	}

	from, err := s.startBlock(ctx, head)
	if err != nil {
		return summary, err
	}
	if from > head {
		s.logger.Printf("✅ up to date (cursor ahead of head %d)", head)
		summary.UpToDate = true
		return summary, nil
	}

	to := head
	if s.Limit > 0 && from+s.Limit-1 < to {
		to = from + s.Limit - 1
	}
	summary.From, summary.To = from, to
	s.logger.Printf("🔍 scanning blocks %d..%d (%d blocks)", from, to, to-from+1)

	for cur := from; cur <= to; {
		if s.stop.ShouldStop() {
			s.logger.Printf("🛑 budget stop, exiting cleanly with cursor preserved at %d", cur-1)
			summary.BudgetStop = true
			break
		}

		batchEnd := cur + BatchBlocks - 1
		if batchEnd > to {
			batchEnd = to
		}

		logs, err := s.gateway.Logs(ctx, s.source.Address(), s.source.Topics(), cur, batchEnd)
		if err != nil {
			return summary, fmt.Errorf("fetch logs %d..%d: %w", cur, batchEnd, err)
		}

		found, err := s.source.HandleLogs(ctx, logs)
		if err != nil {
			return summary, fmt.Errorf("handle batch %d..%d: %w", cur, batchEnd, err)
		}
		summary.EventsFound += found
		eventsIndexed.WithLabelValues(s.source.ID()).Add(float64(found))

		if err := s.cursors.CommitCursor(ctx, s.source.ID(), batchEnd); err != nil {
			return summary, err
		}
		summary.Batches++

		cur = batchEnd + 1
		if cur <= to && s.pacing > 0 {
			time.Sleep(s.pacing)
		}
	}

	return summary, nil
}

func (s *Scanner) startBlock(ctx context.Context, head uint64) (uint64, error) {
	last, ok, err := s.cursors.Cursor(ctx, s.source.ID())
	if err != nil {
		return 0, err
	}
	if ok {
		return last + 1, nil
	}

	from := s.source.Genesis()
	if s.DefaultWindow > 0 && head > s.DefaultWindow && head-s.DefaultWindow > from {
		from = head - s.DefaultWindow
	}
	return from, nil
}
