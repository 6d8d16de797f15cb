// Package budget tracks RPC compute-unit spend for one process run.
//
// The governor is process-scoped state with a documented lifecycle: zeroed
// at process start, advanced by the chain gateway before every RPC call,
// observed by every scanner between batches. The stop flag is one-way
// within a run.
package budget

import (
	"log"
	"sync"

	"github.com/agenttrust/backend/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Per-call compute-unit costs, Alchemy-style pricing. Unknown methods get
// a conservative default.
var methodCosts = map[string]int64{
	"eth_blockNumber":           10,
	"eth_getLogs":               75,
	"eth_getTransactionReceipt": 15,
	"eth_getTransactionByHash":  17,
}

const defaultMethodCost = 25

var cuUsed = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "indexer_compute_units_used",
	Help: "Compute units consumed against the monthly RPC budget this run",
})

// Governor accumulates CU spend and trips warning/stop thresholds.
type Governor struct {
	mu      sync.Mutex
	budget  int64
	warnAt  int64
	stopAt  int64
	used    int64
	calls   map[string]int64
	warned  bool
	stopped bool
	logger  *log.Logger
}

// Usage is a point-in-time snapshot of governor state.
type Usage struct {
	Used    int64
	Budget  int64
	Calls   map[string]int64
	Stopped bool
}

// NewGovernor creates a governor for one process run.
func NewGovernor(cfg config.BudgetConfig) *Governor {
	return &Governor{
		budget: cfg.MonthlyCU,
		warnAt: int64(float64(cfg.MonthlyCU) * cfg.WarnFraction),
		stopAt: int64(float64(cfg.MonthlyCU) * cfg.StopFraction),
		calls:  make(map[string]int64),
		logger: log.New(log.Writer(), "[BUDGET] ", log.LstdFlags),
	}
}

// Record charges n calls of the given RPC method against the budget.
// Crossing the warn threshold logs once; crossing the stop threshold sets
// the terminal flag.
func (g *Governor) Record(method string, n int) {
	cost, ok := methodCosts[method]
	if !ok {
		cost = defaultMethodCost
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.used += cost * int64(n)
	g.calls[method] += int64(n)
	cuUsed.Set(float64(g.used))

	if !g.warned && g.used >= g.warnAt {
		g.warned = true
		g.logger.Printf("⚠️  CU usage at %.0f%% of monthly budget (%d / %d)",
			100*float64(g.used)/float64(g.budget), g.used, g.budget)
	}
	if !g.stopped && g.used >= g.stopAt {
		g.stopped = true
		g.logger.Printf("🛑 CU usage at %.0f%% of monthly budget, scanners will stop after the current batch",
			100*float64(g.used)/float64(g.budget))
	}
}

// ShouldStop reports the terminal flag. Scanners poll it before every
// batch and exit cleanly when set, preserving their cursor.
func (g *Governor) ShouldStop() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

// Snapshot returns current totals and the per-method call breakdown.
func (g *Governor) Snapshot() Usage {
	g.mu.Lock()
	defer g.mu.Unlock()

	calls := make(map[string]int64, len(g.calls))
	for m, n := range g.calls {
		calls[m] = n
	}
	return Usage{Used: g.used, Budget: g.budget, Calls: calls, Stopped: g.stopped}
}

// Reset zeroes all counters and flags. Test use only.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.used = 0
	g.calls = make(map[string]int64)
	g.warned = false
	g.stopped = false
}
