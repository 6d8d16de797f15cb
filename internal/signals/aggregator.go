// Package signals derives per-wallet signal maps from the event store in
// one pass. Everything is set-oriented SQL: the aggregator never issues
// per-wallet queries.
package signals

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"

	"github.com/shopspring/decimal"
)

// FeedbackStats summarizes feedback addressed to one agent identity.
type FeedbackStats struct {
	Count int
	Avg   decimal.Decimal
}

// VolumeStats summarizes USDC flow through one address.
type VolumeStats struct {
	TotalUSDC      decimal.Decimal
	Counterparties int
}

// RoleStats counts directional appearances of one address.
type RoleStats struct {
	AsPayer     int
	AsRecipient int
}

// Bundle holds the four per-wallet maps one scoring pass consumes.
type Bundle struct {
	Counterparties map[string]int
	Feedback       map[int64]FeedbackStats
	Volume         map[string]VolumeStats
	Roles          map[string]RoleStats
}

// Aggregator runs the aggregation queries against the event store.
type Aggregator struct {
	db     *sql.DB
	logger *log.Logger
}

// NewAggregator wires an aggregator over the store's pool.
func NewAggregator(db *sql.DB) *Aggregator {
	return &Aggregator{
		db:     db,
		logger: log.New(log.Writer(), "[SIGNALS] ", log.LstdFlags),
	}
}

// Collect runs the four aggregation queries. They are independent and
// read-only, so they fan out in parallel.
func (a *Aggregator) Collect(ctx context.Context) (*Bundle, error) {
	bundle := &Bundle{}
	errs := make([]error, 4)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		bundle.Counterparties, errs[0] = a.counterpartyStats(ctx)
	}()
	go func() {
		defer wg.Done()
		bundle.Feedback, errs[1] = a.feedbackStats(ctx)
	}()
	go func() {
		defer wg.Done()
		bundle.Volume, errs[2] = a.volumeStats(ctx)
	}()
	go func() {
		defer wg.Done()
		bundle.Roles, errs[3] = a.roleStats(ctx)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	a.logger.Printf("📊 aggregated signals: %d counterparty rows, %d feedback subjects, %d volume rows, %d role rows",
		len(bundle.Counterparties), len(bundle.Feedback), len(bundle.Volume), len(bundle.Roles))
	return bundle, nil
}

// counterpartyStats: distinct counterparties per address, both directions.
func (a *Aggregator) counterpartyStats(ctx context.Context) (map[string]int, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT addr, COUNT(DISTINCT other)
		FROM (
			SELECT payer AS addr, recipient AS other FROM transactions
			WHERE payer IS NOT NULL AND recipient IS NOT NULL
			UNION ALL
			SELECT recipient AS addr, payer AS other FROM transactions
			WHERE payer IS NOT NULL AND recipient IS NOT NULL
		) pairs
		GROUP BY addr`)
	if err != nil {
		return nil, fmt.Errorf("counterparty stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var addr string
		var n int
		if err := rows.Scan(&addr, &n); err != nil {
			return nil, err
		}
		stats[addr] = n
	}
	return stats, rows.Err()
}

// feedbackStats: count and mean scaled value per agent identity. Feedback
// joins to wallets by erc8004_id at scoring time.
func (a *Aggregator) feedbackStats(ctx context.Context) (map[int64]FeedbackStats, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT agent_id, COUNT(*),
		       AVG(value / power(10, value_decimals)::numeric)
		FROM feedback
		GROUP BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("feedback stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[int64]FeedbackStats)
	for rows.Next() {
		var agentID int64
		var fs FeedbackStats
		if err := rows.Scan(&agentID, &fs.Count, &fs.Avg); err != nil {
			return nil, err
		}
		stats[agentID] = fs
	}
	return stats, rows.Err()
}

// volumeStats: total USDC moved and distinct contributing counterparties
// per address.
func (a *Aggregator) volumeStats(ctx context.Context) (map[string]VolumeStats, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT addr, SUM(amount), COUNT(DISTINCT other)
		FROM (
			SELECT payer AS addr, recipient AS other, amount_usdc AS amount
			FROM transactions WHERE payer IS NOT NULL
			UNION ALL
			SELECT recipient AS addr, payer AS other, amount_usdc AS amount
			FROM transactions WHERE recipient IS NOT NULL
		) flows
		GROUP BY addr`)
	if err != nil {
		return nil, fmt.Errorf("volume stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]VolumeStats)
	for rows.Next() {
		var addr string
		var vs VolumeStats
		if err := rows.Scan(&addr, &vs.TotalUSDC, &vs.Counterparties); err != nil {
			return nil, err
		}
		stats[addr] = vs
	}
	return stats, rows.Err()
}

// roleStats: how often each address appeared as payer and as recipient.
func (a *Aggregator) roleStats(ctx context.Context) (map[string]RoleStats, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT addr, SUM(as_payer), SUM(as_recipient)
		FROM (
			SELECT payer AS addr, 1 AS as_payer, 0 AS as_recipient
			FROM transactions WHERE payer IS NOT NULL
			UNION ALL
			SELECT recipient AS addr, 0 AS as_payer, 1 AS as_recipient
			FROM transactions WHERE recipient IS NOT NULL
		) directions
		GROUP BY addr`)
	if err != nil {
		return nil, fmt.Errorf("role stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]RoleStats)
	for rows.Next() {
		var addr string
		var rs RoleStats
		if err := rows.Scan(&addr, &rs.AsPayer, &rs.AsRecipient); err != nil {
			return nil, err
		}
		stats[addr] = rs
	}
	return stats, rows.Err()
}

// Role maps directional counts to the persisted role label.
func (r RoleStats) Role() string {
	switch {
	case r.AsPayer > 0 && r.AsRecipient > 0:
		return "both"
	case r.AsPayer > 0:
		return "buyer"
	case r.AsRecipient > 0:
		return "seller"
	default:
		return ""
	}
}
