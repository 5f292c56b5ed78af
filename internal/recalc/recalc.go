// Package recalc rebuilds all derived stock snapshots and P&L records from
// the ledger. A rebuild is idempotent: running it twice against an
// unchanged ledger produces identical derived sets, so an aborted rebuild
// is safely retried from the start.
package recalc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/saudabook/recon-engine/internal/metrics"
	"github.com/saudabook/recon-engine/internal/model"
	"github.com/saudabook/recon-engine/internal/pending"
	"github.com/saudabook/recon-engine/internal/pnl"
	"github.com/saudabook/recon-engine/internal/stock"
	"github.com/saudabook/recon-engine/internal/store"
)

// ErrAlreadyRunning is returned when a rebuild is requested while another
// rebuild holds the recomputation lock. Concurrent rebuilds are rejected,
// never queued or interleaved.
var ErrAlreadyRunning = errors.New("recalc: a recalculation is already running")

// Report summarizes a completed rebuild. Violations indicate ledger
// inconsistency (historical over-deliveries) and must be shown prominently
// by callers; they do not mean the rebuild failed.
type Report struct {
	Violations   []model.Violation `json:"violations"`
	StockRows    int               `json:"stock_rows"`
	PnlRows      int               `json:"pnl_rows"`
	SettledDates int               `json:"settled_dates"`
	Duration     time.Duration     `json:"-"`
}

// Orchestrator drives full rebuilds of the derived tables. The mutex is the
// exclusive recomputation lock: derived-table writes are already atomic at
// the store level, the lock only prevents two rebuilds from racing each
// other's full-table swaps.
type Orchestrator struct {
	store store.Store
	rates pnl.RateLookup
	mu    sync.Mutex
}

// NewOrchestrator creates an orchestrator over the given store. rates
// supplies current market rates for future P&L display and may be nil.
func NewOrchestrator(st store.Store, rates pnl.RateLookup) *Orchestrator {
	return &Orchestrator{store: st, rates: rates}
}

// RecalculateAll rebuilds every derived table: stock snapshots (item and
// party), settled P&L for every distinct contract date, and future P&L.
// On any store failure the previous derived data is left untouched.
func (o *Orchestrator) RecalculateAll(ctx context.Context) (*Report, error) {
	if !o.mu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer o.mu.Unlock()

	start := time.Now()

	contracts, deliveries, err := o.loadLedger(ctx)
	if err != nil {
		return nil, err
	}

	violations := scanViolations(contracts, deliveries)
	now := time.Now().UTC()

	items, _ := stock.AggregateItems(contracts, deliveries, now)
	parties, _ := stock.AggregateParties(contracts, deliveries, now)
	settled, dates := settledForAllDates(contracts, now)
	future, _ := pnl.Future(contracts, deliveries, o.rates, now)

	// One swap for everything: a failure must not leave new stock rows
	// visible beside old P&L rows.
	if err := o.store.ReplaceAllDerived(ctx, items, parties, settled, future); err != nil {
		return nil, fmt.Errorf("replace derived tables: %w", err)
	}

	report := &Report{
		Violations:   violations,
		StockRows:    len(items) + len(parties),
		PnlRows:      len(settled) + len(future),
		SettledDates: dates,
		Duration:     time.Since(start),
	}
	o.observe("all", report)
	return report, nil
}

// RecalculateStock rebuilds only the stock snapshot tables.
func (o *Orchestrator) RecalculateStock(ctx context.Context) (*Report, error) {
	if !o.mu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer o.mu.Unlock()

	start := time.Now()

	contracts, deliveries, err := o.loadLedger(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	items, violations := stock.AggregateItems(contracts, deliveries, now)
	parties, _ := stock.AggregateParties(contracts, deliveries, now)
	if err := o.store.ReplaceStockSnapshots(ctx, items, parties); err != nil {
		return nil, fmt.Errorf("replace stock snapshots: %w", err)
	}

	report := &Report{
		Violations: violations,
		StockRows:  len(items) + len(parties),
		Duration:   time.Since(start),
	}
	o.observe("stock", report)
	return report, nil
}

// RecalculateAllPnl rebuilds the whole P&L table: settled records for every
// distinct contract date plus the future records.
func (o *Orchestrator) RecalculateAllPnl(ctx context.Context) (*Report, error) {
	if !o.mu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer o.mu.Unlock()

	start := time.Now()

	contracts, deliveries, err := o.loadLedger(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	settled, dates := settledForAllDates(contracts, now)
	future, violations := pnl.Future(contracts, deliveries, o.rates, now)
	if err := o.store.ReplaceAllPnl(ctx, settled, future); err != nil {
		return nil, fmt.Errorf("replace pnl records: %w", err)
	}

	report := &Report{
		Violations:   violations,
		PnlRows:      len(settled) + len(future),
		SettledDates: dates,
		Duration:     time.Since(start),
	}
	o.observe("pnl", report)
	return report, nil
}

func (o *Orchestrator) loadLedger(ctx context.Context) ([]model.Contract, map[string][]model.DeliveryEvent, error) {
	contracts, err := o.store.ListContracts(ctx, store.ContractFilter{})
	if err != nil {
		return nil, nil, fmt.Errorf("load contracts: %w", err)
	}
	deliveries, err := o.store.ListAllDeliveryEvents(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load delivery events: %w", err)
	}
	return contracts, deliveries, nil
}

// scanViolations runs the pending-quantity calculator over every contract
// and collects integrity violations without aborting on any of them.
func scanViolations(contracts []model.Contract, deliveries map[string][]model.DeliveryEvent) []model.Violation {
	var violations []model.Violation
	for _, c := range contracts {
		_, err := pending.Compute(c, deliveries[c.ID])
		var odErr *pending.OverDeliveryError
		if errors.As(err, &odErr) {
			violations = append(violations, odErr.Violation(c))
		}
	}
	return violations
}

// settledForAllDates computes settled P&L for each distinct contract date
// present in the ledger and returns the flattened records plus the number
// of dates covered.
func settledForAllDates(contracts []model.Contract, now time.Time) ([]model.PnlRecord, int) {
	seen := make(map[string]time.Time)
	for _, c := range contracts {
		seen[c.Date.UTC().Format("2006-01-02")] = c.Date.UTC()
	}

	var records []model.PnlRecord
	for _, key := range sortedKeys(seen) {
		records = append(records, pnl.Settled(contracts, seen[key], now)...)
	}
	return records, len(seen)
}

func sortedKeys(m map[string]time.Time) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (o *Orchestrator) observe(scope string, r *Report) {
	metrics.RecalcRunsTotal.WithLabelValues(scope).Inc()
	metrics.RecalcDuration.WithLabelValues(scope).Observe(r.Duration.Seconds())
	metrics.IntegrityViolations.Set(float64(len(r.Violations)))

	slog.Info("recalculation completed",
		"scope", scope,
		"stock_rows", r.StockRows,
		"pnl_rows", r.PnlRows,
		"settled_dates", r.SettledDates,
		"violations", len(r.Violations),
		"duration", r.Duration.String(),
	)
}
