package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/saudabook/recon-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). Derived sets
// are swapped under the write lock, so readers observe whole snapshots.
type MemoryStore struct {
	mu         sync.RWMutex
	contracts  map[string]*model.Contract
	deliveries []model.DeliveryEvent

	stockItems   []model.StockSnapshot
	stockParties []model.StockSnapshot
	settledPnl   map[string][]model.PnlRecord // keyed by YYYY-MM-DD
	futurePnl    []model.PnlRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contracts:  make(map[string]*model.Contract),
		settledPnl: make(map[string][]model.PnlRecord),
	}
}

func dateKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// --- Ledger: contracts ---

func (s *MemoryStore) CreateContract(_ context.Context, c *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.contracts[c.ID]; exists {
		return fmt.Errorf("contract %s already exists", c.ID)
	}
	copy := *c
	s.contracts[c.ID] = &copy
	return nil
}

func (s *MemoryStore) GetContract(_ context.Context, id string) (*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	copy := *c
	return &copy, nil
}

func (s *MemoryStore) ListContracts(_ context.Context, filter ContractFilter) ([]model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var contracts []model.Contract
	for _, c := range s.contracts {
		if filter.Direction != nil && c.Direction != *filter.Direction {
			continue
		}
		if filter.ItemID != "" && c.ItemID != filter.ItemID {
			continue
		}
		if filter.PartyID != "" && c.PartyID != filter.PartyID {
			continue
		}
		if filter.From != nil && c.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && c.Date.After(*filter.To) {
			continue
		}
		contracts = append(contracts, *c)
	}

	sort.Slice(contracts, func(i, j int) bool {
		if !contracts[i].Date.Equal(contracts[j].Date) {
			return contracts[i].Date.Before(contracts[j].Date)
		}
		return contracts[i].ID < contracts[j].ID
	})
	return contracts, nil
}

func (s *MemoryStore) DeleteContract(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contracts[id]; !ok {
		return fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	delete(s.contracts, id)

	kept := s.deliveries[:0]
	for _, d := range s.deliveries {
		if d.ContractID != id {
			kept = append(kept, d)
		}
	}
	s.deliveries = kept
	return nil
}

func (s *MemoryStore) ListContractDates(_ context.Context) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]time.Time)
	for _, c := range s.contracts {
		seen[dateKey(c.Date)] = c.Date.UTC()
	}

	dates := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// --- Ledger: delivery events ---

func (s *MemoryStore) CreateDeliveryEvent(_ context.Context, d *model.DeliveryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contracts[d.ContractID]; !ok {
		return fmt.Errorf("contract %s: %w", d.ContractID, ErrNotFound)
	}
	s.deliveries = append(s.deliveries, *d)
	return nil
}

func (s *MemoryStore) ListDeliveryEvents(_ context.Context, contractID string) ([]model.DeliveryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.DeliveryEvent
	for _, d := range s.deliveries {
		if d.ContractID == contractID {
			result = append(result, d)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListAllDeliveryEvents(_ context.Context) (map[string][]model.DeliveryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string][]model.DeliveryEvent)
	for _, d := range s.deliveries {
		result[d.ContractID] = append(result[d.ContractID], d)
	}
	return result, nil
}

// --- Derived: stock snapshots ---

func (s *MemoryStore) ReplaceStockSnapshots(_ context.Context, items, parties []model.StockSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stockItems = append([]model.StockSnapshot(nil), items...)
	s.stockParties = append([]model.StockSnapshot(nil), parties...)
	return nil
}

func (s *MemoryStore) GetStockSnapshots(_ context.Context, itemID string) ([]model.StockSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if itemID == "" {
		return append([]model.StockSnapshot(nil), s.stockItems...), nil
	}
	var result []model.StockSnapshot
	for _, snap := range s.stockItems {
		if snap.ItemID == itemID {
			result = append(result, snap)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetStockPartyBreakdown(_ context.Context) ([]model.StockSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.StockSnapshot(nil), s.stockParties...), nil
}

// --- Derived: P&L records ---

func (s *MemoryStore) ReplaceSettledPnl(_ context.Context, date time.Time, records []model.PnlRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settledPnl[dateKey(date)] = append([]model.PnlRecord(nil), records...)
	return nil
}

func (s *MemoryStore) ReplaceFuturePnl(_ context.Context, records []model.PnlRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.futurePnl = append([]model.PnlRecord(nil), records...)
	return nil
}

func (s *MemoryStore) ReplaceAllPnl(_ context.Context, settled, future []model.PnlRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byDate, err := groupSettledByDate(settled)
	if err != nil {
		return err
	}

	s.settledPnl = byDate
	s.futurePnl = append([]model.PnlRecord(nil), future...)
	return nil
}

// ReplaceAllDerived swaps all four derived sets under one hold of the write
// lock. Validation happens before the first mutation, so an error leaves
// every previous set in place.
func (s *MemoryStore) ReplaceAllDerived(_ context.Context, items, parties []model.StockSnapshot, settled, future []model.PnlRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byDate, err := groupSettledByDate(settled)
	if err != nil {
		return err
	}

	s.stockItems = append([]model.StockSnapshot(nil), items...)
	s.stockParties = append([]model.StockSnapshot(nil), parties...)
	s.settledPnl = byDate
	s.futurePnl = append([]model.PnlRecord(nil), future...)
	return nil
}

func groupSettledByDate(settled []model.PnlRecord) (map[string][]model.PnlRecord, error) {
	byDate := make(map[string][]model.PnlRecord)
	for _, r := range settled {
		if r.Date == nil {
			return nil, fmt.Errorf("settled record for item %s has no date", r.ItemID)
		}
		key := dateKey(*r.Date)
		byDate[key] = append(byDate[key], r)
	}
	return byDate, nil
}

func (s *MemoryStore) GetSettledPnl(_ context.Context, date time.Time) ([]model.PnlRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.PnlRecord(nil), s.settledPnl[dateKey(date)]...), nil
}

func (s *MemoryStore) GetFuturePnl(_ context.Context) ([]model.PnlRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.PnlRecord(nil), s.futurePnl...), nil
}
