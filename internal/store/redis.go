package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saudabook/recon-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over the derived tables: the reporting reads are hot, the ledger
// reads are not. Derived-table replacement invalidates the affected keys;
// ledger operations pass straight through.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Ledger passthrough ---

func (s *CachedStore) CreateContract(ctx context.Context, c *model.Contract) error {
	return s.primary.CreateContract(ctx, c)
}

func (s *CachedStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	return s.primary.GetContract(ctx, id)
}

func (s *CachedStore) ListContracts(ctx context.Context, filter ContractFilter) ([]model.Contract, error) {
	return s.primary.ListContracts(ctx, filter)
}

func (s *CachedStore) DeleteContract(ctx context.Context, id string) error {
	return s.primary.DeleteContract(ctx, id)
}

func (s *CachedStore) ListContractDates(ctx context.Context) ([]time.Time, error) {
	return s.primary.ListContractDates(ctx)
}

func (s *CachedStore) CreateDeliveryEvent(ctx context.Context, d *model.DeliveryEvent) error {
	return s.primary.CreateDeliveryEvent(ctx, d)
}

func (s *CachedStore) ListDeliveryEvents(ctx context.Context, contractID string) ([]model.DeliveryEvent, error) {
	return s.primary.ListDeliveryEvents(ctx, contractID)
}

func (s *CachedStore) ListAllDeliveryEvents(ctx context.Context) (map[string][]model.DeliveryEvent, error) {
	return s.primary.ListAllDeliveryEvents(ctx)
}

// --- Derived: write to primary, invalidate cache ---

func (s *CachedStore) ReplaceStockSnapshots(ctx context.Context, items, parties []model.StockSnapshot) error {
	if err := s.primary.ReplaceStockSnapshots(ctx, items, parties); err != nil {
		return err
	}
	s.invalidateStock(ctx)
	return nil
}

func (s *CachedStore) ReplaceSettledPnl(ctx context.Context, date time.Time, records []model.PnlRecord) error {
	if err := s.primary.ReplaceSettledPnl(ctx, date, records); err != nil {
		return err
	}
	s.rdb.Del(ctx, settledPnlKey(date))
	return nil
}

func (s *CachedStore) ReplaceFuturePnl(ctx context.Context, records []model.PnlRecord) error {
	if err := s.primary.ReplaceFuturePnl(ctx, records); err != nil {
		return err
	}
	s.rdb.Del(ctx, futurePnlKey)
	return nil
}

func (s *CachedStore) ReplaceAllPnl(ctx context.Context, settled, future []model.PnlRecord) error {
	if err := s.primary.ReplaceAllPnl(ctx, settled, future); err != nil {
		return err
	}
	s.rdb.Del(ctx, pnlKeys(settled)...)
	return nil
}

func (s *CachedStore) ReplaceAllDerived(ctx context.Context, items, parties []model.StockSnapshot, settled, future []model.PnlRecord) error {
	if err := s.primary.ReplaceAllDerived(ctx, items, parties, settled, future); err != nil {
		return err
	}
	s.invalidateStock(ctx)
	s.rdb.Del(ctx, pnlKeys(settled)...)
	return nil
}

func pnlKeys(settled []model.PnlRecord) []string {
	keys := []string{futurePnlKey}
	seen := make(map[string]bool)
	for _, r := range settled {
		if r.Date == nil {
			continue
		}
		key := settledPnlKey(*r.Date)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

// invalidateStock drops every cached stock key. Per-item keys are tracked in
// a set so that an item absent from the new snapshot set (its last contract
// deleted) loses its cached row too instead of serving it until the TTL
// expires.
func (s *CachedStore) invalidateStock(ctx context.Context) {
	keys := []string{stockItemsKey, stockPartiesKey, stockItemSetKey}
	if cached, err := s.rdb.SMembers(ctx, stockItemSetKey).Result(); err == nil {
		keys = append(keys, cached...)
	}
	s.rdb.Del(ctx, keys...)
}

// --- Derived: read-through ---

func (s *CachedStore) GetStockSnapshots(ctx context.Context, itemID string) ([]model.StockSnapshot, error) {
	key := stockItemsKey
	if itemID != "" {
		key = stockItemKey(itemID)
	}

	var cached []model.StockSnapshot
	if s.getCached(ctx, key, &cached) {
		return cached, nil
	}

	snapshots, err := s.primary.GetStockSnapshots(ctx, itemID)
	if err != nil {
		return nil, err
	}
	s.setCached(ctx, key, snapshots)
	if itemID != "" {
		s.rdb.SAdd(ctx, stockItemSetKey, key)
	}
	return snapshots, nil
}

func (s *CachedStore) GetStockPartyBreakdown(ctx context.Context) ([]model.StockSnapshot, error) {
	var cached []model.StockSnapshot
	if s.getCached(ctx, stockPartiesKey, &cached) {
		return cached, nil
	}

	snapshots, err := s.primary.GetStockPartyBreakdown(ctx)
	if err != nil {
		return nil, err
	}
	s.setCached(ctx, stockPartiesKey, snapshots)
	return snapshots, nil
}

func (s *CachedStore) GetSettledPnl(ctx context.Context, date time.Time) ([]model.PnlRecord, error) {
	key := settledPnlKey(date)

	var cached []model.PnlRecord
	if s.getCached(ctx, key, &cached) {
		return cached, nil
	}

	records, err := s.primary.GetSettledPnl(ctx, date)
	if err != nil {
		return nil, err
	}
	// An absent date triggers generation upstream; caching the empty
	// result would mask the regenerated rows until the TTL expired.
	if len(records) > 0 {
		s.setCached(ctx, key, records)
	}
	return records, nil
}

func (s *CachedStore) GetFuturePnl(ctx context.Context) ([]model.PnlRecord, error) {
	var cached []model.PnlRecord
	if s.getCached(ctx, futurePnlKey, &cached) {
		return cached, nil
	}

	records, err := s.primary.GetFuturePnl(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		s.setCached(ctx, futurePnlKey, records)
	}
	return records, nil
}

// --- Cache helpers ---

func (s *CachedStore) getCached(ctx context.Context, key string, dest interface{}) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

func (s *CachedStore) setCached(ctx context.Context, key string, value interface{}) {
	if data, err := json.Marshal(value); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const (
	stockItemsKey   = "stock:items"
	stockPartiesKey = "stock:parties"
	stockItemSetKey = "stock:item:keys"
	futurePnlKey    = "pnl:future"
)

func stockItemKey(itemID string) string { return fmt.Sprintf("stock:item:%s", itemID) }

func settledPnlKey(date time.Time) string {
	return fmt.Sprintf("pnl:settled:%s", date.UTC().Format("2006-01-02"))
}
