package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saudabook/recon-engine/internal/model"
)

// fakeRedis implements the handful of commands CachedStore uses over plain
// maps. Unused Cmdable methods panic via the embedded nil interface.
type fakeRedis struct {
	redis.Cmdable
	mu   sync.Mutex
	data map[string][]byte
	sets map[string]map[string]struct{}
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		data: make(map[string][]byte),
		sets: make(map[string]map[string]struct{}),
	}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmd := redis.NewStringCmd(ctx, "get", key)
	if v, ok := f.data[key]; ok {
		cmd.SetVal(string(v))
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch v := value.(type) {
	case []byte:
		f.data[key] = v
	case string:
		f.data[key] = []byte(v)
	default:
		f.data[key] = []byte(fmt.Sprint(v))
	}
	cmd := redis.NewStatusCmd(ctx, "set", key)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	var removed int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			removed++
		}
		if _, ok := f.sets[key]; ok {
			delete(f.sets, key)
			removed++
		}
	}
	cmd := redis.NewIntCmd(ctx, "del")
	cmd.SetVal(removed)
	return cmd
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	set, ok := f.sets[key]
	if !ok {
		set = make(map[string]struct{})
		f.sets[key] = set
	}
	var added int64
	for _, m := range members {
		member := fmt.Sprint(m)
		if _, ok := set[member]; !ok {
			set[member] = struct{}{}
			added++
		}
	}
	cmd := redis.NewIntCmd(ctx, "sadd", key)
	cmd.SetVal(added)
	return cmd
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	members := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		members = append(members, m)
	}
	cmd := redis.NewStringSliceCmd(ctx, "smembers", key)
	cmd.SetVal(members)
	return cmd
}

func snapshotFor(itemID string) model.StockSnapshot {
	return model.StockSnapshot{ItemID: itemID, TotalPurchasePacks: d(10)}
}

func TestCachedStore_ReadThrough(t *testing.T) {
	mem := NewMemoryStore()
	rdb := newFakeRedis()
	cs := NewCachedStore(mem, rdb, time.Minute)
	ctx := context.Background()

	if err := cs.ReplaceStockSnapshots(ctx, []model.StockSnapshot{snapshotFor("soy")}, nil); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := cs.GetStockSnapshots(ctx, "soy")
	if err != nil || len(got) != 1 {
		t.Fatalf("expected 1 row, got %d (err %v)", len(got), err)
	}

	// Mutate the primary behind the cache's back: the cached row must be
	// served until invalidation, proving reads go through the cache.
	if err := mem.ReplaceStockSnapshots(ctx, nil, nil); err != nil {
		t.Fatalf("primary replace: %v", err)
	}
	got, _ = cs.GetStockSnapshots(ctx, "soy")
	if len(got) != 1 {
		t.Errorf("expected the cached row to be served, got %d rows", len(got))
	}
}

func TestCachedStore_InvalidatesRemovedItemKeys(t *testing.T) {
	mem := NewMemoryStore()
	rdb := newFakeRedis()
	cs := NewCachedStore(mem, rdb, time.Minute)
	ctx := context.Background()

	if err := cs.ReplaceStockSnapshots(ctx, []model.StockSnapshot{snapshotFor("soy")}, nil); err != nil {
		t.Fatalf("replace: %v", err)
	}
	// Prime the per-item cache entry.
	if _, err := cs.GetStockSnapshots(ctx, "soy"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	// New snapshot set without soy (its last contract was deleted). The
	// cached soy row must be dropped even though soy is absent from the
	// new set.
	if err := cs.ReplaceStockSnapshots(ctx, []model.StockSnapshot{snapshotFor("wheat")}, nil); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	got, err := cs.GetStockSnapshots(ctx, "soy")
	if err != nil {
		t.Fatalf("get after replace: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("stale cached row served for a removed item: %+v", got)
	}
}

func TestCachedStore_ReplaceAllDerivedInvalidates(t *testing.T) {
	mem := NewMemoryStore()
	rdb := newFakeRedis()
	cs := NewCachedStore(mem, rdb, time.Minute)
	ctx := context.Background()

	d1 := day("2026-03-01")
	seed := func(itemID string) {
		t.Helper()
		err := cs.ReplaceAllDerived(ctx,
			[]model.StockSnapshot{snapshotFor(itemID)},
			nil,
			[]model.PnlRecord{{ItemID: itemID, Date: &d1}},
			[]model.PnlRecord{{ItemID: itemID}},
		)
		if err != nil {
			t.Fatalf("replace all derived: %v", err)
		}
	}

	seed("soy")
	// Prime every cached read.
	if _, err := cs.GetStockSnapshots(ctx, "soy"); err != nil {
		t.Fatalf("prime item cache: %v", err)
	}
	if _, err := cs.GetSettledPnl(ctx, d1); err != nil {
		t.Fatalf("prime settled cache: %v", err)
	}
	if _, err := cs.GetFuturePnl(ctx); err != nil {
		t.Fatalf("prime future cache: %v", err)
	}

	seed("wheat")

	if got, _ := cs.GetStockSnapshots(ctx, "soy"); len(got) != 0 {
		t.Errorf("stale stock row after full swap: %+v", got)
	}
	if got, _ := cs.GetFuturePnl(ctx); len(got) != 1 || got[0].ItemID != "wheat" {
		t.Errorf("stale future pnl after full swap: %+v", got)
	}
}
