package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/saudabook/recon-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func seedContract(t *testing.T, s *MemoryStore, id, itemID, partyID string, dir model.Direction, date string) {
	t.Helper()
	err := s.CreateContract(context.Background(), &model.Contract{
		ID:            id,
		Direction:     dir,
		Date:          day(date),
		PartyID:       partyID,
		ItemID:        itemID,
		QuantityPacks: d(10),
		RatePer10Kg:   d(500),
	})
	if err != nil {
		t.Fatalf("seed contract %s: %v", id, err)
	}
}

func TestMemoryStore_ContractRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedContract(t, s, "c1", "soy", "p1", model.DirectionPurchase, "2026-03-01")

	c, err := s.GetContract(ctx, "c1")
	if err != nil {
		t.Fatalf("get contract: %v", err)
	}
	if c.ItemID != "soy" {
		t.Errorf("expected item soy, got %s", c.ItemID)
	}

	if _, err := s.GetContract(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_DuplicateContract(t *testing.T) {
	s := NewMemoryStore()
	seedContract(t, s, "c1", "soy", "p1", model.DirectionPurchase, "2026-03-01")

	err := s.CreateContract(context.Background(), &model.Contract{ID: "c1"})
	if err == nil {
		t.Error("expected duplicate-id error")
	}
}

func TestMemoryStore_ListContractsFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedContract(t, s, "c1", "soy", "p1", model.DirectionPurchase, "2026-03-01")
	seedContract(t, s, "c2", "soy", "p2", model.DirectionSell, "2026-03-05")
	seedContract(t, s, "c3", "wheat", "p1", model.DirectionPurchase, "2026-03-10")

	sell := model.DirectionSell
	got, err := s.ListContracts(ctx, ContractFilter{Direction: &sell})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c2" {
		t.Errorf("direction filter: expected [c2], got %+v", got)
	}

	got, _ = s.ListContracts(ctx, ContractFilter{ItemID: "soy"})
	if len(got) != 2 {
		t.Errorf("item filter: expected 2 contracts, got %d", len(got))
	}

	from, to := day("2026-03-02"), day("2026-03-09")
	got, _ = s.ListContracts(ctx, ContractFilter{From: &from, To: &to})
	if len(got) != 1 || got[0].ID != "c2" {
		t.Errorf("date-range filter: expected [c2], got %+v", got)
	}

	// Sorted by date, then id.
	got, _ = s.ListContracts(ctx, ContractFilter{})
	if len(got) != 3 || got[0].ID != "c1" || got[2].ID != "c3" {
		t.Errorf("expected date-ordered [c1 c2 c3], got %+v", got)
	}
}

func TestMemoryStore_DeleteContractCascades(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedContract(t, s, "c1", "soy", "p1", model.DirectionPurchase, "2026-03-01")

	err := s.CreateDeliveryEvent(ctx, &model.DeliveryEvent{ID: "d1", ContractID: "c1", WeightKg: d(1000)})
	if err != nil {
		t.Fatalf("create delivery: %v", err)
	}

	if err := s.DeleteContract(ctx, "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	deliveries, _ := s.ListDeliveryEvents(ctx, "c1")
	if len(deliveries) != 0 {
		t.Errorf("expected deliveries removed with their contract, got %d", len(deliveries))
	}

	if err := s.DeleteContract(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemoryStore_DeliveryRequiresContract(t *testing.T) {
	s := NewMemoryStore()

	err := s.CreateDeliveryEvent(context.Background(), &model.DeliveryEvent{ID: "d1", ContractID: "ghost"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ReplaceAllPnl(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	d1, d2 := day("2026-03-01"), day("2026-03-02")
	settled := []model.PnlRecord{
		{ItemID: "soy", Date: &d1},
		{ItemID: "soy", Date: &d2},
		{ItemID: "wheat", Date: &d2},
	}
	future := []model.PnlRecord{{ItemID: "soy"}}

	if err := s.ReplaceAllPnl(ctx, settled, future); err != nil {
		t.Fatalf("replace all pnl: %v", err)
	}

	got, _ := s.GetSettledPnl(ctx, d2)
	if len(got) != 2 {
		t.Errorf("expected 2 records for 2026-03-02, got %d", len(got))
	}
	gotFuture, _ := s.GetFuturePnl(ctx)
	if len(gotFuture) != 1 {
		t.Errorf("expected 1 future record, got %d", len(gotFuture))
	}

	// A full swap drops dates absent from the new set.
	if err := s.ReplaceAllPnl(ctx, []model.PnlRecord{{ItemID: "soy", Date: &d1}}, nil); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	got, _ = s.GetSettledPnl(ctx, d2)
	if len(got) != 0 {
		t.Errorf("expected old date cleared by swap, got %d records", len(got))
	}
}

func TestMemoryStore_ReplaceAllDerived(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	d1 := day("2026-03-01")
	items := []model.StockSnapshot{{ItemID: "soy"}}
	parties := []model.StockSnapshot{{ItemID: "soy", PartyID: "p1"}}
	settled := []model.PnlRecord{{ItemID: "soy", Date: &d1}}
	future := []model.PnlRecord{{ItemID: "soy"}}

	if err := s.ReplaceAllDerived(ctx, items, parties, settled, future); err != nil {
		t.Fatalf("replace all derived: %v", err)
	}

	gotItems, _ := s.GetStockSnapshots(ctx, "")
	gotParties, _ := s.GetStockPartyBreakdown(ctx)
	gotSettled, _ := s.GetSettledPnl(ctx, d1)
	gotFuture, _ := s.GetFuturePnl(ctx)
	if len(gotItems) != 1 || len(gotParties) != 1 || len(gotSettled) != 1 || len(gotFuture) != 1 {
		t.Errorf("expected all four sets written, got %d/%d/%d/%d",
			len(gotItems), len(gotParties), len(gotSettled), len(gotFuture))
	}
}

func TestMemoryStore_ReplaceAllDerived_AllOrNothing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	d1 := day("2026-03-01")
	if err := s.ReplaceAllDerived(ctx,
		[]model.StockSnapshot{{ItemID: "soy"}},
		[]model.StockSnapshot{{ItemID: "soy", PartyID: "p1"}},
		[]model.PnlRecord{{ItemID: "soy", Date: &d1}},
		[]model.PnlRecord{{ItemID: "soy"}},
	); err != nil {
		t.Fatalf("seed derived: %v", err)
	}

	// An undated settled record makes the swap fail; every previous set
	// must survive, the stock ones included.
	err := s.ReplaceAllDerived(ctx,
		[]model.StockSnapshot{{ItemID: "wheat"}},
		nil,
		[]model.PnlRecord{{ItemID: "wheat"}},
		nil,
	)
	if err == nil {
		t.Fatal("expected error for settled record without a date")
	}

	gotItems, _ := s.GetStockSnapshots(ctx, "")
	if len(gotItems) != 1 || gotItems[0].ItemID != "soy" {
		t.Errorf("failed swap must leave stock untouched, got %+v", gotItems)
	}
	gotSettled, _ := s.GetSettledPnl(ctx, d1)
	if len(gotSettled) != 1 {
		t.Errorf("failed swap must leave settled pnl untouched, got %d records", len(gotSettled))
	}
	gotFuture, _ := s.GetFuturePnl(ctx)
	if len(gotFuture) != 1 {
		t.Errorf("failed swap must leave future pnl untouched, got %d records", len(gotFuture))
	}
}

func TestMemoryStore_ReplaceAllPnl_RejectsUndatedSettled(t *testing.T) {
	s := NewMemoryStore()

	err := s.ReplaceAllPnl(context.Background(), []model.PnlRecord{{ItemID: "soy"}}, nil)
	if err == nil {
		t.Error("expected error for settled record without a date")
	}
}

func TestMemoryStore_StockSnapshotSwap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	items := []model.StockSnapshot{{ItemID: "soy"}, {ItemID: "wheat"}}
	parties := []model.StockSnapshot{{ItemID: "soy", PartyID: "p1"}}
	if err := s.ReplaceStockSnapshots(ctx, items, parties); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, _ := s.GetStockSnapshots(ctx, "")
	if len(got) != 2 {
		t.Errorf("expected 2 item rows, got %d", len(got))
	}
	got, _ = s.GetStockSnapshots(ctx, "soy")
	if len(got) != 1 || got[0].ItemID != "soy" {
		t.Errorf("expected soy row, got %+v", got)
	}
	breakdown, _ := s.GetStockPartyBreakdown(ctx)
	if len(breakdown) != 1 {
		t.Errorf("expected 1 party row, got %d", len(breakdown))
	}

	// Swap replaces the whole set.
	if err := s.ReplaceStockSnapshots(ctx, nil, nil); err != nil {
		t.Fatalf("empty replace: %v", err)
	}
	got, _ = s.GetStockSnapshots(ctx, "")
	if len(got) != 0 {
		t.Errorf("expected snapshots cleared, got %d", len(got))
	}
}

func TestMemoryStore_ListContractDates(t *testing.T) {
	s := NewMemoryStore()
	seedContract(t, s, "c1", "soy", "p1", model.DirectionPurchase, "2026-03-05")
	seedContract(t, s, "c2", "soy", "p2", model.DirectionSell, "2026-03-01")
	seedContract(t, s, "c3", "wheat", "p1", model.DirectionPurchase, "2026-03-05")

	dates, err := s.ListContractDates(context.Background())
	if err != nil {
		t.Fatalf("list dates: %v", err)
	}
	if len(dates) != 2 {
		t.Fatalf("expected 2 distinct dates, got %d", len(dates))
	}
	if !dates[0].Before(dates[1]) {
		t.Errorf("expected ascending dates, got %v", dates)
	}
}
