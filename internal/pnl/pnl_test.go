package pnl

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/saudabook/recon-engine/internal/contract"
	"github.com/saudabook/recon-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func mkContract(id, itemID string, dir model.Direction, packs, rate float64, date string) model.Contract {
	day, _ := time.Parse("2006-01-02", date)
	return model.Contract{
		ID:            id,
		Direction:     dir,
		Date:          day,
		PartyID:       "p1",
		ItemID:        itemID,
		QuantityPacks: d(packs),
		RatePer10Kg:   d(rate),
		TotalValue:    contract.TotalValue(d(packs), d(rate)),
	}
}

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func TestSettled_UnitAsymmetry(t *testing.T) {
	contracts := []model.Contract{
		mkContract("c1", "soy", model.DirectionPurchase, 10, 100, "2026-03-01"),
		mkContract("c2", "soy", model.DirectionSell, 5, 120, "2026-03-02"),
	}

	records := Settled(contracts, day("2026-03-31"), time.Now())
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]

	// Buy side counts packs, sell side counts kilograms.
	if !rec.BuyQuantityPacks.Equal(d(10)) {
		t.Errorf("expected buy quantity 10 packs, got %s", rec.BuyQuantityPacks)
	}
	if !rec.SellQuantityKg.Equal(d(5000)) {
		t.Errorf("expected sell quantity 5000 kg, got %s", rec.SellQuantityKg)
	}
	if !rec.AvgBuyRate.Equal(d(100)) {
		t.Errorf("expected avg buy rate 100, got %s", rec.AvgBuyRate)
	}
	if !rec.AvgSellRate.Equal(d(120)) {
		t.Errorf("expected avg sell rate 120, got %s", rec.AvgSellRate)
	}
	// profit = (120 − 100) × 5000 kg = 100000.
	if !rec.Profit.Equal(d(100000)) {
		t.Errorf("expected profit 100000, got %s", rec.Profit)
	}
	if rec.Date == nil || !rec.Date.Equal(day("2026-03-31")) {
		t.Errorf("expected record dated 2026-03-31, got %v", rec.Date)
	}
}

func TestSettled_DateCutoff(t *testing.T) {
	contracts := []model.Contract{
		mkContract("c1", "soy", model.DirectionPurchase, 10, 100, "2026-03-01"),
		mkContract("c2", "soy", model.DirectionPurchase, 99, 900, "2026-04-15"), // after cutoff
	}

	records := Settled(contracts, day("2026-03-31"), time.Now())
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if !records[0].BuyQuantityPacks.Equal(d(10)) {
		t.Errorf("contract dated after cutoff must be excluded, got buy quantity %s", records[0].BuyQuantityPacks)
	}
}

func TestSettled_IgnoresDeliveryStatus(t *testing.T) {
	// Settled mode covers the full contracted quantity whether or not
	// anything was delivered; deliveries are not even an input.
	contracts := []model.Contract{
		mkContract("c1", "soy", model.DirectionSell, 8, 200, "2026-03-01"),
	}

	records := Settled(contracts, day("2026-03-31"), time.Now())
	if !records[0].SellQuantityKg.Equal(d(8000)) {
		t.Errorf("expected full 8000 kg, got %s", records[0].SellQuantityKg)
	}
	if !records[0].SellTotalValue.Equal(d(160000)) {
		t.Errorf("expected sell total 160000, got %s", records[0].SellTotalValue)
	}
}

func TestFuture_UndeliveredMatchesSettled(t *testing.T) {
	// With nothing delivered, Future over the open contracts aggregates the
	// same quantities and rates as Settled over the same contracts.
	contracts := []model.Contract{
		mkContract("c1", "soy", model.DirectionPurchase, 10, 100, "2026-03-01"),
		mkContract("c2", "soy", model.DirectionSell, 5, 120, "2026-03-02"),
	}
	now := time.Now()

	settled := Settled(contracts, day("2026-03-31"), now)
	future, violations := Future(contracts, nil, nil, now)
	if len(violations) != 0 {
		t.Fatalf("unexpected violations: %+v", violations)
	}
	if len(future) != 1 || len(settled) != 1 {
		t.Fatalf("expected 1 record each, got %d settled, %d future", len(settled), len(future))
	}

	s, f := settled[0], future[0]
	if !f.BuyQuantityPacks.Equal(s.BuyQuantityPacks) || !f.SellQuantityKg.Equal(s.SellQuantityKg) {
		t.Errorf("quantities differ: future (%s, %s) vs settled (%s, %s)",
			f.BuyQuantityPacks, f.SellQuantityKg, s.BuyQuantityPacks, s.SellQuantityKg)
	}
	if !f.Profit.Equal(s.Profit) {
		t.Errorf("profit differs: future %s vs settled %s", f.Profit, s.Profit)
	}
	if f.Date != nil {
		t.Errorf("future records carry no date, got %v", f.Date)
	}
}

func TestFuture_OnlyPendingPortion(t *testing.T) {
	contracts := []model.Contract{
		mkContract("c1", "soy", model.DirectionPurchase, 100, 500, "2026-03-01"),
	}
	deliveries := map[string][]model.DeliveryEvent{
		"c1": {{ContractID: "c1", WeightKg: d(40000)}},
	}

	records, _ := Future(contracts, deliveries, nil, time.Now())
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	// 60 packs remain pending, valued at the locked-in rate 500.
	if !records[0].BuyQuantityPacks.Equal(d(60)) {
		t.Errorf("expected pending buy quantity 60, got %s", records[0].BuyQuantityPacks)
	}
	// 60 packs = 60,000 kg = 6,000 rate units × 500 = 3,000,000.
	if !records[0].BuyTotalValue.Equal(d(3000000)) {
		t.Errorf("expected pending buy value 3000000, got %s", records[0].BuyTotalValue)
	}
}

func TestFuture_FullyDeliveredContributesNothing(t *testing.T) {
	contracts := []model.Contract{
		mkContract("c1", "soy", model.DirectionPurchase, 50, 500, "2026-03-01"),
	}
	deliveries := map[string][]model.DeliveryEvent{
		"c1": {{ContractID: "c1", WeightKg: d(50000)}},
	}

	records, violations := Future(contracts, deliveries, nil, time.Now())
	if len(records) != 0 {
		t.Errorf("fully-delivered contract should contribute no record, got %d", len(records))
	}
	if len(violations) != 0 {
		t.Errorf("unexpected violations: %+v", violations)
	}
}

func TestFuture_OverDeliveryReported(t *testing.T) {
	contracts := []model.Contract{
		mkContract("c1", "soy", model.DirectionPurchase, 50, 500, "2026-03-01"),
	}
	deliveries := map[string][]model.DeliveryEvent{
		"c1": {{ContractID: "c1", WeightKg: d(60000)}},
	}

	records, violations := Future(contracts, deliveries, nil, time.Now())
	if len(records) != 0 {
		t.Errorf("clamped pending is zero, expected no record, got %d", len(records))
	}
	if len(violations) != 1 || violations[0].ContractID != "c1" {
		t.Fatalf("expected 1 violation on c1, got %+v", violations)
	}
}

func TestFuture_RateBackfillForEmptySide(t *testing.T) {
	// Only a sell contract is open: the buy side has zero quantity, so its
	// displayed average falls back to the supplied market rate. Profit was
	// fixed before the backfill and must not change with it.
	contracts := []model.Contract{
		mkContract("c1", "soy", model.DirectionSell, 5, 120, "2026-03-01"),
	}
	rates := RateLookup{"soy": d(110)}

	records, _ := Future(contracts, nil, rates, time.Now())
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if !rec.AvgBuyRate.Equal(d(110)) {
		t.Errorf("expected backfilled avg buy rate 110, got %s", rec.AvgBuyRate)
	}
	// profit = (120 − 0) × 5000, computed before the backfill.
	if !rec.Profit.Equal(d(600000)) {
		t.Errorf("expected profit 600000 unaffected by backfill, got %s", rec.Profit)
	}
}

func TestFuture_NoBackfillWhenSideHasQuantity(t *testing.T) {
	contracts := []model.Contract{
		mkContract("c1", "soy", model.DirectionPurchase, 10, 100, "2026-03-01"),
	}
	rates := RateLookup{"soy": d(999)}

	records, _ := Future(contracts, nil, rates, time.Now())
	if !records[0].AvgBuyRate.Equal(d(100)) {
		t.Errorf("contract-derived rate must win over market rate, got %s", records[0].AvgBuyRate)
	}
}

func TestSettled_MultipleItemsSorted(t *testing.T) {
	contracts := []model.Contract{
		mkContract("c1", "wheat", model.DirectionPurchase, 10, 100, "2026-03-01"),
		mkContract("c2", "corn", model.DirectionPurchase, 10, 100, "2026-03-01"),
	}

	records := Settled(contracts, day("2026-03-31"), time.Now())
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ItemID != "corn" || records[1].ItemID != "wheat" {
		t.Errorf("expected records sorted by item, got %s, %s", records[0].ItemID, records[1].ItemID)
	}
}

func TestSettled_WeightedAverages(t *testing.T) {
	contracts := []model.Contract{
		mkContract("c1", "soy", model.DirectionPurchase, 10, 100, "2026-03-01"),
		mkContract("c2", "soy", model.DirectionPurchase, 20, 200, "2026-03-02"),
	}

	records := Settled(contracts, day("2026-03-31"), time.Now())
	// (10×100 + 20×200) / 30 = 166.67.
	if !records[0].AvgBuyRate.Round(2).Equal(d(166.67)) {
		t.Errorf("expected avg buy rate 166.67, got %s", records[0].AvgBuyRate.Round(2))
	}
}
