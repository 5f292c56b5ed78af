// Package stock rolls contracts and deliveries up into derived stock
// snapshots: one row per item, and optionally one breakdown row per
// item×party. Snapshots are pure projections of the ledger; the party rows
// for an item always sum to its item-level row because both are computed
// from the same per-contract pending results.
package stock

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/saudabook/recon-engine/internal/model"
	"github.com/saudabook/recon-engine/internal/pending"
)

type groupKey struct {
	itemID  string
	partyID string
}

type accumulator struct {
	totalPurchase  decimal.Decimal
	totalSell      decimal.Decimal
	loadedPurchase decimal.Decimal
	loadedSell     decimal.Decimal
	pendPurchase   decimal.Decimal
	pendSell       decimal.Decimal
}

// AggregateItems produces one snapshot per item present in contracts.
// An over-delivered contract still contributes a best-effort row (its
// pending clamped at zero) and lands in the returned violation list;
// one bad contract never aborts the scan.
func AggregateItems(contracts []model.Contract, deliveries map[string][]model.DeliveryEvent, now time.Time) ([]model.StockSnapshot, []model.Violation) {
	return aggregate(contracts, deliveries, now, func(c model.Contract) groupKey {
		return groupKey{itemID: c.ItemID}
	})
}

// AggregateParties produces one snapshot per item×party pair. Rows for the
// same item sum exactly to the item-level row from AggregateItems over the
// same inputs.
func AggregateParties(contracts []model.Contract, deliveries map[string][]model.DeliveryEvent, now time.Time) ([]model.StockSnapshot, []model.Violation) {
	return aggregate(contracts, deliveries, now, func(c model.Contract) groupKey {
		return groupKey{itemID: c.ItemID, partyID: c.PartyID}
	})
}

func aggregate(contracts []model.Contract, deliveries map[string][]model.DeliveryEvent, now time.Time, keyOf func(model.Contract) groupKey) ([]model.StockSnapshot, []model.Violation) {
	groups := make(map[groupKey]*accumulator)
	var violations []model.Violation

	for _, c := range contracts {
		res, err := pending.Compute(c, deliveries[c.ID])
		var odErr *pending.OverDeliveryError
		if errors.As(err, &odErr) {
			// res still carries the best-effort (clamped) values.
			violations = append(violations, odErr.Violation(c))
		}

		key := keyOf(c)
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{}
			groups[key] = acc
		}

		switch c.Direction {
		case model.DirectionPurchase:
			acc.totalPurchase = acc.totalPurchase.Add(c.QuantityPacks)
			acc.loadedPurchase = acc.loadedPurchase.Add(res.LoadedPacks)
			acc.pendPurchase = acc.pendPurchase.Add(res.PendingPacks)
		case model.DirectionSell:
			acc.totalSell = acc.totalSell.Add(c.QuantityPacks)
			acc.loadedSell = acc.loadedSell.Add(res.LoadedPacks)
			acc.pendSell = acc.pendSell.Add(res.PendingPacks)
		}
	}

	snapshots := make([]model.StockSnapshot, 0, len(groups))
	for key, acc := range groups {
		snapshots = append(snapshots, model.StockSnapshot{
			ItemID:               key.itemID,
			PartyID:              key.partyID,
			TotalPurchasePacks:   acc.totalPurchase,
			TotalSellPacks:       acc.totalSell,
			LoadedPurchasePacks:  acc.loadedPurchase,
			LoadedSellPacks:      acc.loadedSell,
			PendingPurchasePacks: acc.pendPurchase,
			PendingSellPacks:     acc.pendSell,
			NetStockPacks:        acc.pendPurchase.Sub(acc.pendSell),
			ComputedAt:           now.UTC(),
		})
	}

	// Deterministic order so two rebuilds over the same ledger are identical.
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].ItemID != snapshots[j].ItemID {
			return snapshots[i].ItemID < snapshots[j].ItemID
		}
		return snapshots[i].PartyID < snapshots[j].PartyID
	})
	sortViolations(violations)

	return snapshots, violations
}

func sortViolations(violations []model.Violation) {
	sort.Slice(violations, func(i, j int) bool {
		return violations[i].ContractID < violations[j].ContractID
	})
}
