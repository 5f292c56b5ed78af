// Package pnl computes profit-and-loss records per item in two modes:
//
//   - Settled(date): over all contracts dated on/through the date,
//     regardless of delivery status.
//   - Future(): over only the pending (undelivered) portion of open
//     contracts, at each contract's own locked-in rate.
//
// UNIT ASYMMETRY: the single most likely source of error when touching
// this package. Rates are value per 10 kg on both sides, but:
//
//	buy quantity  is tracked in PACKS      (1 pack = 1000 kg)
//	sell quantity is tracked in KILOGRAMS
//	profit = (avgSellRate − avgBuyRate) × sellQuantityKg
//
// This is a long-standing business convention carried for numerical
// compatibility with existing reports. Do not "fix" it; changing either
// side's unit silently changes every historical P&L figure.
package pnl

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/saudabook/recon-engine/internal/model"
	"github.com/saudabook/recon-engine/internal/pending"
	"github.com/saudabook/recon-engine/internal/wavg"
)

// RateLookup supplies the current market rate (value per 10 kg) per item.
// It is threaded in explicitly by the caller (there is no process-wide
// "current rate") and only backfills the displayed average for a side
// with zero pending quantity in Future mode. Profit never depends on it.
type RateLookup map[string]decimal.Decimal

type itemAgg struct {
	buyPairs  []wavg.Pair
	sellPairs []wavg.Pair
	buyValue  decimal.Decimal
	sellValue decimal.Decimal
	buyPacks  decimal.Decimal
	sellKg    decimal.Decimal
}

// Settled computes one record per item over every contract dated on or
// before asOf. The result is a pure function of the contracts passed in:
// recomputing for a past date yields identical records as long as no
// contract dated on/before that date was edited or deleted since.
func Settled(contracts []model.Contract, asOf time.Time, now time.Time) []model.PnlRecord {
	cutoff := asOf.UTC()
	items := make(map[string]*itemAgg)

	for _, c := range contracts {
		if c.Date.After(cutoff) {
			continue
		}
		agg := itemOf(items, c.ItemID)
		switch c.Direction {
		case model.DirectionPurchase:
			agg.buyPairs = append(agg.buyPairs, wavg.Pair{Quantity: c.QuantityPacks, Rate: c.RatePer10Kg})
			agg.buyValue = agg.buyValue.Add(c.TotalValue)
			agg.buyPacks = agg.buyPacks.Add(c.QuantityPacks)
		case model.DirectionSell:
			agg.sellPairs = append(agg.sellPairs, wavg.Pair{Quantity: c.QuantityPacks, Rate: c.RatePer10Kg})
			agg.sellValue = agg.sellValue.Add(c.TotalValue)
			agg.sellKg = agg.sellKg.Add(c.QuantityKg())
		}
	}

	date := cutoff
	return buildRecords(items, &date, nil, now)
}

// Future computes one record per item over the pending portion of each
// contract, valued at the contract's locked-in rate. Fully-delivered
// contracts contribute nothing; over-delivered contracts contribute their
// clamped (zero) pending and a violation. rates may be nil.
func Future(contracts []model.Contract, deliveries map[string][]model.DeliveryEvent, rates RateLookup, now time.Time) ([]model.PnlRecord, []model.Violation) {
	items := make(map[string]*itemAgg)
	var violations []model.Violation

	for _, c := range contracts {
		res, err := pending.Compute(c, deliveries[c.ID])
		var odErr *pending.OverDeliveryError
		if errors.As(err, &odErr) {
			violations = append(violations, odErr.Violation(c))
		}
		if res.PendingPacks.IsZero() {
			continue
		}

		pendingKg := res.PendingPacks.Mul(model.KgPerPack)
		pendingValue := pendingKg.Div(model.KgPerRateUnit).Mul(c.RatePer10Kg)

		agg := itemOf(items, c.ItemID)
		switch c.Direction {
		case model.DirectionPurchase:
			agg.buyPairs = append(agg.buyPairs, wavg.Pair{Quantity: res.PendingPacks, Rate: c.RatePer10Kg})
			agg.buyValue = agg.buyValue.Add(pendingValue)
			agg.buyPacks = agg.buyPacks.Add(res.PendingPacks)
		case model.DirectionSell:
			agg.sellPairs = append(agg.sellPairs, wavg.Pair{Quantity: res.PendingPacks, Rate: c.RatePer10Kg})
			agg.sellValue = agg.sellValue.Add(pendingValue)
			agg.sellKg = agg.sellKg.Add(pendingKg)
		}
	}

	records := buildRecords(items, nil, rates, now)
	sort.Slice(violations, func(i, j int) bool {
		return violations[i].ContractID < violations[j].ContractID
	})
	return records, violations
}

func itemOf(items map[string]*itemAgg, itemID string) *itemAgg {
	agg, ok := items[itemID]
	if !ok {
		agg = &itemAgg{}
		items[itemID] = agg
	}
	return agg
}

func buildRecords(items map[string]*itemAgg, date *time.Time, rates RateLookup, now time.Time) []model.PnlRecord {
	records := make([]model.PnlRecord, 0, len(items))
	for itemID, agg := range items {
		avgBuy := wavg.Weighted(agg.buyPairs)
		avgSell := wavg.Weighted(agg.sellPairs)

		// Profit is fixed before any market-rate backfill below.
		profit := avgSell.Sub(avgBuy).Mul(agg.sellKg)

		// A side with no quantity has no meaningful contract-derived rate;
		// show the caller-supplied current market rate instead when known.
		if rates != nil {
			if current, ok := rates[itemID]; ok {
				if agg.buyPacks.IsZero() {
					avgBuy = current
				}
				if agg.sellKg.IsZero() {
					avgSell = current
				}
			}
		}

		records = append(records, model.PnlRecord{
			ItemID:           itemID,
			Date:             date,
			BuyTotalValue:    agg.buyValue,
			SellTotalValue:   agg.sellValue,
			BuyQuantityPacks: agg.buyPacks,
			SellQuantityKg:   agg.sellKg,
			AvgBuyRate:       avgBuy,
			AvgSellRate:      avgSell,
			Profit:           profit,
			ComputedAt:       now.UTC(),
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ItemID < records[j].ItemID
	})
	return records
}
