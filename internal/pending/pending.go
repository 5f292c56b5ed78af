// Package pending computes how much of a contract remains undelivered and
// enforces the over-delivery guard.
//
// It is a pure function of its inputs: a contract plus its delivery events
// in, loaded/pending pack quantities out. Write-time callers reject a
// delivery that would violate the guard; rebuild scans collect violations
// and keep going.
package pending

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/saudabook/recon-engine/internal/model"
)

// OverDeliveryError signals that a contract's recorded deliveries exceed
// its agreed quantity. This is a ledger integrity error, not an ordinary
// absence of data.
type OverDeliveryError struct {
	ContractID    string
	QuantityPacks decimal.Decimal
	LoadedPacks   decimal.Decimal
}

func (e *OverDeliveryError) Error() string {
	return fmt.Sprintf("pending: contract %s over-delivered: loaded %s packs against quantity %s",
		e.ContractID, e.LoadedPacks, e.QuantityPacks)
}

// ExcessPacks returns how far past the contract quantity the deliveries go.
func (e *OverDeliveryError) ExcessPacks() decimal.Decimal {
	return e.LoadedPacks.Sub(e.QuantityPacks)
}

// Result holds the outcome of a pending-quantity computation.
// PendingPacks is clamped at zero; a violation is reported separately
// rather than surfacing as a negative value.
type Result struct {
	ContractID   string
	LoadedPacks  decimal.Decimal
	PendingPacks decimal.Decimal
}

// Compute sums the contract's deliveries and derives loaded and pending
// pack quantities:
//
//	loaded_packs  = Σ weightKg / 1000
//	pending_packs = quantity − loaded_packs   (clamped at 0)
//
// Deliveries belonging to other contracts are ignored, so callers may pass
// an unfiltered batch. If loaded exceeds the contract quantity, the
// best-effort Result (pending = 0) is returned together with an
// *OverDeliveryError; the caller decides whether that rejects a write or
// merely lands in a rebuild's violation report.
func Compute(c model.Contract, deliveries []model.DeliveryEvent) (Result, error) {
	var loadedKg decimal.Decimal
	for _, d := range deliveries {
		if d.ContractID != c.ID {
			continue
		}
		loadedKg = loadedKg.Add(d.WeightKg)
	}

	loadedPacks := loadedKg.Div(model.KgPerPack)
	pendingPacks := c.QuantityPacks.Sub(loadedPacks)

	res := Result{
		ContractID:   c.ID,
		LoadedPacks:  loadedPacks,
		PendingPacks: pendingPacks,
	}

	if pendingPacks.IsNegative() {
		res.PendingPacks = decimal.Zero
		return res, &OverDeliveryError{
			ContractID:    c.ID,
			QuantityPacks: c.QuantityPacks,
			LoadedPacks:   loadedPacks,
		}
	}
	return res, nil
}

// CheckDelivery validates a prospective delivery of weightKg kilograms
// against the contract and its existing deliveries. It returns an
// *OverDeliveryError if accepting the delivery would push the loaded total
// past the contract quantity. The existing ledger is not consulted beyond
// the deliveries passed in.
func CheckDelivery(c model.Contract, existing []model.DeliveryEvent, weightKg decimal.Decimal) error {
	var loadedKg decimal.Decimal
	for _, d := range existing {
		if d.ContractID != c.ID {
			continue
		}
		loadedKg = loadedKg.Add(d.WeightKg)
	}

	newLoadedPacks := loadedKg.Add(weightKg).Div(model.KgPerPack)
	if newLoadedPacks.GreaterThan(c.QuantityPacks) {
		return &OverDeliveryError{
			ContractID:    c.ID,
			QuantityPacks: c.QuantityPacks,
			LoadedPacks:   newLoadedPacks,
		}
	}
	return nil
}

// Violation converts an over-delivery error into a report row for the
// given contract.
func (e *OverDeliveryError) Violation(c model.Contract) model.Violation {
	return model.Violation{
		ContractID:    c.ID,
		ItemID:        c.ItemID,
		QuantityPacks: e.QuantityPacks,
		LoadedPacks:   e.LoadedPacks,
		ExcessPacks:   e.ExcessPacks(),
		Detail:        e.Error(),
	}
}
