// Package contract validates inbound contract and delivery payloads at the
// system boundary and derives the stored fields the engine depends on.
//
// Everything entering the core is a tagged, fully-validated value: direction
// is an explicit Purchase/Sell variant, required fields are checked here,
// and TotalValue is always derived server-side, never trusted from the
// client.
package contract

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/saudabook/recon-engine/internal/model"
)

var (
	ErrInvalidDirection = errors.New("contract: direction must be PURCHASE or SELL")
	ErrMissingParty     = errors.New("contract: party_id is required")
	ErrMissingItem      = errors.New("contract: item_id is required")
	ErrInvalidQuantity  = errors.New("contract: quantity_packs must be positive")
	ErrInvalidRate      = errors.New("contract: rate_per_10kg must be positive")
	ErrInvalidDate      = errors.New("contract: invalid date")
	ErrInvalidWeight    = errors.New("contract: weight_kg must be positive")
)

// DateFormat is the wire format for contract and reporting dates.
const DateFormat = "2006-01-02"

// NewRequest is the inbound payload for contract creation.
type NewRequest struct {
	Direction      model.Direction `json:"direction"`
	Date           string          `json:"date"` // YYYY-MM-DD
	PartyID        string          `json:"party_id"`
	ItemID         string          `json:"item_id"`
	ExPlantID      string          `json:"ex_plant_id,omitempty"`
	BrokerID       string          `json:"broker_id,omitempty"`
	QuantityPacks  decimal.Decimal `json:"quantity_packs"`
	RatePer10Kg    decimal.Decimal `json:"rate_per_10kg"`
	LoadingDueDate string          `json:"loading_due_date,omitempty"` // YYYY-MM-DD
}

// NewDeliveryRequest is the inbound payload for recording a loading.
type NewDeliveryRequest struct {
	Date        string          `json:"date"` // YYYY-MM-DD
	WeightKg    decimal.Decimal `json:"weight_kg"`
	VehicleNo   string          `json:"vehicle_no,omitempty"`
	Transporter string          `json:"transporter,omitempty"`
}

// TotalValue derives a contract's value from its quantity and rate:
//
//	total = quantity_kg / 10 * rate_per_10kg
func TotalValue(quantityPacks, ratePer10Kg decimal.Decimal) decimal.Decimal {
	quantityKg := quantityPacks.Mul(model.KgPerPack)
	return quantityKg.Div(model.KgPerRateUnit).Mul(ratePer10Kg)
}

// Validate turns a NewRequest into a persistable Contract, assigning a
// fresh identity and deriving TotalValue. now is the creation timestamp.
func Validate(req NewRequest, now time.Time) (*model.Contract, error) {
	if !req.Direction.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDirection, req.Direction)
	}
	if req.PartyID == "" {
		return nil, ErrMissingParty
	}
	if req.ItemID == "" {
		return nil, ErrMissingItem
	}
	if !req.QuantityPacks.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuantity, req.QuantityPacks)
	}
	if !req.RatePer10Kg.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRate, req.RatePer10Kg)
	}

	date, err := ParseDate(req.Date)
	if err != nil {
		return nil, err
	}

	loadingDue := date
	if req.LoadingDueDate != "" {
		loadingDue, err = ParseDate(req.LoadingDueDate)
		if err != nil {
			return nil, err
		}
	}

	return &model.Contract{
		ID:             uuid.New().String(),
		Direction:      req.Direction,
		Date:           date,
		PartyID:        req.PartyID,
		ItemID:         req.ItemID,
		ExPlantID:      req.ExPlantID,
		BrokerID:       req.BrokerID,
		QuantityPacks:  req.QuantityPacks,
		RatePer10Kg:    req.RatePer10Kg,
		TotalValue:     TotalValue(req.QuantityPacks, req.RatePer10Kg),
		LoadingDueDate: loadingDue,
		CreatedAt:      now.UTC(),
	}, nil
}

// ValidateDelivery turns a NewDeliveryRequest into a persistable
// DeliveryEvent for the given contract. The over-delivery guard is
// enforced separately by the caller against the contract's existing
// deliveries (package pending).
func ValidateDelivery(contractID string, req NewDeliveryRequest, now time.Time) (*model.DeliveryEvent, error) {
	if !req.WeightKg.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWeight, req.WeightKg)
	}

	date, err := ParseDate(req.Date)
	if err != nil {
		return nil, err
	}

	return &model.DeliveryEvent{
		ID:          uuid.New().String(),
		ContractID:  contractID,
		Date:        date,
		WeightKg:    req.WeightKg,
		VehicleNo:   req.VehicleNo,
		Transporter: req.Transporter,
		CreatedAt:   now.UTC(),
	}, nil
}

// ParseDate parses a YYYY-MM-DD wire date into a UTC-midnight time.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q (expected YYYY-MM-DD)", ErrInvalidDate, s)
	}
	return t.UTC(), nil
}
