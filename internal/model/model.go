// Package model defines the core domain types shared across the
// reconciliation engine. All quantities, rates, and monetary values use
// shopspring/decimal, never float64 for money or weights.
//
// Units convention (fixed at the system boundary):
//   - contract quantities and every *Packs field are in packs, 1 pack = 1000 kg
//   - delivery weights and sell-side P&L quantities are in kilograms
//   - rates are value per 10 kg
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction tags a contract as a purchase or a sell.
type Direction string

const (
	DirectionPurchase Direction = "PURCHASE"
	DirectionSell     Direction = "SELL"
)

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == DirectionPurchase || d == DirectionSell
}

// KgPerPack converts pack-denominated quantities to kilograms.
var KgPerPack = decimal.NewFromInt(1000)

// KgPerRateUnit is the weight a rate applies to: rates are value per 10 kg.
var KgPerRateUnit = decimal.NewFromInt(10)

// Contract is a sauda: a purchase or sell agreement for a fixed quantity of
// an item at an agreed rate. Immutable once delivery begins, except
// administrative edit/delete. Never mutated by the reconciliation engine.
type Contract struct {
	ID             string          `json:"id" db:"id"`
	Direction      Direction       `json:"direction" db:"direction"`
	Date           time.Time       `json:"date" db:"date"`
	PartyID        string          `json:"party_id" db:"party_id"`
	ItemID         string          `json:"item_id" db:"item_id"`
	ExPlantID      string          `json:"ex_plant_id,omitempty" db:"ex_plant_id"`
	BrokerID       string          `json:"broker_id,omitempty" db:"broker_id"`
	QuantityPacks  decimal.Decimal `json:"quantity_packs" db:"quantity_packs"`
	RatePer10Kg    decimal.Decimal `json:"rate_per_10kg" db:"rate_per_10kg"`
	TotalValue     decimal.Decimal `json:"total_value" db:"total_value"` // quantity_kg / 10 * rate
	LoadingDueDate time.Time       `json:"loading_due_date" db:"loading_due_date"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// QuantityKg returns the contract quantity converted to kilograms.
func (c Contract) QuantityKg() decimal.Decimal {
	return c.QuantityPacks.Mul(KgPerPack)
}

// DeliveryEvent is a loading: a physical partial (or full) delivery against
// a contract. Weight is recorded in kilograms, not packs. Immutable once
// created except administrative edit/delete.
type DeliveryEvent struct {
	ID          string          `json:"id" db:"id"`
	ContractID  string          `json:"contract_id" db:"contract_id"`
	Date        time.Time       `json:"date" db:"date"`
	WeightKg    decimal.Decimal `json:"weight_kg" db:"weight_kg"`
	VehicleNo   string          `json:"vehicle_no,omitempty" db:"vehicle_no"`
	Transporter string          `json:"transporter,omitempty" db:"transporter"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// StockSnapshot is a derived roll-up of contracts + deliveries for one item,
// optionally sliced by party. Entirely recomputable; never hand-edited.
// PartyID is empty on item-level rows.
type StockSnapshot struct {
	ItemID               string          `json:"item_id" db:"item_id"`
	PartyID              string          `json:"party_id,omitempty" db:"party_id"`
	ExPlantID            string          `json:"ex_plant_id,omitempty" db:"ex_plant_id"`
	TotalPurchasePacks   decimal.Decimal `json:"total_purchase_packs" db:"total_purchase_packs"`
	TotalSellPacks       decimal.Decimal `json:"total_sell_packs" db:"total_sell_packs"`
	LoadedPurchasePacks  decimal.Decimal `json:"loaded_purchase_packs" db:"loaded_purchase_packs"`
	LoadedSellPacks      decimal.Decimal `json:"loaded_sell_packs" db:"loaded_sell_packs"`
	PendingPurchasePacks decimal.Decimal `json:"pending_purchase_packs" db:"pending_purchase_packs"`
	PendingSellPacks     decimal.Decimal `json:"pending_sell_packs" db:"pending_sell_packs"`
	NetStockPacks        decimal.Decimal `json:"net_stock_packs" db:"net_stock_packs"`
	ComputedAt           time.Time       `json:"computed_at" db:"computed_at"`
}

// PnlRecord is a derived profit-and-loss row for one item: settled rows are
// keyed by date and cover all contracts dated on/through that day; the
// future row has a nil Date and covers only the pending portion of open
// contracts.
//
// Unit asymmetry, preserved deliberately: BuyQuantityPacks is in packs,
// SellQuantityKg is in kilograms, and Profit multiplies the rate spread by
// the kilogram sell quantity. See package pnl.
type PnlRecord struct {
	ItemID           string          `json:"item_id" db:"item_id"`
	Date             *time.Time      `json:"date,omitempty" db:"date"` // nil = future row
	BuyTotalValue    decimal.Decimal `json:"buy_total_value" db:"buy_total_value"`
	SellTotalValue   decimal.Decimal `json:"sell_total_value" db:"sell_total_value"`
	BuyQuantityPacks decimal.Decimal `json:"buy_quantity_packs" db:"buy_quantity_packs"`
	SellQuantityKg   decimal.Decimal `json:"sell_quantity_kg" db:"sell_quantity_kg"`
	AvgBuyRate       decimal.Decimal `json:"avg_buy_rate" db:"avg_buy_rate"`
	AvgSellRate      decimal.Decimal `json:"avg_sell_rate" db:"avg_sell_rate"`
	Profit           decimal.Decimal `json:"profit" db:"profit"`
	ComputedAt       time.Time       `json:"computed_at" db:"computed_at"`
}

// Violation reports a ledger integrity problem found during a rebuild scan,
// typically a historical over-delivery introduced by a direct data edit.
// Violations are surfaced to the caller, never silently clamped away.
type Violation struct {
	ContractID    string          `json:"contract_id"`
	ItemID        string          `json:"item_id"`
	QuantityPacks decimal.Decimal `json:"quantity_packs"`
	LoadedPacks   decimal.Decimal `json:"loaded_packs"`
	ExcessPacks   decimal.Decimal `json:"excess_packs"`
	Detail        string          `json:"detail"`
}
