// Package store defines persistence for the reconciliation engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache over the derived tables), and in-memory (for testing).
//
// Contracts and delivery events are the ledger and are never derived.
// Stock snapshots and P&L records are pure projections: they are only ever
// replaced wholesale, atomically, so readers see either the fully-old or
// the fully-new set and never an intermediate state.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/saudabook/recon-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// ContractFilter narrows ListContracts. Zero-valued fields match anything.
type ContractFilter struct {
	Direction *model.Direction
	ItemID    string
	PartyID   string
	From      *time.Time // inclusive
	To        *time.Time // inclusive
}

// Store is the persistence interface.
type Store interface {
	// --- Ledger: contracts ---

	// CreateContract persists a new contract.
	CreateContract(ctx context.Context, c *model.Contract) error

	// GetContract retrieves a contract by ID.
	GetContract(ctx context.Context, id string) (*model.Contract, error)

	// ListContracts returns contracts matching the filter, ordered by date.
	ListContracts(ctx context.Context, filter ContractFilter) ([]model.Contract, error)

	// DeleteContract removes a contract and its delivery events
	// (administrative operation; derived data becomes stale until the
	// next rebuild).
	DeleteContract(ctx context.Context, id string) error

	// ListContractDates returns the distinct contract dates present in the
	// ledger, ascending.
	ListContractDates(ctx context.Context) ([]time.Time, error)

	// --- Ledger: delivery events ---

	// CreateDeliveryEvent appends a delivery event. The over-delivery
	// guard is enforced by the caller before this is invoked.
	CreateDeliveryEvent(ctx context.Context, d *model.DeliveryEvent) error

	// ListDeliveryEvents returns all deliveries for one contract, by date.
	ListDeliveryEvents(ctx context.Context, contractID string) ([]model.DeliveryEvent, error)

	// ListAllDeliveryEvents returns every delivery event grouped by
	// contract ID, for rebuild scans.
	ListAllDeliveryEvents(ctx context.Context) (map[string][]model.DeliveryEvent, error)

	// --- Derived: stock snapshots ---

	// ReplaceStockSnapshots atomically swaps both the item-level and the
	// party-breakdown snapshot sets.
	ReplaceStockSnapshots(ctx context.Context, items, parties []model.StockSnapshot) error

	// GetStockSnapshots returns item-level snapshots; itemID == "" means all.
	GetStockSnapshots(ctx context.Context, itemID string) ([]model.StockSnapshot, error)

	// GetStockPartyBreakdown returns all item×party snapshot rows.
	GetStockPartyBreakdown(ctx context.Context) ([]model.StockSnapshot, error)

	// --- Derived: P&L records ---

	// ReplaceSettledPnl atomically swaps the settled records for one date.
	ReplaceSettledPnl(ctx context.Context, date time.Time, records []model.PnlRecord) error

	// ReplaceFuturePnl atomically swaps the future records.
	ReplaceFuturePnl(ctx context.Context, records []model.PnlRecord) error

	// ReplaceAllPnl atomically swaps the entire P&L table: every settled
	// date plus the future rows, all-or-nothing.
	ReplaceAllPnl(ctx context.Context, settled, future []model.PnlRecord) error

	// GetSettledPnl returns the stored settled records for one date.
	GetSettledPnl(ctx context.Context, date time.Time) ([]model.PnlRecord, error)

	// GetFuturePnl returns the stored future records.
	GetFuturePnl(ctx context.Context) ([]model.PnlRecord, error)

	// --- Derived: full rebuild ---

	// ReplaceAllDerived atomically swaps every derived table in one step:
	// both stock snapshot sets plus the entire P&L table. A failure at any
	// point leaves all previous derived data in place.
	ReplaceAllDerived(ctx context.Context, items, parties []model.StockSnapshot, settled, future []model.PnlRecord) error
}
