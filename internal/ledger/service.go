// Package ledger provides the HTTP handlers and business logic for contract
// and delivery entry and for the reconciliation queries: stock snapshots,
// party breakdowns, and settled/future P&L.
//
// All quantities, rates, and values use shopspring/decimal, never float64
// for money or weights.
package ledger

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/saudabook/recon-engine/internal/contract"
	"github.com/saudabook/recon-engine/internal/metrics"
	"github.com/saudabook/recon-engine/internal/model"
	"github.com/saudabook/recon-engine/internal/pending"
	"github.com/saudabook/recon-engine/internal/pnl"
	"github.com/saudabook/recon-engine/internal/recalc"
	"github.com/saudabook/recon-engine/internal/store"
)

// Service handles ledger writes and reconciliation reads. Contract and
// delivery writes go through boundary validation and the over-delivery
// guard; after each accepted write the stock snapshots are rebuilt so
// reporting reads stay current.
type Service struct {
	store store.Store
	orch  *recalc.Orchestrator
	rates pnl.RateLookup
	wsHub *WSHub // optional WebSocket hub for change broadcasts
	mu    sync.Mutex
}

// NewService creates a new ledger service. rates supplies current market
// rates per item for future P&L display and may be nil, as may hub.
func NewService(st store.Store, orch *recalc.Orchestrator, rates pnl.RateLookup, hub *WSHub) *Service {
	return &Service{
		store: st,
		orch:  orch,
		rates: rates,
		wsHub: hub,
	}
}

// --- Response types ---

// PendingResponse is the JSON body for GET /contracts/{id}/pending.
type PendingResponse struct {
	ContractID   string           `json:"contract_id"`
	LoadedPacks  decimal.Decimal  `json:"loaded_packs"`
	PendingPacks decimal.Decimal  `json:"pending_packs"`
	Violation    *model.Violation `json:"violation,omitempty"`
}

// RecalcResponse is the JSON body returned by the recalculation endpoints.
// Violations is always present, possibly empty; a non-empty list indicates
// ledger inconsistency and should be displayed prominently.
type RecalcResponse struct {
	Violations   []model.Violation `json:"violations"`
	StockRows    int               `json:"stock_rows,omitempty"`
	PnlRows      int               `json:"pnl_rows,omitempty"`
	SettledDates int               `json:"settled_dates,omitempty"`
}

func recalcResponse(report *recalc.Report) RecalcResponse {
	violations := report.Violations
	if violations == nil {
		violations = []model.Violation{}
	}
	return RecalcResponse{
		Violations:   violations,
		StockRows:    report.StockRows,
		PnlRows:      report.PnlRows,
		SettledDates: report.SettledDates,
	}
}

// --- Contract handlers ---

// CreateContract handles POST /api/v1/contracts
func (s *Service) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req contract.NewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c, err := contract.Validate(req, time.Now())
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.store.CreateContract(ctx, c); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.ContractsCreatedTotal.WithLabelValues(string(c.Direction)).Inc()
	slog.Info("contract created",
		"id", c.ID,
		"direction", c.Direction,
		"item", c.ItemID,
		"party", c.PartyID,
		"quantity_packs", c.QuantityPacks.String(),
		"rate", c.RatePer10Kg.String(),
	)

	s.refreshStock(r)
	s.broadcast(WSMessage{Type: "contract_created", ContractID: c.ID, ItemID: c.ItemID})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(c)
}

// ListContracts handles GET /api/v1/contracts
// Optional query parameters: direction, item_id, party_id, from, to.
func (s *Service) ListContracts(w http.ResponseWriter, r *http.Request) {
	var filter store.ContractFilter

	q := r.URL.Query()
	if raw := q.Get("direction"); raw != "" {
		direction := model.Direction(raw)
		if !direction.Valid() {
			writeError(w, "direction must be PURCHASE or SELL", http.StatusBadRequest)
			return
		}
		filter.Direction = &direction
	}
	filter.ItemID = q.Get("item_id")
	filter.PartyID = q.Get("party_id")
	if raw := q.Get("from"); raw != "" {
		from, err := contract.ParseDate(raw)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.From = &from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := contract.ParseDate(raw)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.To = &to
	}

	contracts, err := s.store.ListContracts(r.Context(), filter)
	if err != nil {
		writeError(w, "failed to list contracts", http.StatusInternalServerError)
		return
	}
	if contracts == nil {
		contracts = []model.Contract{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(contracts)
}

// GetContract handles GET /api/v1/contracts/{contractID}
func (s *Service) GetContract(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractID")

	c, err := s.store.GetContract(r.Context(), contractID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

// DeleteContract handles DELETE /api/v1/contracts/{contractID}
// Administrative operation: settled P&L records covering the contract's
// date become stale and are repaired only by explicit regeneration.
func (s *Service) DeleteContract(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractID")

	if err := s.store.DeleteContract(r.Context(), contractID); err != nil {
		writeStoreError(w, err)
		return
	}

	slog.Info("contract deleted", "id", contractID)
	s.refreshStock(r)
	s.broadcast(WSMessage{Type: "contract_deleted", ContractID: contractID})

	w.WriteHeader(http.StatusNoContent)
}

// --- Delivery handlers ---

// CreateDelivery handles POST /api/v1/contracts/{contractID}/deliveries
// A delivery that would push the loaded total past the contract quantity
// is rejected and nothing is persisted.
func (s *Service) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractID")

	var req contract.NewDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Serialize delivery execution: the guard reads the contract's existing
	// deliveries and must not interleave with another guarded write, or
	// concurrent deliveries could each pass the check and together exceed
	// the contract quantity.
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := r.Context()
	c, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	d, err := contract.ValidateDelivery(contractID, req, time.Now())
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	existing, err := s.store.ListDeliveryEvents(ctx, contractID)
	if err != nil {
		writeError(w, "failed to load deliveries", http.StatusInternalServerError)
		return
	}

	if err := pending.CheckDelivery(*c, existing, d.WeightKg); err != nil {
		metrics.DeliveriesRejectedTotal.Inc()
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	if err := s.store.CreateDeliveryEvent(ctx, d); err != nil {
		writeError(w, "failed to record delivery", http.StatusInternalServerError)
		return
	}

	metrics.DeliveriesRecordedTotal.Inc()
	slog.Info("delivery recorded",
		"id", d.ID,
		"contract", contractID,
		"item", c.ItemID,
		"weight_kg", d.WeightKg.String(),
	)

	s.refreshStock(r)
	s.broadcast(WSMessage{Type: "delivery_recorded", ContractID: contractID, ItemID: c.ItemID})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(d)
}

// ListDeliveries handles GET /api/v1/contracts/{contractID}/deliveries
func (s *Service) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractID")

	deliveries, err := s.store.ListDeliveryEvents(r.Context(), contractID)
	if err != nil {
		writeError(w, "failed to load deliveries", http.StatusInternalServerError)
		return
	}
	if deliveries == nil {
		deliveries = []model.DeliveryEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(deliveries)
}

// GetPending handles GET /api/v1/contracts/{contractID}/pending
// An over-delivered contract still gets a 200 with its clamped pending
// value; the violation rides along in the response.
func (s *Service) GetPending(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractID")
	ctx := r.Context()

	c, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	deliveries, err := s.store.ListDeliveryEvents(ctx, contractID)
	if err != nil {
		writeError(w, "failed to load deliveries", http.StatusInternalServerError)
		return
	}

	res, err := pending.Compute(*c, deliveries)
	resp := PendingResponse{
		ContractID:   contractID,
		LoadedPacks:  res.LoadedPacks,
		PendingPacks: res.PendingPacks,
	}
	var odErr *pending.OverDeliveryError
	if errors.As(err, &odErr) {
		v := odErr.Violation(*c)
		resp.Violation = &v
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Stock handlers ---

// GetStock handles GET /api/v1/stock
// Optional ?item_id= narrows to one item.
func (s *Service) GetStock(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.store.GetStockSnapshots(r.Context(), r.URL.Query().Get("item_id"))
	if err != nil {
		writeError(w, "failed to load stock snapshots", http.StatusInternalServerError)
		return
	}
	if snapshots == nil {
		snapshots = []model.StockSnapshot{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshots)
}

// GetStockPartyBreakdown handles GET /api/v1/stock/parties
// ?status=pending keeps only rows with pending quantity on either side;
// ?status=all (the default) returns everything.
func (s *Service) GetStockPartyBreakdown(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != "pending" && status != "all" {
		writeError(w, "status must be pending or all", http.StatusBadRequest)
		return
	}

	snapshots, err := s.store.GetStockPartyBreakdown(r.Context())
	if err != nil {
		writeError(w, "failed to load party breakdown", http.StatusInternalServerError)
		return
	}

	if status == "pending" {
		var filtered []model.StockSnapshot
		for _, snap := range snapshots {
			if snap.PendingPurchasePacks.IsZero() && snap.PendingSellPacks.IsZero() {
				continue
			}
			filtered = append(filtered, snap)
		}
		snapshots = filtered
	}
	if snapshots == nil {
		snapshots = []model.StockSnapshot{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshots)
}

// RecalculateStock handles POST /api/v1/stock/recalculate
func (s *Service) RecalculateStock(w http.ResponseWriter, r *http.Request) {
	report, err := s.orch.RecalculateStock(r.Context())
	if err != nil {
		writeRecalcError(w, err)
		return
	}

	s.broadcast(WSMessage{Type: "recalculation_completed", Detail: "stock"})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recalcResponse(report))
}

// --- P&L handlers ---

// GetSettledPnl handles GET /api/v1/pnl/settled?date=YYYY-MM-DD
// If no records are stored for the date they are generated on the spot.
func (s *Service) GetSettledPnl(w http.ResponseWriter, r *http.Request) {
	date, err := contract.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	records, err := s.store.GetSettledPnl(ctx, date)
	if err != nil {
		writeError(w, "failed to load settled pnl", http.StatusInternalServerError)
		return
	}

	if len(records) == 0 {
		records, err = s.generateSettled(r, date)
		if err != nil {
			writeError(w, "failed to generate settled pnl", http.StatusInternalServerError)
			return
		}
	}
	if records == nil {
		records = []model.PnlRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// GenerateSettledPnl handles POST /api/v1/pnl/settled/generate?date=YYYY-MM-DD
// Explicit recompute for one date, replacing whatever was stored. This is
// the repair path for settled records made stale by a contract edit.
func (s *Service) GenerateSettledPnl(w http.ResponseWriter, r *http.Request) {
	date, err := contract.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := s.generateSettled(r, date)
	if err != nil {
		writeError(w, "failed to generate settled pnl", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.PnlRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// GetFuturePnl handles GET /api/v1/pnl/future
// Future P&L covers the pending portion of open contracts at the moment of
// the call, so it is computed live from the ledger rather than read from
// the derived table.
func (s *Service) GetFuturePnl(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	contracts, err := s.store.ListContracts(ctx, store.ContractFilter{})
	if err != nil {
		writeError(w, "failed to load contracts", http.StatusInternalServerError)
		return
	}
	deliveries, err := s.store.ListAllDeliveryEvents(ctx)
	if err != nil {
		writeError(w, "failed to load deliveries", http.StatusInternalServerError)
		return
	}

	records, _ := pnl.Future(contracts, deliveries, s.rates, time.Now())
	if records == nil {
		records = []model.PnlRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// RecalculateAllPnl handles POST /api/v1/pnl/recalculate
func (s *Service) RecalculateAllPnl(w http.ResponseWriter, r *http.Request) {
	report, err := s.orch.RecalculateAllPnl(r.Context())
	if err != nil {
		writeRecalcError(w, err)
		return
	}

	s.broadcast(WSMessage{Type: "recalculation_completed", Detail: "pnl"})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recalcResponse(report))
}

// --- Helpers ---

func (s *Service) generateSettled(r *http.Request, date time.Time) ([]model.PnlRecord, error) {
	ctx := r.Context()

	contracts, err := s.store.ListContracts(ctx, store.ContractFilter{})
	if err != nil {
		return nil, err
	}

	records := pnl.Settled(contracts, date, time.Now())
	if err := s.store.ReplaceSettledPnl(ctx, date, records); err != nil {
		return nil, err
	}

	slog.Info("settled pnl generated",
		"date", date.Format(contract.DateFormat),
		"records", len(records),
	)
	return records, nil
}

// refreshStock rebuilds the stock snapshots after a ledger write. A full
// rebuild after every mutation keeps the derived rows provably equal to
// recomputation from scratch. Failure leaves stale snapshots behind, which
// the next write or explicit recalculation repairs, so the accepted write
// is never rolled back for it.
func (s *Service) refreshStock(r *http.Request) {
	if _, err := s.orch.RecalculateStock(r.Context()); err != nil {
		slog.Warn("stock refresh after write failed", "err", err)
	}
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

func writeRecalcError(w http.ResponseWriter, err error) {
	if errors.Is(err, recalc.ErrAlreadyRunning) {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	writeError(w, err.Error(), http.StatusInternalServerError)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeError(w, err.Error(), http.StatusInternalServerError)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
