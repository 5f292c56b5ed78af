package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/saudabook/recon-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All quantities, rates, and values are stored as NUMERIC for exact decimal
// precision. Derived-table replacement happens inside a single transaction
// so readers never observe a half-written snapshot set.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Ledger: contracts ---

func (s *PostgresStore) CreateContract(ctx context.Context, c *model.Contract) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contracts
		   (id, direction, date, party_id, item_id, ex_plant_id, broker_id,
		    quantity_packs, rate_per_10kg, total_value, loading_due_date, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11, $12)`,
		c.ID, string(c.Direction), c.Date, c.PartyID, c.ItemID, c.ExPlantID, c.BrokerID,
		c.QuantityPacks.String(), c.RatePer10Kg.String(), c.TotalValue.String(),
		c.LoadingDueDate, c.CreatedAt,
	)
	return err
}

const contractColumns = `id, direction, date, party_id, item_id, ex_plant_id, broker_id,
	quantity_packs::TEXT, rate_per_10kg::TEXT, total_value::TEXT, loading_due_date, created_at`

func (s *PostgresStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id)

	c, err := scanContract(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("contract %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get contract %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) ListContracts(ctx context.Context, filter ContractFilter) ([]model.Contract, error) {
	var clauses []string
	var args []interface{}

	addClause := func(condition string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(condition, len(args)))
	}

	if filter.Direction != nil {
		addClause("direction = $%d", string(*filter.Direction))
	}
	if filter.ItemID != "" {
		addClause("item_id = $%d", filter.ItemID)
	}
	if filter.PartyID != "" {
		addClause("party_id = $%d", filter.PartyID)
	}
	if filter.From != nil {
		addClause("date >= $%d", *filter.From)
	}
	if filter.To != nil {
		addClause("date <= $%d", *filter.To)
	}

	query := `SELECT ` + contractColumns + ` FROM contracts`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY date, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []model.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, *c)
	}
	return contracts, rows.Err()
}

func (s *PostgresStore) DeleteContract(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM delivery_events WHERE contract_id = $1`, id); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM contracts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListContractDates(ctx context.Context) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT date FROM contracts ORDER BY date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d.UTC())
	}
	return dates, rows.Err()
}

// --- Ledger: delivery events ---

func (s *PostgresStore) CreateDeliveryEvent(ctx context.Context, d *model.DeliveryEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO delivery_events
		   (id, contract_id, date, weight_kg, vehicle_no, transporter, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7)`,
		d.ID, d.ContractID, d.Date, d.WeightKg.String(), d.VehicleNo, d.Transporter, d.CreatedAt,
	)
	return err
}

const deliveryColumns = `id, contract_id, date, weight_kg::TEXT, vehicle_no, transporter, created_at`

func (s *PostgresStore) ListDeliveryEvents(ctx context.Context, contractID string) ([]model.DeliveryEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+deliveryColumns+` FROM delivery_events WHERE contract_id = $1 ORDER BY date, id`,
		contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDeliveries(rows)
}

func (s *PostgresStore) ListAllDeliveryEvents(ctx context.Context) (map[string][]model.DeliveryEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+deliveryColumns+` FROM delivery_events ORDER BY contract_id, date, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deliveries, err := scanDeliveries(rows)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]model.DeliveryEvent)
	for _, d := range deliveries {
		grouped[d.ContractID] = append(grouped[d.ContractID], d)
	}
	return grouped, nil
}

// --- Derived: stock snapshots ---

func (s *PostgresStore) ReplaceStockSnapshots(ctx context.Context, items, parties []model.StockSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := replaceStockSnapshots(ctx, tx, items, parties); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func replaceStockSnapshots(ctx context.Context, tx pgx.Tx, items, parties []model.StockSnapshot) error {
	if _, err := tx.Exec(ctx, `DELETE FROM stock_snapshots`); err != nil {
		return fmt.Errorf("clear stock_snapshots: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM stock_party_snapshots`); err != nil {
		return fmt.Errorf("clear stock_party_snapshots: %w", err)
	}

	for _, snap := range items {
		if err := insertSnapshot(ctx, tx, "stock_snapshots", snap); err != nil {
			return err
		}
	}
	for _, snap := range parties {
		if err := insertSnapshot(ctx, tx, "stock_party_snapshots", snap); err != nil {
			return err
		}
	}
	return nil
}

func insertSnapshot(ctx context.Context, tx pgx.Tx, table string, snap model.StockSnapshot) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO `+table+`
		   (item_id, party_id, ex_plant_id,
		    total_purchase_packs, total_sell_packs,
		    loaded_purchase_packs, loaded_sell_packs,
		    pending_purchase_packs, pending_sell_packs,
		    net_stock_packs, computed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
		         $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)`,
		snap.ItemID, snap.PartyID, snap.ExPlantID,
		snap.TotalPurchasePacks.String(), snap.TotalSellPacks.String(),
		snap.LoadedPurchasePacks.String(), snap.LoadedSellPacks.String(),
		snap.PendingPurchasePacks.String(), snap.PendingSellPacks.String(),
		snap.NetStockPacks.String(), snap.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("insert %s for item %s: %w", table, snap.ItemID, err)
	}
	return nil
}

const snapshotColumns = `item_id, party_id, ex_plant_id,
	total_purchase_packs::TEXT, total_sell_packs::TEXT,
	loaded_purchase_packs::TEXT, loaded_sell_packs::TEXT,
	pending_purchase_packs::TEXT, pending_sell_packs::TEXT,
	net_stock_packs::TEXT, computed_at`

func (s *PostgresStore) GetStockSnapshots(ctx context.Context, itemID string) ([]model.StockSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM stock_snapshots`
	var args []interface{}
	if itemID != "" {
		query += ` WHERE item_id = $1`
		args = append(args, itemID)
	}
	query += ` ORDER BY item_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

func (s *PostgresStore) GetStockPartyBreakdown(ctx context.Context) ([]model.StockSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM stock_party_snapshots ORDER BY item_id, party_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// --- Derived: P&L records ---

func (s *PostgresStore) ReplaceSettledPnl(ctx context.Context, date time.Time, records []model.PnlRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM pnl_records WHERE date = $1`, date); err != nil {
		return fmt.Errorf("clear settled pnl for %s: %w", date.Format("2006-01-02"), err)
	}
	for _, r := range records {
		if err := insertPnlRecord(ctx, tx, r); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ReplaceFuturePnl(ctx context.Context, records []model.PnlRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM pnl_records WHERE date IS NULL`); err != nil {
		return fmt.Errorf("clear future pnl: %w", err)
	}
	for _, r := range records {
		if err := insertPnlRecord(ctx, tx, r); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ReplaceAllPnl(ctx context.Context, settled, future []model.PnlRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := replaceAllPnl(ctx, tx, settled, future); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func replaceAllPnl(ctx context.Context, tx pgx.Tx, settled, future []model.PnlRecord) error {
	if _, err := tx.Exec(ctx, `DELETE FROM pnl_records`); err != nil {
		return fmt.Errorf("clear pnl_records: %w", err)
	}
	for _, r := range settled {
		if err := insertPnlRecord(ctx, tx, r); err != nil {
			return err
		}
	}
	for _, r := range future {
		if err := insertPnlRecord(ctx, tx, r); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceAllDerived swaps all four derived sets in a single transaction, so
// a reader never sees new stock beside old P&L (or the reverse) and a
// failure at any point rolls everything back.
func (s *PostgresStore) ReplaceAllDerived(ctx context.Context, items, parties []model.StockSnapshot, settled, future []model.PnlRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := replaceStockSnapshots(ctx, tx, items, parties); err != nil {
		return err
	}
	if err := replaceAllPnl(ctx, tx, settled, future); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertPnlRecord(ctx context.Context, tx pgx.Tx, r model.PnlRecord) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO pnl_records
		   (item_id, date, buy_total_value, sell_total_value,
		    buy_quantity_packs, sell_quantity_kg,
		    avg_buy_rate, avg_sell_rate, profit, computed_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC,
		         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		r.ItemID, r.Date,
		r.BuyTotalValue.String(), r.SellTotalValue.String(),
		r.BuyQuantityPacks.String(), r.SellQuantityKg.String(),
		r.AvgBuyRate.String(), r.AvgSellRate.String(), r.Profit.String(),
		r.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pnl record for item %s: %w", r.ItemID, err)
	}
	return nil
}

const pnlColumns = `item_id, date, buy_total_value::TEXT, sell_total_value::TEXT,
	buy_quantity_packs::TEXT, sell_quantity_kg::TEXT,
	avg_buy_rate::TEXT, avg_sell_rate::TEXT, profit::TEXT, computed_at`

func (s *PostgresStore) GetSettledPnl(ctx context.Context, date time.Time) ([]model.PnlRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pnlColumns+` FROM pnl_records WHERE date = $1 ORDER BY item_id`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPnlRecords(rows)
}

func (s *PostgresStore) GetFuturePnl(ctx context.Context) ([]model.PnlRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pnlColumns+` FROM pnl_records WHERE date IS NULL ORDER BY item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPnlRecords(rows)
}

// --- Row scanning helpers ---

type pgxRow interface {
	Scan(dest ...interface{}) error
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanContract(row pgxRow) (*model.Contract, error) {
	var c model.Contract
	var direction, qtyS, rateS, valueS string

	if err := row.Scan(&c.ID, &direction, &c.Date, &c.PartyID, &c.ItemID,
		&c.ExPlantID, &c.BrokerID, &qtyS, &rateS, &valueS,
		&c.LoadingDueDate, &c.CreatedAt); err != nil {
		return nil, err
	}

	c.Direction = model.Direction(direction)
	c.Date = c.Date.UTC()
	c.LoadingDueDate = c.LoadingDueDate.UTC()
	c.QuantityPacks, _ = decimal.NewFromString(qtyS)
	c.RatePer10Kg, _ = decimal.NewFromString(rateS)
	c.TotalValue, _ = decimal.NewFromString(valueS)
	return &c, nil
}

func scanDeliveries(rows pgxRows) ([]model.DeliveryEvent, error) {
	var deliveries []model.DeliveryEvent
	for rows.Next() {
		var d model.DeliveryEvent
		var weightS string

		if err := rows.Scan(&d.ID, &d.ContractID, &d.Date, &weightS,
			&d.VehicleNo, &d.Transporter, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Date = d.Date.UTC()
		d.WeightKg, _ = decimal.NewFromString(weightS)
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func scanSnapshots(rows pgxRows) ([]model.StockSnapshot, error) {
	var snapshots []model.StockSnapshot
	for rows.Next() {
		var snap model.StockSnapshot
		var totBuyS, totSellS, loadBuyS, loadSellS, pendBuyS, pendSellS, netS string

		if err := rows.Scan(&snap.ItemID, &snap.PartyID, &snap.ExPlantID,
			&totBuyS, &totSellS, &loadBuyS, &loadSellS,
			&pendBuyS, &pendSellS, &netS, &snap.ComputedAt); err != nil {
			return nil, err
		}
		snap.TotalPurchasePacks, _ = decimal.NewFromString(totBuyS)
		snap.TotalSellPacks, _ = decimal.NewFromString(totSellS)
		snap.LoadedPurchasePacks, _ = decimal.NewFromString(loadBuyS)
		snap.LoadedSellPacks, _ = decimal.NewFromString(loadSellS)
		snap.PendingPurchasePacks, _ = decimal.NewFromString(pendBuyS)
		snap.PendingSellPacks, _ = decimal.NewFromString(pendSellS)
		snap.NetStockPacks, _ = decimal.NewFromString(netS)
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

func scanPnlRecords(rows pgxRows) ([]model.PnlRecord, error) {
	var records []model.PnlRecord
	for rows.Next() {
		var r model.PnlRecord
		var buyValS, sellValS, buyQtyS, sellQtyS, avgBuyS, avgSellS, profitS string

		if err := rows.Scan(&r.ItemID, &r.Date, &buyValS, &sellValS,
			&buyQtyS, &sellQtyS, &avgBuyS, &avgSellS, &profitS,
			&r.ComputedAt); err != nil {
			return nil, err
		}
		if r.Date != nil {
			utc := r.Date.UTC()
			r.Date = &utc
		}
		r.BuyTotalValue, _ = decimal.NewFromString(buyValS)
		r.SellTotalValue, _ = decimal.NewFromString(sellValS)
		r.BuyQuantityPacks, _ = decimal.NewFromString(buyQtyS)
		r.SellQuantityKg, _ = decimal.NewFromString(sellQtyS)
		r.AvgBuyRate, _ = decimal.NewFromString(avgBuyS)
		r.AvgSellRate, _ = decimal.NewFromString(avgSellS)
		r.Profit, _ = decimal.NewFromString(profitS)
		records = append(records, r)
	}
	return records, rows.Err()
}
