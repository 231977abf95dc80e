// Package postgres implements the store ports on PostgreSQL through pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/motodesk/backoffice/internal/domain"
	"github.com/motodesk/backoffice/internal/platform/db"
	"github.com/motodesk/backoffice/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists the dealership relations in PostgreSQL.
type Store struct {
	reader
	pool *pgxpool.Pool
	opts db.TxOptions
}

var _ store.Store = (*Store)(nil)

// New constructs Store. Every WithTx runs SERIALIZABLE and retries on serialization failures.
func New(pool *pgxpool.Pool, opts db.TxOptions) *Store {
	return &Store{reader: reader{q: pool}, pool: pool, opts: opts}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store/postgres: migrate: %w", err)
	}
	return nil
}

// Schema returns the embedded DDL.
func Schema() string {
	return schemaSQL
}

// WithTx executes fn inside a serializable transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	if s == nil || s.pool == nil {
		return store.ErrNotInitialised
	}
	return db.RunSerializable(ctx, s.pool, s.opts, func(tx pgx.Tx) error {
		return fn(ctx, &txn{reader: reader{q: tx, lock: true}})
	})
}

const (
	itemColumns = `id, brand, model, colors, srp, cost, created_at`
	unitColumns = `u.id, u.inventory_lot_id, u.engine_no, u.chassis_no, u.color, u.status, u.transferred, u.created_at, u.updated_at`
	lotColumns  = `id, branch_id, item_id, received_at, supplier, dr_no, si_no, color, unit_cost, srp,
		beginning_qty, purchased_qty, transferred_qty, sold_qty, ending_qty, created_at, updated_at`
	saleColumns = `id, reference, branch_id, date_sold, buyer_name, buyer_address, buyer_contact, dr_no, si_no,
		payment_method, category, supplied_total, derived_total, total_amount, created_at`
	lineColumns = `id, sale_id, item_id, vehicle_unit_id, qty, unit_price, amount`
	linkColumns = `id, sale_id, inventory_lot_id, qty`

	identityPredicate = `(($1 <> '' AND UPPER(TRIM(u.engine_no)) = UPPER(TRIM($1)))
		OR ($2 <> '' AND UPPER(TRIM(u.chassis_no)) = UPPER(TRIM($2))))`
)

// reader serves the lookups shared by the pool and a transaction. When lock
// is set, identity lookups take row locks on the returned units.
type reader struct {
	q    querier
	lock bool
}

func (r reader) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := r.q.Query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanItem)
}

func (r reader) FindUnitsByIdentity(ctx context.Context, engineNo, chassisNo string) ([]domain.VehicleUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM vehicle_units u WHERE ` + identityPredicate + ` ORDER BY u.id`
	if r.lock {
		query += ` FOR UPDATE`
	}
	rows, err := r.q.Query(ctx, query, engineNo, chassisNo)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanUnit)
}

func (r reader) CountUnitsByStatus(ctx context.Context, lotID int64, status domain.UnitStatus) (int, error) {
	var count int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM vehicle_units WHERE inventory_lot_id = $1 AND status = $2`, lotID, string(status)).Scan(&count)
	return count, err
}

func (r reader) CountSaleLinesForIdentity(ctx context.Context, engineNo, chassisNo string) (int, error) {
	var count int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM sale_lines l
		JOIN vehicle_units u ON u.id = l.vehicle_unit_id
		WHERE `+identityPredicate, engineNo, chassisNo).Scan(&count)
	return count, err
}

func (s *Store) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	return s.reader.sale(ctx, id, false)
}

func (s *Store) ListBranchIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT branch_id FROM inventory_lots UNION SELECT branch_id FROM sales ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s *Store) ListLotsByBranch(ctx context.Context, branchID int64) ([]domain.InventoryLot, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+lotColumns+` FROM inventory_lots WHERE branch_id = $1 ORDER BY id`, branchID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanLot)
}

func (s *Store) ListSalesByBranch(ctx context.Context, branchID int64) ([]domain.Sale, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+saleColumns+` FROM sales WHERE branch_id = $1 ORDER BY id`, branchID)
	if err != nil {
		return nil, err
	}
	sales, err := pgx.CollectRows(rows, scanSale)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		if sales[i].Lines, err = s.reader.lines(ctx, sales[i].ID); err != nil {
			return nil, err
		}
		if sales[i].Links, err = s.reader.links(ctx, sales[i].ID); err != nil {
			return nil, err
		}
	}
	return sales, nil
}

func (r reader) sale(ctx context.Context, id int64, forUpdate bool) (domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := r.q.Query(ctx, query, id)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := pgx.CollectExactlyOneRow(rows, scanSale)
	if err != nil {
		return domain.Sale{}, notFound(err)
	}
	if sale.Lines, err = r.lines(ctx, id); err != nil {
		return domain.Sale{}, err
	}
	if sale.Links, err = r.links(ctx, id); err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

func (r reader) lines(ctx context.Context, saleID int64) ([]domain.SaleLine, error) {
	rows, err := r.q.Query(ctx, `SELECT `+lineColumns+` FROM sale_lines WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanLine)
}

func (r reader) links(ctx context.Context, saleID int64) ([]domain.SaleLotLink, error) {
	rows, err := r.q.Query(ctx, `SELECT `+linkColumns+` FROM sale_lot_links WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanLink)
}

// txn is the store.Tx view of one pgx transaction.
type txn struct {
	reader
}

func (t *txn) GetItem(ctx context.Context, id int64) (domain.Item, error) {
	rows, err := t.q.Query(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	if err != nil {
		return domain.Item{}, err
	}
	item, err := pgx.CollectExactlyOneRow(rows, scanItem)
	return item, notFound(err)
}

func (t *txn) FindSellableUnitForUpdate(ctx context.Context, branchID, itemID int64) (domain.VehicleUnit, error) {
	rows, err := t.q.Query(ctx, `SELECT `+unitColumns+`
		FROM vehicle_units u
		JOIN inventory_lots l ON l.id = u.inventory_lot_id
		WHERE l.branch_id = $1 AND l.item_id = $2 AND u.status = 'available' AND NOT u.transferred
		ORDER BY u.id
		LIMIT 1
		FOR UPDATE OF u SKIP LOCKED`, branchID, itemID)
	if err != nil {
		return domain.VehicleUnit{}, err
	}
	unit, err := pgx.CollectExactlyOneRow(rows, scanUnit)
	return unit, notFound(err)
}

func (t *txn) GetUnitForUpdate(ctx context.Context, id int64) (domain.VehicleUnit, error) {
	rows, err := t.q.Query(ctx, `SELECT `+unitColumns+` FROM vehicle_units u WHERE u.id = $1 FOR UPDATE`, id)
	if err != nil {
		return domain.VehicleUnit{}, err
	}
	unit, err := pgx.CollectExactlyOneRow(rows, scanUnit)
	return unit, notFound(err)
}

func (t *txn) InsertUnit(ctx context.Context, unit domain.VehicleUnit) (domain.VehicleUnit, error) {
	if unit.Status == "" {
		unit.Status = domain.UnitAvailable
	}
	err := t.q.QueryRow(ctx, `INSERT INTO vehicle_units (inventory_lot_id, engine_no, chassis_no, color, status, transferred)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		unit.LotID, unit.EngineNo, unit.ChassisNo, unit.Color, string(unit.Status), unit.Transferred,
	).Scan(&unit.ID, &unit.CreatedAt, &unit.UpdatedAt)
	return unit, err
}

func (t *txn) UpdateUnitStatus(ctx context.Context, id int64, status domain.UnitStatus) error {
	tag, err := t.q.Exec(ctx, `UPDATE vehicle_units SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *txn) GetLotForUpdate(ctx context.Context, id int64) (domain.InventoryLot, error) {
	rows, err := t.q.Query(ctx, `SELECT `+lotColumns+` FROM inventory_lots WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return domain.InventoryLot{}, err
	}
	lot, err := pgx.CollectExactlyOneRow(rows, scanLot)
	return lot, notFound(err)
}

func (t *txn) InsertLot(ctx context.Context, lot domain.InventoryLot) (domain.InventoryLot, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO inventory_lots (branch_id, item_id, received_at, supplier, dr_no, si_no, color,
			unit_cost, srp, beginning_qty, purchased_qty, transferred_qty, sold_qty, ending_qty)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at`,
		lot.BranchID, lot.ItemID, lot.ReceivedAt, lot.Supplier, lot.DRNo, lot.SINo, lot.Color,
		lot.UnitCost, lot.SRP, lot.BeginningQty, lot.PurchasedQty, lot.TransferredQty, lot.SoldQty, lot.EndingQty,
	).Scan(&lot.ID, &lot.CreatedAt, &lot.UpdatedAt)
	return lot, err
}

func (t *txn) UpdateLotCounters(ctx context.Context, lot domain.InventoryLot) error {
	tag, err := t.q.Exec(ctx, `UPDATE inventory_lots
		SET beginning_qty = $2, purchased_qty = $3, transferred_qty = $4, sold_qty = $5, ending_qty = $6, updated_at = NOW()
		WHERE id = $1`,
		lot.ID, lot.BeginningQty, lot.PurchasedQty, lot.TransferredQty, lot.SoldQty, lot.EndingQty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *txn) InsertSale(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO sales (reference, branch_id, date_sold, buyer_name, buyer_address, buyer_contact,
			dr_no, si_no, payment_method, category, supplied_total, derived_total, total_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at`,
		sale.Reference, sale.BranchID, sale.DateSold, sale.Buyer.Name, sale.Buyer.Address, sale.Buyer.Contact,
		sale.DRNo, sale.SINo, sale.PaymentMethod, sale.Category, sale.SuppliedTotal, sale.DerivedTotal, sale.TotalAmount,
	).Scan(&sale.ID, &sale.CreatedAt)
	sale.Lines = nil
	sale.Links = nil
	return sale, err
}

func (t *txn) UpdateSaleTotals(ctx context.Context, saleID int64, supplied, derived, total decimal.Decimal) error {
	tag, err := t.q.Exec(ctx, `UPDATE sales SET supplied_total = $2, derived_total = $3, total_amount = $4 WHERE id = $1`,
		saleID, supplied, derived, total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *txn) InsertSaleLine(ctx context.Context, line domain.SaleLine) (domain.SaleLine, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO sale_lines (sale_id, item_id, vehicle_unit_id, qty, unit_price, amount)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		line.SaleID, line.ItemID, line.UnitID, line.Qty, line.UnitPrice, line.Amount,
	).Scan(&line.ID)
	return line, err
}

func (t *txn) InsertSaleLotLink(ctx context.Context, link domain.SaleLotLink) (domain.SaleLotLink, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO sale_lot_links (sale_id, inventory_lot_id, qty) VALUES ($1, $2, $3) RETURNING id`,
		link.SaleID, link.LotID, link.Qty,
	).Scan(&link.ID)
	return link, err
}

func (t *txn) GetSaleForUpdate(ctx context.Context, id int64) (domain.Sale, error) {
	return t.reader.sale(ctx, id, true)
}

func (t *txn) DeleteSale(ctx context.Context, id int64) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM sale_lot_links WHERE sale_id = $1`, id); err != nil {
		return err
	}
	if _, err := t.q.Exec(ctx, `DELETE FROM sale_lines WHERE sale_id = $1`, id); err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanItem(row pgx.CollectableRow) (domain.Item, error) {
	var item domain.Item
	err := row.Scan(&item.ID, &item.Brand, &item.Model, &item.Colors, &item.SRP, &item.Cost, &item.CreatedAt)
	return item, err
}

func scanUnit(row pgx.CollectableRow) (domain.VehicleUnit, error) {
	var (
		unit   domain.VehicleUnit
		status string
	)
	err := row.Scan(&unit.ID, &unit.LotID, &unit.EngineNo, &unit.ChassisNo, &unit.Color, &status,
		&unit.Transferred, &unit.CreatedAt, &unit.UpdatedAt)
	unit.Status = domain.UnitStatus(status)
	return unit, err
}

func scanLot(row pgx.CollectableRow) (domain.InventoryLot, error) {
	var lot domain.InventoryLot
	err := row.Scan(&lot.ID, &lot.BranchID, &lot.ItemID, &lot.ReceivedAt, &lot.Supplier, &lot.DRNo, &lot.SINo,
		&lot.Color, &lot.UnitCost, &lot.SRP, &lot.BeginningQty, &lot.PurchasedQty, &lot.TransferredQty,
		&lot.SoldQty, &lot.EndingQty, &lot.CreatedAt, &lot.UpdatedAt)
	return lot, err
}

func scanSale(row pgx.CollectableRow) (domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(&sale.ID, &sale.Reference, &sale.BranchID, &sale.DateSold, &sale.Buyer.Name,
		&sale.Buyer.Address, &sale.Buyer.Contact, &sale.DRNo, &sale.SINo, &sale.PaymentMethod, &sale.Category,
		&sale.SuppliedTotal, &sale.DerivedTotal, &sale.TotalAmount, &sale.CreatedAt)
	return sale, err
}

func scanLine(row pgx.CollectableRow) (domain.SaleLine, error) {
	var line domain.SaleLine
	err := row.Scan(&line.ID, &line.SaleID, &line.ItemID, &line.UnitID, &line.Qty, &line.UnitPrice, &line.Amount)
	return line, err
}

func scanLink(row pgx.CollectableRow) (domain.SaleLotLink, error) {
	var link domain.SaleLotLink
	err := row.Scan(&link.ID, &link.SaleID, &link.LotID, &link.Qty)
	return link, err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
