package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/motodesk/backoffice/internal/domain"
	"github.com/motodesk/backoffice/internal/shared"
	"github.com/motodesk/backoffice/internal/store"
)

// Store keeps every relation in process memory. Transactions run one at a
// time against a copy of the state that replaces the live state on commit,
// so a failed callback leaves nothing behind.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	items    map[int64]domain.Item
	units    map[int64]domain.VehicleUnit
	lots     map[int64]domain.InventoryLot
	sales    map[int64]domain.Sale
	lines    map[int64]domain.SaleLine
	links    map[int64]domain.SaleLotLink
	idemKeys map[string]string
	seq      map[string]int64
}

// New returns an empty store.
func New() *Store {
	return &Store{state: &state{
		items:    make(map[int64]domain.Item),
		units:    make(map[int64]domain.VehicleUnit),
		lots:     make(map[int64]domain.InventoryLot),
		sales:    make(map[int64]domain.Sale),
		lines:    make(map[int64]domain.SaleLine),
		links:    make(map[int64]domain.SaleLotLink),
		idemKeys: make(map[string]string),
		seq:      make(map[string]int64),
	}}
}

var _ store.Store = (*Store)(nil)

func (st *state) clone() *state {
	return &state{
		items:    cloneMap(st.items),
		units:    cloneMap(st.units),
		lots:     cloneMap(st.lots),
		sales:    cloneMap(st.sales),
		lines:    cloneMap(st.lines),
		links:    cloneMap(st.links),
		idemKeys: cloneMap(st.idemKeys),
		seq:      cloneMap(st.seq),
	}
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (st *state) next(table string) int64 {
	st.seq[table]++
	return st.seq[table]
}

// WithTx runs fn against a private copy of the state and publishes it only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	if s == nil {
		return store.ErrNotInitialised
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	working := s.state.clone()
	if err := fn(ctx, &txn{st: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

// SeedItem inserts a catalog item, assigning an ID when missing.
func (s *Store) SeedItem(item domain.Item) domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == 0 {
		item.ID = s.state.next("items")
	} else if item.ID > s.state.seq["items"] {
		s.state.seq["items"] = item.ID
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.state.items[item.ID] = item
	return item
}

// SeedLot inserts a lot as-is, assigning an ID when missing.
func (s *Store) SeedLot(lot domain.InventoryLot) domain.InventoryLot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lot.ID == 0 {
		lot.ID = s.state.next("lots")
	} else if lot.ID > s.state.seq["lots"] {
		s.state.seq["lots"] = lot.ID
	}
	s.state.lots[lot.ID] = lot
	return lot
}

// SeedUnit inserts a unit as-is, assigning an ID when missing.
func (s *Store) SeedUnit(unit domain.VehicleUnit) domain.VehicleUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	if unit.ID == 0 {
		unit.ID = s.state.next("units")
	} else if unit.ID > s.state.seq["units"] {
		s.state.seq["units"] = unit.ID
	}
	if unit.Status == "" {
		unit.Status = domain.UnitAvailable
	}
	s.state.units[unit.ID] = unit
	return unit
}

// Lot returns a committed lot snapshot.
func (s *Store) Lot(id int64) (domain.InventoryLot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lot, ok := s.state.lots[id]
	return lot, ok
}

// Unit returns a committed unit snapshot.
func (s *Store) Unit(id int64) (domain.VehicleUnit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unit, ok := s.state.units[id]
	return unit, ok
}

// Units returns every committed unit ordered by ID.
func (s *Store) Units() []domain.VehicleUnit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.units, func(u domain.VehicleUnit) int64 { return u.ID })
}

// Lots returns every committed lot ordered by ID.
func (s *Store) Lots() []domain.InventoryLot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.lots, func(l domain.InventoryLot) int64 { return l.ID })
}

// SaleLines returns every committed sale line ordered by ID.
func (s *Store) SaleLines() []domain.SaleLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.lines, func(l domain.SaleLine) int64 { return l.ID })
}

// SaleLotLinks returns every committed lot link ordered by ID.
func (s *Store) SaleLotLinks() []domain.SaleLotLink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.links, func(l domain.SaleLotLink) int64 { return l.ID })
}

// CheckAndInsert records an idempotency key, failing when it already exists.
func (s *Store) CheckAndInsert(ctx context.Context, key, module string) error {
	if key == "" {
		return fmt.Errorf("idempotency key required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.idemKeys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	s.state.idemKeys[key] = module
	return nil
}

// Delete removes an idempotency key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.idemKeys, key)
	return nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listItems(), nil
}

func (s *Store) FindUnitsByIdentity(ctx context.Context, engineNo, chassisNo string) ([]domain.VehicleUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.unitsByIdentity(engineNo, chassisNo), nil
}

func (s *Store) CountUnitsByStatus(ctx context.Context, lotID int64, status domain.UnitStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.countUnits(lotID, status), nil
}

func (s *Store) CountSaleLinesForIdentity(ctx context.Context, engineNo, chassisNo string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.countLinesForIdentity(engineNo, chassisNo), nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.sale(id)
}

func (s *Store) ListBranchIDs(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[int64]struct{}{}
	for _, lot := range s.state.lots {
		seen[lot.BranchID] = struct{}{}
	}
	for _, sale := range s.state.sales {
		seen[sale.BranchID] = struct{}{}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) ListLotsByBranch(ctx context.Context, branchID int64) ([]domain.InventoryLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lots := []domain.InventoryLot{}
	for _, lot := range sortedValues(s.state.lots, func(l domain.InventoryLot) int64 { return l.ID }) {
		if lot.BranchID == branchID {
			lots = append(lots, lot)
		}
	}
	return lots, nil
}

func (s *Store) ListSalesByBranch(ctx context.Context, branchID int64) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sales := []domain.Sale{}
	for _, header := range sortedValues(s.state.sales, func(sale domain.Sale) int64 { return sale.ID }) {
		if header.BranchID != branchID {
			continue
		}
		sale, err := s.state.sale(header.ID)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

type txn struct {
	st *state
}

func (t *txn) ListItems(ctx context.Context) ([]domain.Item, error) {
	return t.st.listItems(), nil
}

func (t *txn) FindUnitsByIdentity(ctx context.Context, engineNo, chassisNo string) ([]domain.VehicleUnit, error) {
	return t.st.unitsByIdentity(engineNo, chassisNo), nil
}

func (t *txn) CountUnitsByStatus(ctx context.Context, lotID int64, status domain.UnitStatus) (int, error) {
	return t.st.countUnits(lotID, status), nil
}

func (t *txn) CountSaleLinesForIdentity(ctx context.Context, engineNo, chassisNo string) (int, error) {
	return t.st.countLinesForIdentity(engineNo, chassisNo), nil
}

func (t *txn) GetItem(ctx context.Context, id int64) (domain.Item, error) {
	item, ok := t.st.items[id]
	if !ok {
		return domain.Item{}, store.ErrNotFound
	}
	return item, nil
}

func (t *txn) FindSellableUnitForUpdate(ctx context.Context, branchID, itemID int64) (domain.VehicleUnit, error) {
	for _, unit := range sortedValues(t.st.units, func(u domain.VehicleUnit) int64 { return u.ID }) {
		if !unit.Sellable() {
			continue
		}
		lot, ok := t.st.lots[unit.LotID]
		if !ok || lot.BranchID != branchID || lot.ItemID != itemID {
			continue
		}
		return unit, nil
	}
	return domain.VehicleUnit{}, store.ErrNotFound
}

func (t *txn) GetUnitForUpdate(ctx context.Context, id int64) (domain.VehicleUnit, error) {
	unit, ok := t.st.units[id]
	if !ok {
		return domain.VehicleUnit{}, store.ErrNotFound
	}
	return unit, nil
}

func (t *txn) InsertUnit(ctx context.Context, unit domain.VehicleUnit) (domain.VehicleUnit, error) {
	if _, ok := t.st.lots[unit.LotID]; !ok {
		return domain.VehicleUnit{}, fmt.Errorf("memory: unit references missing lot %d", unit.LotID)
	}
	now := time.Now().UTC()
	unit.ID = t.st.next("units")
	unit.CreatedAt = now
	unit.UpdatedAt = now
	t.st.units[unit.ID] = unit
	return unit, nil
}

func (t *txn) UpdateUnitStatus(ctx context.Context, id int64, status domain.UnitStatus) error {
	unit, ok := t.st.units[id]
	if !ok {
		return store.ErrNotFound
	}
	unit.Status = status
	unit.UpdatedAt = time.Now().UTC()
	t.st.units[id] = unit
	return nil
}

func (t *txn) GetLotForUpdate(ctx context.Context, id int64) (domain.InventoryLot, error) {
	lot, ok := t.st.lots[id]
	if !ok {
		return domain.InventoryLot{}, store.ErrNotFound
	}
	return lot, nil
}

func (t *txn) InsertLot(ctx context.Context, lot domain.InventoryLot) (domain.InventoryLot, error) {
	if _, ok := t.st.items[lot.ItemID]; !ok {
		return domain.InventoryLot{}, fmt.Errorf("memory: lot references missing item %d", lot.ItemID)
	}
	now := time.Now().UTC()
	lot.ID = t.st.next("lots")
	lot.CreatedAt = now
	lot.UpdatedAt = now
	t.st.lots[lot.ID] = lot
	return lot, nil
}

func (t *txn) UpdateLotCounters(ctx context.Context, lot domain.InventoryLot) error {
	current, ok := t.st.lots[lot.ID]
	if !ok {
		return store.ErrNotFound
	}
	current.BeginningQty = lot.BeginningQty
	current.PurchasedQty = lot.PurchasedQty
	current.TransferredQty = lot.TransferredQty
	current.SoldQty = lot.SoldQty
	current.EndingQty = lot.EndingQty
	current.UpdatedAt = time.Now().UTC()
	t.st.lots[lot.ID] = current
	return nil
}

func (t *txn) InsertSale(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	sale.ID = t.st.next("sales")
	sale.CreatedAt = time.Now().UTC()
	sale.Lines = nil
	sale.Links = nil
	t.st.sales[sale.ID] = sale
	return sale, nil
}

func (t *txn) UpdateSaleTotals(ctx context.Context, saleID int64, supplied, derived, total decimal.Decimal) error {
	sale, ok := t.st.sales[saleID]
	if !ok {
		return store.ErrNotFound
	}
	sale.SuppliedTotal = supplied
	sale.DerivedTotal = derived
	sale.TotalAmount = total
	t.st.sales[saleID] = sale
	return nil
}

func (t *txn) InsertSaleLine(ctx context.Context, line domain.SaleLine) (domain.SaleLine, error) {
	if _, ok := t.st.sales[line.SaleID]; !ok {
		return domain.SaleLine{}, fmt.Errorf("memory: line references missing sale %d", line.SaleID)
	}
	line.ID = t.st.next("sale_lines")
	t.st.lines[line.ID] = line
	return line, nil
}

func (t *txn) InsertSaleLotLink(ctx context.Context, link domain.SaleLotLink) (domain.SaleLotLink, error) {
	if _, ok := t.st.sales[link.SaleID]; !ok {
		return domain.SaleLotLink{}, fmt.Errorf("memory: link references missing sale %d", link.SaleID)
	}
	link.ID = t.st.next("sale_lot_links")
	t.st.links[link.ID] = link
	return link, nil
}

func (t *txn) GetSaleForUpdate(ctx context.Context, id int64) (domain.Sale, error) {
	return t.st.sale(id)
}

func (t *txn) DeleteSale(ctx context.Context, id int64) error {
	if _, ok := t.st.sales[id]; !ok {
		return store.ErrNotFound
	}
	for lineID, line := range t.st.lines {
		if line.SaleID == id {
			delete(t.st.lines, lineID)
		}
	}
	for linkID, link := range t.st.links {
		if link.SaleID == id {
			delete(t.st.links, linkID)
		}
	}
	delete(t.st.sales, id)
	return nil
}

func (st *state) listItems() []domain.Item {
	return sortedValues(st.items, func(i domain.Item) int64 { return i.ID })
}

func (st *state) unitsByIdentity(engineNo, chassisNo string) []domain.VehicleUnit {
	engineNo = strings.TrimSpace(engineNo)
	chassisNo = strings.TrimSpace(chassisNo)
	units := []domain.VehicleUnit{}
	if engineNo == "" && chassisNo == "" {
		return units
	}
	for _, unit := range sortedValues(st.units, func(u domain.VehicleUnit) int64 { return u.ID }) {
		if matchIdentity(unit, engineNo, chassisNo) {
			units = append(units, unit)
		}
	}
	return units
}

func (st *state) countUnits(lotID int64, status domain.UnitStatus) int {
	count := 0
	for _, unit := range st.units {
		if unit.LotID == lotID && unit.Status == status {
			count++
		}
	}
	return count
}

func (st *state) countLinesForIdentity(engineNo, chassisNo string) int {
	engineNo = strings.TrimSpace(engineNo)
	chassisNo = strings.TrimSpace(chassisNo)
	if engineNo == "" && chassisNo == "" {
		return 0
	}
	count := 0
	for _, line := range st.lines {
		if line.UnitID == nil {
			continue
		}
		unit, ok := st.units[*line.UnitID]
		if ok && matchIdentity(unit, engineNo, chassisNo) {
			count++
		}
	}
	return count
}

func (st *state) sale(id int64) (domain.Sale, error) {
	sale, ok := st.sales[id]
	if !ok {
		return domain.Sale{}, store.ErrNotFound
	}
	sale.Lines = []domain.SaleLine{}
	for _, line := range sortedValues(st.lines, func(l domain.SaleLine) int64 { return l.ID }) {
		if line.SaleID == id {
			sale.Lines = append(sale.Lines, line)
		}
	}
	sale.Links = []domain.SaleLotLink{}
	for _, link := range sortedValues(st.links, func(l domain.SaleLotLink) int64 { return l.ID }) {
		if link.SaleID == id {
			sale.Links = append(sale.Links, link)
		}
	}
	return sale, nil
}

func matchIdentity(unit domain.VehicleUnit, engineNo, chassisNo string) bool {
	if engineNo != "" && strings.EqualFold(strings.TrimSpace(unit.EngineNo), engineNo) {
		return true
	}
	return chassisNo != "" && strings.EqualFold(strings.TrimSpace(unit.ChassisNo), chassisNo)
}

func sortedValues[V any](m map[int64]V, id func(V) int64) []V {
	values := make([]V, 0, len(m))
	for _, v := range m {
		values = append(values, v)
	}
	slices.SortFunc(values, func(a, b V) int {
		switch ia, ib := id(a), id(b); {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		}
		return 0
	})
	return values
}
