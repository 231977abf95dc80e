// Package sales records dealership sales and binds every line to a vehicle unit.
package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/motodesk/backoffice/internal/allocation"
	"github.com/motodesk/backoffice/internal/catalog"
	"github.com/motodesk/backoffice/internal/domain"
	"github.com/motodesk/backoffice/internal/shared"
	"github.com/motodesk/backoffice/internal/store"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service provides business logic for sale recording.
type Service struct {
	store    store.Store
	catalog  *catalog.Service
	engine   *allocation.Engine
	locker   allocation.Locker
	audit    AuditPort
	logger   *slog.Logger
	validate *validator.Validate
	defaults Options
	now      func() time.Time
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Locker      allocation.Locker
	Audit       AuditPort
	TotalPolicy TotalPolicy
}

// NewService constructs a sales service. The engine's mode is the default for every call.
func NewService(st store.Store, cat *catalog.Service, engine *allocation.Engine, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.TotalPolicy
	if policy == "" {
		policy = TotalSupplied
	}
	return &Service{
		store:    st,
		catalog:  cat,
		engine:   engine,
		locker:   cfg.Locker,
		audit:    cfg.Audit,
		logger:   logger,
		validate: newValidator(),
		defaults: Options{Mode: engine.Mode(), TotalPolicy: policy},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct tags and returns field → message pairs.
func (s *Service) Validate(req RecordSaleRequest) map[string]string {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"request": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "RecordSaleRequest.")
		out[field] = fmt.Sprintf("failed %s", fe.Tag())
	}
	return out
}

// RecordSale writes the header, one line and one lot link per allocated unit,
// and the totals in a single transaction. Any line failure rolls everything back.
func (s *Service) RecordSale(ctx context.Context, req RecordSaleRequest, opts Options) (domain.Sale, error) {
	if fields := s.Validate(req); len(fields) > 0 {
		return domain.Sale{}, &ValidationError{Fields: fields}
	}
	if opts.Mode == "" {
		opts.Mode = s.defaults.Mode
	}
	if opts.TotalPolicy == "" {
		opts.TotalPolicy = s.defaults.TotalPolicy
	}

	items, err := s.resolveLines(ctx, req.Lines)
	if err != nil {
		return domain.Sale{}, err
	}
	allocReqs := make([]allocation.Request, len(req.Lines))
	var keys []string
	for i, line := range req.Lines {
		allocReqs[i] = allocation.Request{
			BranchID:  req.BranchID,
			Item:      items[i],
			EngineNo:  line.EngineNo,
			ChassisNo: line.ChassisNo,
			Color:     line.Color,
			DateSold:  req.DateSold,
			DRNo:      req.DRNo,
			SINo:      req.SINo,
			Mode:      opts.Mode,
		}
		keys = append(keys, allocReqs[i].LockKeys()...)
	}

	release, err := s.lock(ctx, keys)
	if err != nil {
		return domain.Sale{}, err
	}
	defer release()

	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = "SALE-" + strings.ToUpper(uuid.NewString())
	}

	var (
		sale         domain.Sale
		materialized []int64
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		materialized = materialized[:0]
		header, err := tx.InsertSale(ctx, domain.Sale{
			Reference:     reference,
			BranchID:      req.BranchID,
			DateSold:      req.DateSold,
			Buyer:         req.Buyer,
			DRNo:          req.DRNo,
			SINo:          req.SINo,
			PaymentMethod: req.PaymentMethod,
			Category:      req.Category,
		})
		if err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		header.Lines = make([]domain.SaleLine, 0, len(req.Lines))
		header.Links = make([]domain.SaleLotLink, 0, len(req.Lines))

		for i, line := range req.Lines {
			alloc, err := s.engine.Allocate(ctx, tx, allocReqs[i])
			if err != nil {
				return &LineError{Index: i, Err: err}
			}
			if alloc.Materialized {
				materialized = append(materialized, alloc.Lot.ID)
			}
			unitID := alloc.Unit.ID
			saleLine, err := tx.InsertSaleLine(ctx, domain.SaleLine{
				SaleID:    header.ID,
				ItemID:    items[i].ID,
				UnitID:    &unitID,
				Qty:       1,
				UnitPrice: line.UnitPrice,
				Amount:    LineAmount(1, line.UnitPrice),
			})
			if err != nil {
				return &LineError{Index: i, Err: fmt.Errorf("insert sale line: %w", err)}
			}
			link, err := tx.InsertSaleLotLink(ctx, domain.SaleLotLink{SaleID: header.ID, LotID: alloc.Lot.ID, Qty: 1})
			if err != nil {
				return &LineError{Index: i, Err: fmt.Errorf("insert lot link: %w", err)}
			}
			header.Lines = append(header.Lines, saleLine)
			header.Links = append(header.Links, link)
		}

		header.DerivedTotal = DeriveTotal(header.Lines)
		header.SuppliedTotal, header.TotalAmount = ChooseTotal(opts.TotalPolicy, req.Total, header.DerivedTotal)
		if err := tx.UpdateSaleTotals(ctx, header.ID, header.SuppliedTotal, header.DerivedTotal, header.TotalAmount); err != nil {
			return fmt.Errorf("update sale totals: %w", err)
		}
		sale = header
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logger.InfoContext(ctx, "sale recorded",
		slog.Int64("sale_id", sale.ID),
		slog.String("reference", sale.Reference),
		slog.Int64("branch_id", sale.BranchID),
		slog.Int("lines", len(sale.Lines)),
		slog.String("mode", string(opts.Mode)),
		slog.String("total", sale.TotalAmount.StringFixed(2)))
	s.record(ctx, shared.AuditLog{
		Action:   shared.AuditActionSaleRecorded,
		Entity:   "sales",
		EntityID: strconv.FormatInt(sale.ID, 10),
		Meta: map[string]any{
			"reference":      sale.Reference,
			"branch_id":      sale.BranchID,
			"supplied_total": sale.SuppliedTotal.StringFixed(2),
			"derived_total":  sale.DerivedTotal.StringFixed(2),
		},
	})
	for _, lotID := range materialized {
		s.record(ctx, shared.AuditLog{
			Action:   shared.AuditActionLotMaterialized,
			Entity:   "inventory_lots",
			EntityID: strconv.FormatInt(lotID, 10),
			Meta:     map[string]any{"sale_id": sale.ID},
		})
	}
	return sale, nil
}

// ReverseSale undoes a sale: every allocated unit returns to its pool, lot
// counters move back, and lines, lot links and header are deleted together.
func (s *Service) ReverseSale(ctx context.Context, saleID int64) (domain.Sale, error) {
	var sale domain.Sale
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		sale, err = tx.GetSaleForUpdate(ctx, saleID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrSaleNotFound, saleID)
		}
		if err != nil {
			return fmt.Errorf("load sale: %w", err)
		}
		for i, line := range sale.Lines {
			if line.UnitID == nil {
				continue
			}
			if _, err := s.engine.Release(ctx, tx, *line.UnitID); err != nil {
				return &LineError{Index: i, Err: err}
			}
		}
		if err := tx.DeleteSale(ctx, saleID); err != nil {
			return fmt.Errorf("delete sale: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logger.InfoContext(ctx, "sale reversed",
		slog.Int64("sale_id", sale.ID),
		slog.String("reference", sale.Reference),
		slog.Int("lines", len(sale.Lines)))
	s.record(ctx, shared.AuditLog{
		Action:   shared.AuditActionSaleReversed,
		Entity:   "sales",
		EntityID: strconv.FormatInt(sale.ID, 10),
		Meta:     map[string]any{"reference": sale.Reference},
	})
	return sale, nil
}

// GetSale loads a committed sale with its lines and lot links.
func (s *Service) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	sale, err := s.store.GetSale(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Sale{}, fmt.Errorf("%w: %d", ErrSaleNotFound, id)
	}
	return sale, err
}

// resolveLines maps every line to a catalog item before any write happens.
func (s *Service) resolveLines(ctx context.Context, lines []LineRequest) ([]domain.Item, error) {
	items := make([]domain.Item, len(lines))
	for i, line := range lines {
		match, err := s.catalog.ResolveItem(ctx, s.store, line.Brand, line.ModelText)
		if err != nil {
			return nil, &LineError{Index: i, Err: err}
		}
		items[i] = match.Item
	}
	return items, nil
}

func (s *Service) lock(ctx context.Context, keys []string) (func(), error) {
	if s.locker == nil || len(keys) == 0 {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("acquire sale locks: %w", err)
	}
	return release, nil
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	log.Actor = "system"
	log.At = s.now()
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", log.Action), slog.Any("error", err))
	}
}

// ValidationError carries per-field messages and matches ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+" "+msg)
	}
	sort.Strings(parts)
	return fmt.Sprintf("%v: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
