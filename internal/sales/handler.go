package sales

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/motodesk/backoffice/internal/allocation"
	"github.com/motodesk/backoffice/internal/inventory"
	"github.com/motodesk/backoffice/internal/platform/cache"
	"github.com/motodesk/backoffice/internal/platform/httpx"
)

// Handler exposes sale recording over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sales", h.recordSale)
	r.Get("/sales/{id}", h.getSale)
	r.Post("/sales/{id}/reverse", h.reverseSale)
}

func (h *Handler) recordSale(w http.ResponseWriter, r *http.Request) {
	var req RecordSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	sale, err := h.service.RecordSale(r.Context(), req, Options{})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sale, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) reverseSale(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sale, err := h.service.ReverseSale(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "sale id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr    *ValidationError
		lineErr *LineError
	)
	var fields map[string]string
	if errors.As(err, &lineErr) {
		fields = map[string]string{fmt.Sprintf("lines[%d]", lineErr.Index): lineErr.Err.Error()}
	}
	switch {
	case errors.As(err, &verr):
		httpx.ProblemFields(w, http.StatusBadRequest, "Validation Failed", "", verr.Fields)
	case errors.Is(err, ErrSaleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "sale not found")
	case errors.Is(err, allocation.ErrItemNotFound):
		httpx.ProblemFields(w, http.StatusUnprocessableEntity, "Item Not Found", "a sale line does not match any catalog item", fields)
	case errors.Is(err, allocation.ErrOutOfStock):
		httpx.ProblemFields(w, http.StatusConflict, "Out Of Stock", "no sellable unit for a sale line", fields)
	case errors.Is(err, allocation.ErrIdentityConflict):
		httpx.ProblemFields(w, http.StatusConflict, "Identity Conflict", "engine or chassis number belongs to another unit", fields)
	case errors.Is(err, cache.ErrLockBusy):
		httpx.Problem(w, http.StatusConflict, "Busy", "another sale is using the same unit; retry shortly")
	default:
		msg := "sales request failed"
		if errors.Is(err, inventory.ErrInvariantViolation) {
			msg = "inventory invariant violated"
		}
		h.logger.ErrorContext(r.Context(), msg, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
