package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motodesk/backoffice/internal/domain"
	"github.com/motodesk/backoffice/internal/sales"
	"github.com/motodesk/backoffice/internal/store/memory"
	"github.com/motodesk/backoffice/jobs"
)

func newMemoryServices(t *testing.T) *Services {
	t.Helper()
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ALLOCATION_MODE", "backfill")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	svc, err := BuildServices(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func TestRouterServesSalesAndMetrics(t *testing.T) {
	svc := newMemoryServices(t)
	mem, ok := svc.Store.(*memory.Store)
	require.True(t, ok)
	require.NotNil(t, svc.Allocation)
	assert.Same(t, svc.Engine, svc.Allocation.Engine())
	mem.SeedItem(domain.Item{Brand: "MOTORSTAR", Model: "MONARCH 175", SRP: decimal.NewFromInt(68000)})

	router := NewRouter(RouterParams{
		Config:       svc.Config,
		SalesHandler: sales.NewHandler(nil, svc.Sales),
		JobHandler:   jobs.NewHandler(nil, nil),
		Metrics:      svc.Metrics,
	})

	body := `{"branch_id":3,"date_sold":"2022-08-01T00:00:00Z","lines":[{"model":"TM175","engine_no":"E-OLD-1","unit_price":"65000"}]}`
	req := httptest.NewRequest(http.MethodPost, "/sales", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	var sale domain.Sale
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sale))
	require.Len(t, sale.Links, 1)
	assert.Len(t, mem.Lots(), 1)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `backoffice_allocations_total{mode="backfill",path="materialized"} 1`)
	assert.Contains(t, rec.Body.String(), `backoffice_http_requests_total{code="201",route="/sales"} 1`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterHealthAndReadiness(t *testing.T) {
	ready := errors.New("postgres down")
	router := NewRouter(RouterParams{Ready: func(context.Context) error { return ready }})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready = nil
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMemoryServicesAreReady(t *testing.T) {
	svc := newMemoryServices(t)
	require.NoError(t, svc.Ping(context.Background()))
	assert.Nil(t, svc.Redis)
	assert.NotNil(t, svc.Importer)
	assert.NotNil(t, svc.Auditor)

	router := NewRouter(RouterParams{Config: svc.Config, Ready: svc.Ping})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
