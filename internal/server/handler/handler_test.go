package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/alertpool/internal/accounting"
	"github.com/quantdesk/alertpool/internal/crypto"
	"github.com/quantdesk/alertpool/internal/domain"
	"github.com/quantdesk/alertpool/internal/service"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubPoolService struct {
	pool    domain.CapitalPool
	summary domain.PoolSummary
	err     error
}

func (s *stubPoolService) CreatePool(_ context.Context, name string, initialCapital float64) (domain.CapitalPool, error) {
	if s.err != nil {
		return domain.CapitalPool{}, s.err
	}
	p := s.pool
	p.Name = name
	p.InitialCapital = initialCapital
	return p, nil
}

func (s *stubPoolService) ListPools(context.Context) ([]domain.CapitalPool, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []domain.CapitalPool{s.pool}, nil
}

func (s *stubPoolService) GetSummary(_ context.Context, poolID string) (domain.PoolSummary, error) {
	if s.err != nil {
		return domain.PoolSummary{}, s.err
	}
	sum := s.summary
	sum.Pool.ID = poolID
	return sum, nil
}

type stubTradingService struct {
	allocResult accounting.AllocationResult
	saleResult  accounting.SaleResult
	position    domain.Position
	refreshed   int
	err         error

	gotAlloc accounting.AllocationRequest
	gotSale  service.SaleRequest
}

func (s *stubTradingService) Allocate(_ context.Context, _ string, req accounting.AllocationRequest) (accounting.AllocationResult, error) {
	s.gotAlloc = req
	return s.allocResult, s.err
}

func (s *stubTradingService) Sell(_ context.Context, _ string, req service.SaleRequest) (accounting.SaleResult, error) {
	s.gotSale = req
	return s.saleResult, s.err
}

func (s *stubTradingService) DiscardSale(context.Context, string, string, string) (domain.Position, error) {
	return s.position, s.err
}

func (s *stubTradingService) Refresh(context.Context, string) (int, error) {
	return s.refreshed, s.err
}

type stubIntake struct {
	got domain.AlertEvent
	err error
}

func (s *stubIntake) HandleEvent(_ context.Context, event domain.AlertEvent) error {
	s.got = event
	return s.err
}

func newMux(pools *stubPoolService, trading *stubTradingService) *http.ServeMux {
	mux := http.NewServeMux()
	ph := NewPoolHandler(pools, testLogger)
	th := NewTradingHandler(trading, testLogger)
	mux.HandleFunc("POST /api/pools", ph.CreatePool)
	mux.HandleFunc("GET /api/pools", ph.ListPools)
	mux.HandleFunc("GET /api/pools/{id}", ph.GetPool)
	mux.HandleFunc("POST /api/pools/{id}/allocations", th.Allocate)
	mux.HandleFunc("POST /api/pools/{id}/sales", th.Sell)
	mux.HandleFunc("DELETE /api/pools/{id}/sales/{saleId}", th.DiscardSale)
	mux.HandleFunc("POST /api/pools/{id}/refresh", th.Refresh)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreatePool(t *testing.T) {
	pools := &stubPoolService{pool: domain.CapitalPool{ID: "p1"}}
	mux := newMux(pools, &stubTradingService{})

	rec := doJSON(t, mux, http.MethodPost, "/api/pools", map[string]any{
		"name":            "growth",
		"initial_capital": 5000.0,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var got domain.CapitalPool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "growth", got.Name)
	assert.Equal(t, 5000.0, got.InitialCapital)
}

func TestCreatePoolMissingName(t *testing.T) {
	mux := newMux(&stubPoolService{}, &stubTradingService{})

	rec := doJSON(t, mux, http.MethodPost, "/api/pools", map[string]any{
		"initial_capital": 100.0,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePoolRejectsUnknownFields(t *testing.T) {
	mux := newMux(&stubPoolService{}, &stubTradingService{})

	req := httptest.NewRequest(http.MethodPost, "/api/pools",
		strings.NewReader(`{"name":"x","initial_capital":1,"bogus":true}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPoolNotFound(t *testing.T) {
	pools := &stubPoolService{err: domain.ErrNotFound}
	mux := newMux(pools, &stubTradingService{})

	rec := doJSON(t, mux, http.MethodGet, "/api/pools/missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAllocate(t *testing.T) {
	trading := &stubTradingService{
		allocResult: accounting.AllocationResult{
			Position:     domain.Position{AlertID: "a1", Symbol: "AAPL", Shares: 10},
			SharesBought: 10,
			ActualAmount: 1000,
			Percent:      10,
		},
	}
	mux := newMux(&stubPoolService{}, trading)

	rec := doJSON(t, mux, http.MethodPost, "/api/pools/p1/allocations", map[string]any{
		"alert_id":    "a1",
		"symbol":      "AAPL",
		"percent":     10.0,
		"entry_price": 100.0,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "a1", trading.gotAlloc.AlertID)
	assert.Equal(t, 100.0, trading.gotAlloc.EntryPrice)

	var got allocationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 10.0, got.SharesBought)
}

func TestAllocateDomainErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"insufficient capital", domain.ErrInsufficientCapital, http.StatusUnprocessableEntity},
		{"pool missing", domain.ErrNotFound, http.StatusNotFound},
		{"duplicate", domain.ErrAlreadyExists, http.StatusConflict},
		{"busy", domain.ErrLockHeld, http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trading := &stubTradingService{err: tc.err}
			mux := newMux(&stubPoolService{}, trading)

			rec := doJSON(t, mux, http.MethodPost, "/api/pools/p1/allocations", map[string]any{
				"alert_id":    "a1",
				"symbol":      "AAPL",
				"percent":     10.0,
				"entry_price": 100.0,
			})

			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestAllocateLockHeldSetsRetryAfter(t *testing.T) {
	trading := &stubTradingService{err: domain.ErrLockHeld}
	mux := newMux(&stubPoolService{}, trading)

	rec := doJSON(t, mux, http.MethodPost, "/api/pools/p1/allocations", map[string]any{
		"alert_id":    "a1",
		"symbol":      "AAPL",
		"percent":     10.0,
		"entry_price": 100.0,
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestSellDefaultsExecutedBy(t *testing.T) {
	trading := &stubTradingService{
		saleResult: accounting.SaleResult{
			Record:          domain.SaleRecord{ID: "s1", SharesSold: 5},
			RealizedProfit:  25,
			RemainingShares: 5,
		},
	}
	mux := newMux(&stubPoolService{}, trading)

	rec := doJSON(t, mux, http.MethodPost, "/api/pools/p1/sales", map[string]any{
		"alert_id": "a1",
		"shares":   5.0,
		"price":    12.0,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "api", trading.gotSale.ExecutedBy)

	var got saleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 25.0, got.RealizedProfit)
}

func TestSellInsufficientShares(t *testing.T) {
	trading := &stubTradingService{err: domain.ErrInsufficientShares}
	mux := newMux(&stubPoolService{}, trading)

	rec := doJSON(t, mux, http.MethodPost, "/api/pools/p1/sales", map[string]any{
		"alert_id": "a1",
		"shares":   500.0,
		"price":    12.0,
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDiscardSaleRequiresAlertID(t *testing.T) {
	mux := newMux(&stubPoolService{}, &stubTradingService{})

	rec := doJSON(t, mux, http.MethodDelete, "/api/pools/p1/sales/s1", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiscardSale(t *testing.T) {
	trading := &stubTradingService{position: domain.Position{AlertID: "a1", Shares: 10}}
	mux := newMux(&stubPoolService{}, trading)

	rec := doJSON(t, mux, http.MethodDelete, "/api/pools/p1/sales/s1?alert_id=a1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 10.0, got.Shares)
}

func TestRefresh(t *testing.T) {
	trading := &stubTradingService{refreshed: 3}
	mux := newMux(&stubPoolService{}, trading)

	rec := doJSON(t, mux, http.MethodPost, "/api/pools/p1/refresh", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3.0, got["updated"])
}

func TestWebhookVerifiesSignature(t *testing.T) {
	auth := &crypto.WebhookAuth{Secret: "shh", MaxSkew: 5 * time.Minute}
	intake := &stubIntake{}
	h := NewWebhookHandler(intake, auth, testLogger)

	event := domain.AlertEvent{
		Type:       domain.AlertOpened,
		AlertID:    "a1",
		PoolID:     "p1",
		Symbol:     "AAPL",
		EntryPrice: 100,
		OccurredAt: time.Now().UTC(),
	}
	body, err := json.Marshal(event)
	require.NoError(t, err)

	ts := time.Now().Unix()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/alerts", bytes.NewReader(body))
	req.Header.Set("X-Alert-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Alert-Signature", auth.Sign(ts, body))
	rec := httptest.NewRecorder()

	h.ReceiveAlert(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "a1", intake.got.AlertID)
	assert.Equal(t, domain.AlertOpened, intake.got.Type)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	auth := &crypto.WebhookAuth{Secret: "shh", MaxSkew: 5 * time.Minute}
	intake := &stubIntake{}
	h := NewWebhookHandler(intake, auth, testLogger)

	body := []byte(`{"type":"alert_opened","alert_id":"a1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/alerts", bytes.NewReader(body))
	req.Header.Set("X-Alert-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-Alert-Signature", "bm90LXRoZS1zaWduYXR1cmU=")
	rec := httptest.NewRecorder()

	h.ReceiveAlert(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, intake.got.AlertID)
}

func TestWebhookSkipsVerificationWithoutAuth(t *testing.T) {
	intake := &stubIntake{}
	h := NewWebhookHandler(intake, nil, testLogger)

	body := []byte(`{"type":"alert_closed","alert_id":"a2","pool_id":"p1","exit_price":12}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/alerts", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ReceiveAlert(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, domain.AlertClosed, intake.got.Type)
}

func TestWebhookInvalidEvent(t *testing.T) {
	intake := &stubIntake{err: domain.ErrInvalidRequest}
	h := NewWebhookHandler(intake, nil, testLogger)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/alerts",
		strings.NewReader(`{"type":"alert_exploded","alert_id":"a3"}`))
	rec := httptest.NewRecorder()

	h.ReceiveAlert(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
