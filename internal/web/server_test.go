package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_rebalancer/internal/domain"
	"github.com/vitos/crypto_rebalancer/internal/infrastructure/storage"
	"github.com/vitos/crypto_rebalancer/internal/usecase"
	"go.uber.org/zap"
)

type fakeRebalancer struct {
	running atomic.Bool
	runs    chan context.Context
	last    *usecase.CycleReport
}

func (f *fakeRebalancer) Run(ctx context.Context) (usecase.CycleReport, error) {
	f.runs <- ctx
	return usecase.CycleReport{CycleID: "triggered", Status: domain.CycleCompleted}, nil
}

func (f *fakeRebalancer) Running() bool {
	return f.running.Load()
}

func (f *fakeRebalancer) LastReport() (usecase.CycleReport, bool) {
	if f.last == nil {
		return usecase.CycleReport{}, false
	}
	return *f.last, true
}

func newTestServer(t *testing.T) (*Server, *fakeRebalancer, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rb := &fakeRebalancer{runs: make(chan context.Context, 1)}
	srv := NewServer(0, nil, rb, store, usecase.NewCycleAnalyzer(store, zap.NewNop()), zap.NewNop())
	return srv, rb, store
}

func seedCycle(t *testing.T, store *storage.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 0, 5, 0, 0, time.UTC)
	require.NoError(t, store.StartCycle(ctx, domain.CycleRecord{ID: "c1", StartedAt: started, Status: domain.CycleRunning}))

	trade := domain.Trade{
		Symbol:     "ETH",
		AssetType:  domain.AssetTypeFuture,
		Amount:     decimal.RequireFromString("2"),
		LimitPrice: decimal.NewNullDecimal(decimal.RequireFromString("2500")),
	}
	require.NoError(t, store.SaveTrades(ctx, "c1", []domain.Trade{trade}))

	order := domain.Order{ID: "7", Symbol: "ETH", AssetType: domain.AssetTypeFuture, Side: domain.SideBuy,
		Status: domain.OrderStatusFilled, Amount: decimal.RequireFromString("2"), Filled: decimal.RequireFromString("2"),
		LimitPrice: trade.LimitPrice}
	require.NoError(t, store.SaveOrderUpdate(ctx, "c1", domain.OrderUpdate{Symbol: "ETH", Type: domain.OrderUpdateFilled, Order: &order, Time: started}))

	finished := started.Add(time.Minute)
	require.NoError(t, store.FinishCycle(ctx, domain.CycleRecord{ID: "c1", StartedAt: started, FinishedAt: &finished,
		Status: domain.CycleCompleted, Nominal: decimal.NewFromInt(1000), TradeCount: 1}))
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Status(t *testing.T) {
	srv, rb, _ := newTestServer(t)

	rec := get(t, srv, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"running":false}`, rec.Body.String())

	rb.running.Store(true)
	rb.last = &usecase.CycleReport{CycleID: "c0", Status: domain.CycleSkipped, Err: domain.ErrOpenOrders}
	rec = get(t, srv, "/status")
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Running)
	require.NotNil(t, resp.LastCycle)
	assert.Equal(t, "c0", resp.LastCycle.CycleID)
	assert.Equal(t, domain.ErrOpenOrders.Error(), resp.LastError)
}

func TestServer_Cycles(t *testing.T) {
	srv, _, store := newTestServer(t)

	rec := get(t, srv, "/api/cycles")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	seedCycle(t, store)

	rec = get(t, srv, "/api/cycles?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	var cycles []domain.CycleRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cycles))
	require.Len(t, cycles, 1)
	assert.Equal(t, domain.CycleCompleted, cycles[0].Status)

	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/cycles?limit=abc").Code)

	rec = get(t, srv, "/api/cycles/c1")
	require.Equal(t, http.StatusOK, rec.Code)
	var cycle domain.CycleRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cycle))
	assert.Equal(t, 1, cycle.TradeCount)
	assert.True(t, cycle.Nominal.Equal(decimal.NewFromInt(1000)))

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/cycles/missing").Code)

	rec = get(t, srv, "/api/cycles/c1/trades")
	require.Equal(t, http.StatusOK, rec.Code)
	var trades []domain.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, "ETH", trades[0].Symbol)

	rec = get(t, srv, "/api/cycles/c1/updates")
	require.Equal(t, http.StatusOK, rec.Code)
	var updates []domain.OrderUpdateRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updates))
	require.Len(t, updates, 1)
	assert.Equal(t, domain.OrderUpdateFilled, updates[0].Type)

	rec = get(t, srv, "/api/cycles/c1/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary usecase.CycleSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.True(t, summary.FillRatio.Equal(decimal.NewFromInt(1)), summary.FillRatio.String())

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/cycles/missing/summary").Code)
}

func TestServer_TriggerRebalance(t *testing.T) {
	srv, rb, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rebalance", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var runCtx context.Context
	select {
	case runCtx = <-rb.runs:
	case <-time.After(2 * time.Second):
		t.Fatal("rebalance not triggered")
	}
	// The cycle keeps running after the request ends, until shutdown.
	assert.NoError(t, runCtx.Err())
	require.NoError(t, srv.Shutdown(context.Background()))
	assert.ErrorIs(t, runCtx.Err(), context.Canceled)
}

func TestServer_TriggerWhileRunning(t *testing.T) {
	srv, rb, _ := newTestServer(t)
	rb.running.Store(true)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rebalance", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, rb.runs)
}

func TestServer_CORS(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
