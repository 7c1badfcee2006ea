package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_rebalancer/internal/domain"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSQLiteStore_CycleLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.StartCycle(ctx, domain.CycleRecord{ID: "c1", StartedAt: started, Status: domain.CycleRunning, Nominal: decimal.Zero}))

	c, err := store.GetCycle(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, domain.CycleRunning, c.Status)
	assert.Nil(t, c.FinishedAt)

	finished := started.Add(90 * time.Second)
	require.NoError(t, store.FinishCycle(ctx, domain.CycleRecord{
		ID: "c1", StartedAt: started, FinishedAt: &finished, Status: domain.CycleCompleted,
		Nominal: d("10234.123456789"), TradeCount: 3, Message: "ok",
	}))

	c, err = store.GetCycle(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CycleCompleted, c.Status)
	assert.True(t, c.Nominal.Equal(d("10234.123456789")))
	assert.Equal(t, 3, c.TradeCount)
	require.NotNil(t, c.FinishedAt)
	assert.True(t, c.FinishedAt.Equal(finished))

	missing, err := store.GetCycle(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteStore_FinishWithoutStart(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.FinishCycle(ctx, domain.CycleRecord{ID: "c2", StartedAt: now, FinishedAt: &now, Status: domain.CycleFailed, Nominal: decimal.Zero, Message: "boom"}))
	c, err := store.GetCycle(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, "boom", c.Message)
}

func TestSQLiteStore_ListCyclesNewestFirst(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.StartCycle(ctx, domain.CycleRecord{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour), Status: domain.CycleRunning, Nominal: decimal.Zero}))
	}

	cycles, err := store.ListCycles(ctx, 2)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, "c", cycles[0].ID)
	assert.Equal(t, "b", cycles[1].ID)
}

func TestSQLiteStore_Trades(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	trades := []domain.Trade{
		{Symbol: "BTC", AssetType: domain.AssetTypeFuture, Amount: d("-0.123"), LimitPrice: decimal.NewNullDecimal(d("64000.5")), PostOnly: true},
		{Symbol: "ETH/USDC", AssetType: domain.AssetTypeSpot, Amount: d("2")},
	}
	require.NoError(t, store.SaveTrades(ctx, "c1", trades))
	require.NoError(t, store.SaveTrades(ctx, "other", trades[:1]))

	got, err := store.ListTrades(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "BTC", got[0].Symbol)
	assert.Equal(t, domain.AssetTypeFuture, got[0].AssetType)
	assert.True(t, got[0].Amount.Equal(d("-0.123")))
	assert.True(t, got[0].LimitPrice.Decimal.Equal(d("64000.5")))
	assert.True(t, got[0].PostOnly)
	assert.Equal(t, domain.AssetTypeSpot, got[1].AssetType)
	assert.False(t, got[1].LimitPrice.Valid)
}

func TestSQLiteStore_OrderUpdates(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	order := domain.Order{
		ID: "77", Symbol: "BTC", AssetType: domain.AssetTypeFuture, Side: domain.SideSell,
		Status: domain.OrderStatusOpen, Amount: d("1"), Filled: d("0.25"), LimitPrice: decimal.NewNullDecimal(d("100.1")),
	}
	require.NoError(t, store.SaveOrderUpdate(ctx, "c1", domain.OrderUpdate{Symbol: "BTC", Type: domain.OrderUpdatePartiallyFilled, Order: &order, Time: time.Now()}))
	require.NoError(t, store.SaveOrderUpdate(ctx, "c1", domain.OrderUpdate{Symbol: "SOL", Type: domain.OrderUpdateError, Message: "rejected"}))

	got, err := store.ListOrderUpdates(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "77", got[0].OrderID)
	assert.Equal(t, domain.OrderUpdatePartiallyFilled, got[0].Type)
	assert.Equal(t, domain.SideSell, got[0].Side)
	assert.True(t, got[0].Filled.Equal(d("0.25")))
	assert.True(t, got[0].LimitPrice.Decimal.Equal(d("100.1")))

	assert.Equal(t, "", got[1].OrderID)
	assert.Equal(t, "rejected", got[1].Message)
	assert.True(t, got[1].Amount.IsZero())
	assert.False(t, got[1].LimitPrice.Valid)
}
