package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/adapters/storage"
	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeOrder(id string, created time.Time) domain.TradeOrder {
	return domain.TradeOrder{
		ID:             id,
		SymbolPair:     "WMATIC/USDC",
		Amount:         decimal.NewFromInt(5000),
		BuyVenue:       "sushiswap",
		SellVenue:      "quickswap",
		BuyPrice:       decimal.RequireFromString("0.850"),
		SellPrice:      decimal.RequireFromString("0.855"),
		MinSellPrice:   decimal.RequireFromString("0.850725"),
		ExpectedProfit: decimal.RequireFromString("24.5"),
		Status:         domain.TradePending,
		CreatedAt:      created.UTC().Truncate(time.Millisecond),
	}
}

func TestSQLiteStorage_SaveAndGetOrders(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	now := time.Now()

	done := makeOrder("a", now.Add(-time.Minute))
	done.Status = domain.TradeCompleted
	profit := decimal.RequireFromString("24.123456789")
	done.ActualProfit = &profit
	executed := now.UTC().Truncate(time.Millisecond)
	done.ExecutedAt = &executed
	done.TxReference = "0xfeed"
	done.GasUsed = 150000

	failed := makeOrder("b", now)
	failed.Status = domain.TradeFailed
	failed.FailureReason = "execution timeout"

	require.NoError(t, db.SaveOrder(ctx, done))
	require.NoError(t, db.SaveOrder(ctx, failed))

	orders, err := db.GetOrders(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, orders, 2)

	// más recientes primero
	assert.Equal(t, "b", orders[0].ID)
	assert.Equal(t, domain.TradeFailed, orders[0].Status)
	assert.Nil(t, orders[0].ActualProfit)
	assert.Nil(t, orders[0].ExecutedAt)
	assert.Equal(t, "execution timeout", orders[0].FailureReason)

	got := orders[1]
	assert.Equal(t, "24.123456789", got.ActualProfit.String())
	assert.Equal(t, "0.850725", got.MinSellPrice.String())
	assert.Equal(t, uint64(150000), got.GasUsed)
	assert.True(t, executed.Equal(*got.ExecutedAt))
	assert.True(t, done.CreatedAt.Equal(got.CreatedAt))
}

func TestSQLiteStorage_SaveOrderUpserts(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	o := makeOrder("a", time.Now())
	require.NoError(t, db.SaveOrder(ctx, o))
	o.Status = domain.TradeCancelled
	require.NoError(t, db.SaveOrder(ctx, o))

	orders, err := db.GetOrders(ctx, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.TradeCancelled, orders[0].Status)
}

func TestSQLiteStorage_GetOrders_EmptyRange(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	orders, err := db.GetOrders(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestSQLiteStorage_Alerts(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, db.SaveAlert(ctx, domain.Alert{
		Severity: domain.SeverityWarning, Kind: domain.AlertActionFailed,
		Worker: "feed", Message: "restart failed twice", At: now.Add(-time.Minute),
	}))
	require.NoError(t, db.SaveAlert(ctx, domain.Alert{
		Severity: domain.SeverityCritical, Kind: domain.AlertRestartBudgetExhausted,
		Worker: "risk", Message: "budget exhausted", At: now,
	}))

	alerts, err := db.GetAlerts(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "risk", alerts[0].Worker)
	assert.Equal(t, domain.AlertRestartBudgetExhausted, alerts[0].Kind)
	assert.Equal(t, domain.SeverityWarning, alerts[1].Severity)
}
