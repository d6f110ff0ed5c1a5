package storage

import (
	"context"
	"testing"
	"time"

	"github.com/rkulkarni/tradecore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndLoadInstruments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	instruments := []domain.Instrument{
		{Token: 256265, TradingSymbol: "NIFTY24AUGFUT", LotSize: 50, TickSize: 0.05, FreezeQty: 1800},
		{Token: 738561, TradingSymbol: "RELIANCE-EQ", LotSize: 1, TickSize: 0.05, FreezeQty: 1800},
	}
	require.NoError(t, s.UpsertInstruments(ctx, instruments))

	loaded, err := s.LoadInstruments(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)

	updated := []domain.Instrument{{Token: 256265, TradingSymbol: "NIFTY24SEPFUT", LotSize: 50, TickSize: 0.05, FreezeQty: 1800}}
	require.NoError(t, s.UpsertInstruments(ctx, updated))

	loaded, err = s.LoadInstruments(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2, "upsert by token must not duplicate rows")
	for _, in := range loaded {
		if in.Token == 256265 {
			assert.Equal(t, "NIFTY24SEPFUT", in.TradingSymbol)
		}
	}
}

func TestSaveOrderUpsertsByInternalID(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	order := domain.Order{InternalID: "abc", Token: 1, Side: domain.SideBuy, Type: domain.OrderMarket, Quantity: 50, Status: domain.StatusPendingBroker, CreatedAt: now, UpdatedAt: now}
	s.SaveOrder(order)

	order.Status = domain.StatusComplete
	order.ExchangeID = "EX123"
	order.FilledQty = 50
	order.UpdatedAt = now.Add(time.Second)
	s.SaveOrder(order)

	var count int
	var status string
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*), status FROM order_ledger WHERE internal_id = ? GROUP BY status`, "abc").Scan(&count, &status))
	assert.Equal(t, 1, count)
	assert.Equal(t, "COMPLETE", status)
}

func TestSaveAndLoadEngineConfig(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LoadEngineConfig(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "no config persisted yet")

	cfg := domain.EngineConfig{Capital: 100000, Leverage: 2, StrategyName: "emacross", Symbols: []string{"NIFTY"}, MaxDailyLoss: 2000, MaxConcurrentTrades: 3}
	require.NoError(t, s.SaveEngineConfig(ctx, cfg))

	loaded, ok, err := s.LoadEngineConfig(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cfg.Capital, loaded.Capital)
	assert.Equal(t, cfg.StrategyName, loaded.StrategyName)
	assert.Equal(t, cfg.Symbols, loaded.Symbols)
}

func TestSaveAndLoadStrategyParams(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	params := map[string]float64{"fastPeriod": 4, "slowPeriod": 8}
	require.NoError(t, s.SaveStrategyParams(ctx, params))

	loaded, ok, err := s.LoadStrategyParams(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, params, loaded)
}
