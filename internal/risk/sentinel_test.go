package risk

import (
	"testing"

	"github.com/rkulkarni/tradecore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cfg() domain.RiskConfig {
	return domain.RiskConfig{MaxDailyLoss: 1000, MaxConcurrentTrades: 2, RiskPerTradeFrac: 0.01, Leverage: 2}
}

func TestCheckPreTradeRejectsWhenAtConcurrencyLimit(t *testing.T) {
	s := New(cfg())
	require.True(t, s.CheckPreTrade())
	require.True(t, s.CheckPreTrade())
	assert.False(t, s.CheckPreTrade(), "third concurrent trade should be denied at MaxConcurrentTrades=2")
	assert.Equal(t, 2, s.Snapshot().OpenTrades)
}

func TestOnExecutionFailureRollsBackReservation(t *testing.T) {
	s := New(cfg())
	require.True(t, s.CheckPreTrade())
	assert.Equal(t, 1, s.Snapshot().OpenTrades)

	s.OnExecutionFailure()
	assert.Equal(t, 0, s.Snapshot().OpenTrades, "rejected order must release its optimistic reservation")
}

func TestKillSwitchLatchesAndSurvivesPnlRecovery(t *testing.T) {
	s := New(cfg())
	require.True(t, s.CheckPreTrade())
	s.OnTradeClose(-1500)

	snap := s.Snapshot()
	assert.True(t, snap.KillSwitch)
	assert.False(t, s.CheckPreTrade(), "kill switch must deny even after the reservation was released")

	// pnl recovering above the threshold must not auto-clear the latch.
	s.OnTradeClose(2000)
	assert.True(t, s.Snapshot().KillSwitch, "kill switch only clears via DailyReset")
	assert.False(t, s.CheckPreTrade())
}

func TestDailyResetClearsLedgerButNotOpenTrades(t *testing.T) {
	s := New(cfg())
	require.True(t, s.CheckPreTrade())
	s.OnTradeClose(-1500)
	require.True(t, s.Snapshot().KillSwitch)

	s.SyncState([]PositionRow{{NetQty: 5}})
	before := s.Snapshot().OpenTrades

	s.DailyReset()
	snap := s.Snapshot()
	assert.False(t, snap.KillSwitch)
	assert.Equal(t, 0.0, snap.GrossPnl)
	assert.Equal(t, 0, snap.TradesToday)
	assert.Equal(t, before, snap.OpenTrades, "DailyReset must not zero open trades, only SyncState re-derives it")
}

func TestSyncStateComputesChargesAndOpenTrades(t *testing.T) {
	s := New(cfg())
	s.SyncState([]PositionRow{
		{RealizedPnl: 100, BuyAmount: 5000, SellAmount: 0, NetQty: 10},
		{RealizedPnl: -20, BuyAmount: 0, SellAmount: 3000, NetQty: 0},
	})
	snap := s.Snapshot()
	assert.Equal(t, 80.0, snap.GrossPnl)
	assert.InDelta(t, 8000*ChargeFactor, snap.EstCharges, 1e-9)
	assert.Equal(t, 1, snap.OpenTrades, "only the row with nonzero NetQty counts as open")
}

func TestCheckPreTradeDeniesOnceNetPnlBreachesDailyLoss(t *testing.T) {
	s := New(cfg())
	s.SyncState([]PositionRow{{RealizedPnl: -1200}})
	assert.False(t, s.CheckPreTrade())
	assert.True(t, s.Snapshot().KillSwitch)
}
