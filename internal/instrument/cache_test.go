package instrument

import (
	"testing"

	"github.com/rkulkarni/tradecore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAndLookup(t *testing.T) {
	c := New()
	c.Load([]domain.Instrument{
		{Token: 256265, TradingSymbol: "NIFTY24AUGFUT", LotSize: 50, TickSize: 0.05, FreezeQty: 1800},
	})

	ins, err := c.ByToken(256265)
	require.NoError(t, err)
	assert.Equal(t, "NIFTY24AUGFUT", ins.TradingSymbol)

	ins, err = c.BySymbol("NIFTY24AUGFUT")
	require.NoError(t, err)
	assert.Equal(t, int64(256265), ins.Token)

	assert.Equal(t, "NIFTY24AUGFUT", c.Symbol(256265))
	assert.Equal(t, int64(50), c.LotSize(256265))
	assert.Equal(t, int64(1800), c.FreezeQty(256265))
}

func TestUnknownTokenFallsBackToDefaults(t *testing.T) {
	c := New()
	_, err := c.ByToken(999)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	assert.Equal(t, "", c.Symbol(999))
	assert.Equal(t, int64(1), c.LotSize(999))
	assert.Equal(t, int64(domain.DefaultFreezeQty), c.FreezeQty(999))
}

func TestLoadReplacesPreviousContentsAtomically(t *testing.T) {
	c := New()
	c.Load([]domain.Instrument{{Token: 1, TradingSymbol: "A", LotSize: 1, FreezeQty: 1800}})
	c.Load([]domain.Instrument{{Token: 2, TradingSymbol: "B", LotSize: 1, FreezeQty: 1800}})

	_, err := c.ByToken(1)
	assert.Error(t, err, "a fresh Load must replace, not merge, prior contents")

	ins, err := c.ByToken(2)
	require.NoError(t, err)
	assert.Equal(t, "B", ins.TradingSymbol)
}
