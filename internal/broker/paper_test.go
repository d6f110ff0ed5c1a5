package broker

import (
	"context"
	"testing"

	"github.com/rkulkarni/tradecore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperMarketOrderFillsAtNextBarOpen(t *testing.T) {
	p := NewPaper()
	var fills []domain.OrderUpdate
	p.OnFill = func(u domain.OrderUpdate) { fills = append(fills, u) }

	resp, err := p.PlaceOrder(context.Background(), domain.Order{InternalID: "a", Token: 1, Side: domain.SideBuy, Type: domain.OrderMarket, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, resp.Status, "paper acceptance is optimistic; the real fill follows OnBarClose")
	assert.Empty(t, fills, "no fill until a bar closes")

	p.OnBarClose(domain.Bar{Token: 1, Open: 101, High: 105, Low: 99, Close: 103})

	require.Len(t, fills, 1)
	assert.Equal(t, 101.0, fills[0].FillPrice)
	assert.Equal(t, int64(10), fills[0].FilledQty)
}

func TestPaperLimitBuyFillsOnlyWhenBarLowTouchesLimit(t *testing.T) {
	p := NewPaper()
	var fills []domain.OrderUpdate
	p.OnFill = func(u domain.OrderUpdate) { fills = append(fills, u) }

	_, err := p.PlaceOrder(context.Background(), domain.Order{InternalID: "a", Token: 1, Side: domain.SideBuy, Type: domain.OrderLimit, Price: 98, Quantity: 10})
	require.NoError(t, err)

	p.OnBarClose(domain.Bar{Token: 1, Open: 100, High: 102, Low: 99, Close: 101})
	assert.Empty(t, fills, "bar low never reached the limit, order should still be pending")

	p.OnBarClose(domain.Bar{Token: 1, Open: 100, High: 101, Low: 97, Close: 98})
	require.Len(t, fills, 1)
	assert.Equal(t, 98.0, fills[0].FillPrice, "fills at min(limit, open)")
}

func TestPaperLimitSellFillsOnlyWhenBarHighTouchesLimit(t *testing.T) {
	p := NewPaper()
	var fills []domain.OrderUpdate
	p.OnFill = func(u domain.OrderUpdate) { fills = append(fills, u) }

	_, err := p.PlaceOrder(context.Background(), domain.Order{InternalID: "a", Token: 1, Side: domain.SideSell, Type: domain.OrderLimit, Price: 105, Quantity: 10})
	require.NoError(t, err)

	p.OnBarClose(domain.Bar{Token: 1, Open: 100, High: 103, Low: 98, Close: 101})
	assert.Empty(t, fills)

	p.OnBarClose(domain.Bar{Token: 1, Open: 100, High: 106, Low: 99, Close: 104})
	require.Len(t, fills, 1)
	assert.Equal(t, 105.0, fills[0].FillPrice, "fills at max(limit, open)")
}

func TestPaperPositionAverageAndRealizedPnl(t *testing.T) {
	p := NewPaper()
	_, err := p.PlaceOrder(context.Background(), domain.Order{InternalID: "buy1", Token: 1, Side: domain.SideBuy, Type: domain.OrderMarket, Quantity: 10})
	require.NoError(t, err)
	p.OnBarClose(domain.Bar{Token: 1, Open: 100})

	_, err = p.PlaceOrder(context.Background(), domain.Order{InternalID: "buy2", Token: 1, Side: domain.SideBuy, Type: domain.OrderMarket, Quantity: 10})
	require.NoError(t, err)
	p.OnBarClose(domain.Bar{Token: 1, Open: 110})

	positions, err := p.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(20), positions[0].NetQty)
	assert.Equal(t, 105.0, positions[0].AvgPrice)

	_, err = p.PlaceOrder(context.Background(), domain.Order{InternalID: "sell1", Token: 1, Side: domain.SideSell, Type: domain.OrderMarket, Quantity: 20})
	require.NoError(t, err)
	p.OnBarClose(domain.Bar{Token: 1, Open: 120})

	positions, err = p.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(0), positions[0].NetQty)
	assert.Equal(t, 300.0, positions[0].RealizedPnl, "20 units closed at (120-105) = 15/unit")
}
