// Package broker implements the polymorphic BrokerAdapter (§4.12): a Live
// adapter over HTTP with TOTP-based two-factor login, and a Paper adapter
// with a clock-driven matching rule. Market-data streaming is handled by
// internal/feed rather than this package; only the trading capability set
// (login, place/cancel/modify, positions, limits) lives here — see
// DESIGN.md for why the capability set was split this way.
package broker

import (
	"context"

	"github.com/rkulkarni/tradecore/internal/domain"
)

// Adapter is the trading capability every broker implementation exposes.
type Adapter interface {
	Login(ctx context.Context) error
	PlaceOrder(ctx context.Context, req domain.Order) (domain.OrderResponse, error)
	CancelOrder(ctx context.Context, internalID string) error
	ModifyOrder(ctx context.Context, internalID string, price float64, quantity int64) error
	GetPositions(ctx context.Context) ([]Position, error)
	GetLimits(ctx context.Context) (Limits, error)
}

// Position is one broker-reported net position.
type Position struct {
	Token       int64
	NetQty      int64
	AvgPrice    float64
	RealizedPnl float64
	BuyAmount   float64
	SellAmount  float64
}

// Limits is the broker-reported available margin.
type Limits struct {
	AvailableCash float64
	UsedMargin    float64
}
