package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rkulkarni/tradecore/internal/domain"
)

// pendingOrder is an accepted-but-unfilled paper order waiting for the next
// bar to resolve against (§4.12 clock-driven matching rule).
type pendingOrder struct {
	order domain.Order
}

// paperPosition is one token's running paper book.
type paperPosition struct {
	netQty      int64
	avgPrice    float64
	realizedPnl float64
}

// Paper is an in-memory broker simulator: MKT fills at the next bar's
// open, LIMIT BUY fills if the bar's low touches the limit (at
// min(limit, open)), LIMIT SELL is symmetric on the bar's high. Grounded
// on chidi150c-coinbase/broker_paper.go's single-mutex in-memory fill
// style, generalized from a quote-converter into a bar-driven matcher.
type Paper struct {
	mu        sync.Mutex
	pending   map[int64][]pendingOrder // keyed by token
	positions map[int64]*paperPosition
	// OnFill is invoked synchronously whenever a pending order resolves;
	// callers typically bridge this into the order event bus.
	OnFill func(domain.OrderUpdate)
}

// NewPaper builds a Paper broker.
func NewPaper() *Paper {
	return &Paper{
		pending:   make(map[int64][]pendingOrder),
		positions: make(map[int64]*paperPosition),
	}
}

// Login is a no-op for the paper broker.
func (p *Paper) Login(ctx context.Context) error { return nil }

// PlaceOrder optimistically accepts the order and queues it for
// resolution against the next bar close (§4.11 step 4c: optimistic
// COMPLETE-on-acceptance, true fill status arrives asynchronously).
func (p *Paper) PlaceOrder(ctx context.Context, req domain.Order) (domain.OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req.InternalID == "" {
		req.InternalID = uuid.New().String()
	}
	exchangeID := "PAPER-" + uuid.New().String()
	p.pending[req.Token] = append(p.pending[req.Token], pendingOrder{order: req})

	return domain.OrderResponse{OrderID: exchangeID, Status: domain.StatusComplete}, nil
}

// CancelOrder removes a resting paper order if it hasn't matched yet.
func (p *Paper) CancelOrder(ctx context.Context, internalID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for token, orders := range p.pending {
		for i, o := range orders {
			if o.order.InternalID == internalID {
				p.pending[token] = append(orders[:i], orders[i+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("%w: paper order %s not found", domain.ErrOrderRejected, internalID)
}

// ModifyOrder updates a resting paper order's price/quantity in place.
func (p *Paper) ModifyOrder(ctx context.Context, internalID string, price float64, quantity int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for token, orders := range p.pending {
		for i, o := range orders {
			if o.order.InternalID == internalID {
				orders[i].order.Price = price
				orders[i].order.Quantity = quantity
				p.pending[token] = orders
				return nil
			}
		}
	}
	return fmt.Errorf("%w: paper order %s not found", domain.ErrOrderRejected, internalID)
}

// GetPositions reports the paper book as broker-sourced truth.
func (p *Paper) GetPositions(ctx context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Position, 0, len(p.positions))
	for token, pos := range p.positions {
		out = append(out, Position{Token: token, NetQty: pos.netQty, AvgPrice: pos.avgPrice, RealizedPnl: pos.realizedPnl})
	}
	return out, nil
}

// GetLimits returns a notional unlimited paper margin.
func (p *Paper) GetLimits(ctx context.Context) (Limits, error) {
	return Limits{AvailableCash: 1e18}, nil
}

// OnBarClose resolves every pending order for bar.Token against the bar
// just closed (§4.12). Must be called from the same goroutine sequence
// that drives the candle aggregator to preserve per-token ordering.
func (p *Paper) OnBarClose(bar domain.Bar) {
	p.mu.Lock()
	orders := p.pending[bar.Token]
	p.pending[bar.Token] = nil
	p.mu.Unlock()

	for _, po := range orders {
		p.resolve(po.order, bar)
	}
}

func (p *Paper) resolve(order domain.Order, bar domain.Bar) {
	fillPrice, filled := matchFill(order, bar)
	if !filled {
		p.mu.Lock()
		p.pending[order.Token] = append(p.pending[order.Token], pendingOrder{order: order})
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	pos, ok := p.positions[order.Token]
	if !ok {
		pos = &paperPosition{}
		p.positions[order.Token] = pos
	}
	applyFill(pos, order.Side, order.Quantity, fillPrice)
	p.mu.Unlock()

	if p.OnFill != nil {
		p.OnFill(domain.OrderUpdate{
			InternalID: order.InternalID,
			Token:      order.Token,
			Side:       order.Side,
			Status:     domain.StatusComplete,
			FilledQty:  order.Quantity,
			FillPrice:  fillPrice,
			ReceivedAt: time.Now(),
		})
	}
}

// matchFill implements the clock-driven matching rule: MKT always fills at
// the bar's open; LIMIT BUY fills if the bar's low reaches the limit, at
// min(limit, open); LIMIT SELL is the mirror image on the bar's high.
func matchFill(order domain.Order, bar domain.Bar) (price float64, filled bool) {
	if order.Type == domain.OrderMarket {
		return bar.Open, true
	}

	if order.Side == domain.SideBuy {
		if bar.Low <= order.Price {
			return min(order.Price, bar.Open), true
		}
		return 0, false
	}

	if bar.High >= order.Price {
		return max(order.Price, bar.Open), true
	}
	return 0, false
}

// applyFill updates a paper position's net quantity, average price, and
// realized pnl for one fill.
func applyFill(pos *paperPosition, side domain.Side, qty int64, price float64) {
	signed := qty
	if side == domain.SideSell {
		signed = -qty
	}

	switch {
	case pos.netQty == 0:
		pos.netQty = signed
		pos.avgPrice = price
	case sameSign(pos.netQty, signed):
		totalCost := pos.avgPrice*float64(abs(pos.netQty)) + price*float64(abs(signed))
		pos.netQty += signed
		pos.avgPrice = totalCost / float64(abs(pos.netQty))
	default:
		closing := min64(abs(pos.netQty), abs(signed))
		pnlPerUnit := price - pos.avgPrice
		if pos.netQty < 0 {
			pnlPerUnit = pos.avgPrice - price
		}
		pos.realizedPnl += pnlPerUnit * float64(closing)
		pos.netQty += signed
		if pos.netQty == 0 {
			pos.avgPrice = 0
		}
	}
}

func sameSign(a, b int64) bool { return (a > 0 && b > 0) || (a < 0 && b < 0) }
func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
