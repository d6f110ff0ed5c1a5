// Package execution implements the single order entry point (§4.11):
// pre-trade risk gating, freeze-quantity iceberg slicing, and the
// persist-before-send / update-after-respond ledger discipline. Pipeline
// shape grounded on the placement pipeline in
// AlejandroRuiz99-polybot/internal/application/engine/live/placement.go,
// generalized from a batch opportunity scan into a single synchronous
// entry point per order.
package execution

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rkulkarni/tradecore/internal/domain"
	"github.com/rkulkarni/tradecore/internal/reliability"
)

// IcebergLegDelay is the fixed pause between sequential iceberg legs, to
// stay within per-second exchange order-submission caps (§4.11).
const IcebergLegDelay = 200 * time.Millisecond

// RiskGate is the structural contract internal/risk.Sentinel satisfies.
type RiskGate interface {
	CheckPreTrade() bool
	OnExecutionFailure()
}

// InstrumentInfo resolves a token's freeze quantity.
type InstrumentInfo interface {
	FreezeQty(token int64) int64
}

// Broker is the subset of BrokerAdapter the pipeline needs.
type Broker interface {
	PlaceOrder(ctx context.Context, req domain.Order) (domain.OrderResponse, error)
}

// Ledger persists order rows. Writes are fire-and-forget from the
// pipeline's perspective; Ledger implementations own their own durability.
type Ledger interface {
	SaveOrder(order domain.Order)
}

// Pipeline is the single call site for placing an order.
type Pipeline struct {
	risk    RiskGate
	instr   InstrumentInfo
	broker  Broker
	ledger  Ledger
	limiter *reliability.RateLimiter
	brokerCB *reliability.CircuitBreaker
	offload *reliability.ThreadOffload
}

// New builds an ExecutionPipeline. limiter and brokerCB guard every broker
// call; offload runs each broker RPC off the caller's goroutine.
func New(risk RiskGate, instr InstrumentInfo, broker Broker, ledger Ledger, limiter *reliability.RateLimiter, brokerCB *reliability.CircuitBreaker, offload *reliability.ThreadOffload) *Pipeline {
	return &Pipeline{risk: risk, instr: instr, broker: broker, ledger: ledger, limiter: limiter, brokerCB: brokerCB, offload: offload}
}

// ExecuteOrder is the single entry point (§4.11). isExit bypasses the
// pre-trade risk gate per §4.7: exits must never be blocked by concurrency
// or exposure limits.
func (p *Pipeline) ExecuteOrder(ctx context.Context, symbol string, token int64, side domain.Side, quantity int64, price, stopLoss float64, tag string, isExit bool) (*domain.OrderResponse, error) {
	if !isExit {
		if !p.risk.CheckPreTrade() {
			return nil, nil
		}
	}

	freezeQty := p.instr.FreezeQty(token)
	legs := splitIntoLegs(quantity, freezeQty)

	var childIDs []string
	var filled int64
	var anyFailed bool

	for _, legQty := range legs {
		order := domain.Order{
			InternalID:  uuid.New().String(),
			Token:       token,
			Side:        side,
			Type:        domain.OrderMarket,
			Quantity:    legQty,
			Price:       price,
			Product:     "MIS",
			Status:      domain.StatusPendingBroker,
			StrategyTag: tag,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}

		resp, err := p.sendSingle(ctx, order)
		childIDs = append(childIDs, order.InternalID)
		if err != nil || resp == nil || resp.Status == domain.StatusRejected || resp.Status == domain.StatusFailed {
			if !isExit {
				p.risk.OnExecutionFailure()
			}
			anyFailed = true
			slog.Warn("execution: leg failed, stopping iceberg chain", "symbol", symbol, "token", token, "err", err)
			break
		}

		filled += resp.FilledQty
		if len(legs) > 1 {
			time.Sleep(IcebergLegDelay)
		}
	}

	status := aggregateStatus(filled, quantity, anyFailed)
	return &domain.OrderResponse{
		OrderID:   joinIDs(childIDs),
		Status:    status,
		FilledQty: filled,
	}, nil
}

// sendSingle places one leg: persist PENDING_BROKER, call the broker
// through the rate limiter and circuit breaker via ThreadOffload, then
// update the ledger asynchronously with the outcome (§4.11 step 4).
func (p *Pipeline) sendSingle(ctx context.Context, order domain.Order) (*domain.OrderResponse, error) {
	p.ledger.SaveOrder(order)

	if err := p.limiter.Acquire(ctx); err != nil {
		order.Status = domain.StatusFailed
		order.RejectionReason = err.Error()
		go p.ledger.SaveOrder(order)
		return nil, err
	}

	resp, err := reliability.Call(p.brokerCB, ctx, func(ctx context.Context) (domain.OrderResponse, error) {
		return p.offloadPlace(ctx, order)
	})
	if err != nil {
		order.Status = domain.StatusRejected
		order.RejectionReason = err.Error()
		go p.ledger.SaveOrder(order)
		return nil, err
	}

	// Acceptance counts as a full fill of the leg (optimistic
	// COMPLETE-on-acceptance); the real fill arrives later on the order queue.
	if resp.Status == domain.StatusComplete && resp.FilledQty == 0 {
		resp.FilledQty = order.Quantity
	}

	order.Status = resp.Status
	order.FilledQty = resp.FilledQty
	order.ExchangeID = resp.OrderID
	go p.ledger.SaveOrder(order)

	return &resp, nil
}

func (p *Pipeline) offloadPlace(ctx context.Context, order domain.Order) (domain.OrderResponse, error) {
	return reliability.Submit(p.offload, ctx, func() (domain.OrderResponse, error) {
		return p.broker.PlaceOrder(ctx, order)
	})
}

// splitIntoLegs divides quantity into ceil(quantity/freezeQty) legs of at
// most freezeQty each (§4.11 step 3).
func splitIntoLegs(quantity, freezeQty int64) []int64 {
	if freezeQty <= 0 {
		freezeQty = domain.DefaultFreezeQty
	}
	if quantity <= freezeQty {
		return []int64{quantity}
	}
	var legs []int64
	remaining := quantity
	for remaining > 0 {
		leg := freezeQty
		if remaining < leg {
			leg = remaining
		}
		legs = append(legs, leg)
		remaining -= leg
	}
	return legs
}

// aggregateStatus rolls up iceberg leg outcomes per §4.11: all filled is
// COMPLETE, some filled is PARTIAL, none filled is FAILED.
func aggregateStatus(filled, requested int64, anyFailed bool) domain.OrderStatus {
	switch {
	case filled >= requested && requested > 0:
		return domain.StatusComplete
	case filled > 0:
		return domain.StatusPartial
	case anyFailed:
		return domain.StatusFailed
	default:
		return domain.StatusFailed
	}
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}
