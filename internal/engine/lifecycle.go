// Package engine implements EngineLifecycle (§4.8): boot, configure,
// the three concurrent tick/order/heartbeat loops, square-off, and
// shutdown. Orchestration shape is grounded on the 8-step RunOnce
// pipeline in AlejandroRuiz99-polybot/internal/application/engine/live/engine.go,
// generalized from a single batch cycle into a persistent Run loop with
// three independently-cancellable goroutines.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rkulkarni/tradecore/internal/broker"
	"github.com/rkulkarni/tradecore/internal/clock"
	"github.com/rkulkarni/tradecore/internal/domain"
	"github.com/rkulkarni/tradecore/internal/eventbus"
	"github.com/rkulkarni/tradecore/internal/execution"
	"github.com/rkulkarni/tradecore/internal/feed"
	"github.com/rkulkarni/tradecore/internal/instrument"
	"github.com/rkulkarni/tradecore/internal/reliability"
	"github.com/rkulkarni/tradecore/internal/risk"
	"github.com/rkulkarni/tradecore/internal/sizing"
	"github.com/rkulkarni/tradecore/internal/storage"
	"github.com/rkulkarni/tradecore/internal/strategy"
)

const (
	tickQPollTimeout  = 2 * time.Second
	orderQPollTimeout = 2 * time.Second
	heartbeatInterval = time.Second
	syncStateInterval = 30 * time.Second
	squareOffWait     = 3 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Engine owns every subsystem and drives the three concurrent loops.
type Engine struct {
	mu        sync.RWMutex
	isRunning bool
	mode      domain.Mode
	cfg       domain.EngineConfig

	clock       *clock.Clock
	bus         *eventbus.Bus
	instruments *instrument.Cache
	runner      *strategy.Runner
	sentinel    *risk.Sentinel
	pipeline    *execution.Pipeline
	brokerImpl  broker.Adapter
	store       *storage.Store
	feedClient  *feed.Feed
	offload     *reliability.ThreadOffload
	positionsCB *reliability.CircuitBreaker
	dispatcher  *tokenDispatcher

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps bundles the constructor inputs so New doesn't take a dozen params.
type Deps struct {
	Clock       *clock.Clock
	Store       *storage.Store
	FeedURL     string
	Mode        domain.Mode
	LiveAdapter broker.Adapter
	Logger      *slog.Logger
}

// New wires every subsystem together but does not start anything; call
// Boot then ConfigureAndStart to bring the engine up (§4.8 phases 1-2).
func New(d Deps) *Engine {
	offload := reliability.NewThreadOffload(reliability.DefaultWorkers)
	instruments := instrument.New()
	bus := eventbus.New()

	var adapter broker.Adapter
	var paper *broker.Paper
	if d.Mode == domain.ModeLive {
		adapter = d.LiveAdapter
	} else {
		paper = broker.NewPaper()
		adapter = paper
	}

	e := &Engine{
		mode:        d.Mode,
		clock:       d.Clock,
		bus:         bus,
		instruments: instruments,
		store:       d.Store,
		brokerImpl:  adapter,
		offload:     offload,
		positionsCB: reliability.NewCircuitBreaker(5, 30*time.Second),
		dispatcher:  newTokenDispatcher(),
	}

	orderLimiter := reliability.NewRateLimiter(5, 10)
	brokerCB := reliability.NewCircuitBreaker(3, time.Minute)
	e.sentinel = risk.New(domain.RiskConfig{})
	e.pipeline = execution.New(e.sentinel, instruments, adapter, ledgerAdapter{d.Store}, orderLimiter, brokerCB, offload)

	sizer := sizing.New()
	e.runner = strategy.NewRunner(d.Clock, e.pipeline, sizer, instruments, &capitalSnapshot{sentinel: e.sentinel, engine: e})

	if paper != nil {
		paper.OnFill = func(u domain.OrderUpdate) { _ = e.bus.PublishOrder(context.Background(), u) }
		e.runner.SetBarListener(paper.OnBarClose)
	}

	e.feedClient = feed.New(d.FeedURL, 0, d.Logger)
	return e
}

// ledgerAdapter bridges storage.Store to execution.Ledger's fire-and-forget
// SaveOrder contract.
type ledgerAdapter struct{ store *storage.Store }

func (l ledgerAdapter) SaveOrder(o domain.Order) {
	if l.store != nil {
		l.store.SaveOrder(o)
	}
}

// capitalSnapshot adapts EngineConfig + risk.Sentinel into strategy.RiskLimits.
type capitalSnapshot struct {
	sentinel *risk.Sentinel
	engine   *Engine
}

func (c *capitalSnapshot) Snapshot() (totalCapital, availableCapital float64, maxOpenSlots, openSlots int, riskPerTradeFrac, leverage float64) {
	c.engine.mu.RLock()
	cfg := c.engine.cfg
	c.engine.mu.RUnlock()

	// Sentinel tracks realized pnl and open-trade counts, not deployed
	// capital; available capital is total capital net of the day's
	// realized losses, mirroring how SyncState reconciles GrossPnl from
	// the broker's own position book.
	rs := c.sentinel.Snapshot()
	available := cfg.Capital + rs.NetPnl()
	return cfg.Capital, available, cfg.MaxConcurrentTrades, rs.OpenTrades, cfg.RiskPerTradeFrac, cfg.Leverage
}

// Boot is lifecycle phase 1: start the offload pool (already running),
// load the instrument cache, log into the broker, reconcile risk state,
// and start the market feed loop. MarketFeed ticks are bridged into the
// tick queue; order updates into the order queue.
func (e *Engine) Boot(ctx context.Context) error {
	instruments, err := e.store.LoadInstruments(ctx)
	if err != nil {
		return fmt.Errorf("engine.Boot: load instruments: %w", err)
	}
	e.instruments.Load(instruments)

	if err := e.brokerImpl.Login(ctx); err != nil {
		return fmt.Errorf("engine.Boot: broker login: %w", err)
	}

	if err := e.syncRiskState(ctx); err != nil {
		slog.Warn("engine.Boot: initial risk sync failed", "error", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.feedClient.Run(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("engine: feed loop exited", "error", err)
		}
	}()
	e.wg.Add(1)
	go e.bridgeFeed(runCtx)

	slog.Info("engine: boot complete", "mode", e.mode)
	return nil
}

// bridgeFeed is the single thread-boundary crossing point (§5): it reads
// off the feed's own goroutine and republishes onto the bus, which every
// other loop treats as its sole cross-goroutine channel.
func (e *Engine) bridgeFeed(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-e.feedClient.Ticks():
			e.bus.PublishTick(tick)
		case update := <-e.feedClient.OrderUpdates():
			if err := e.bus.PublishOrder(ctx, update); err != nil {
				slog.Error("engine: order update lost, orderQ publish failed", "internalId", update.InternalID, "error", err)
			}
		}
	}
}

// ConfigureAndStart is lifecycle phase 2+3: validate symbols, persist the
// config, wire up strategies, and start the three concurrent loops.
func (e *Engine) ConfigureAndStart(ctx context.Context, cfg domain.EngineConfig, formulaFor func(symbol string, params map[string]float64) strategy.Formula) error {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return fmt.Errorf("%w: engine already running", domain.ErrConfiguration)
	}

	var tokens []int64
	for _, symbol := range cfg.Symbols {
		ins, err := e.instruments.BySymbol(symbol)
		if err != nil {
			e.mu.Unlock()
			return fmt.Errorf("engine.ConfigureAndStart: %w", err)
		}
		tokens = append(tokens, ins.Token)
	}

	e.cfg = cfg
	e.mu.Unlock()

	e.sentinel.Reconfigure(domain.RiskConfig{
		MaxDailyLoss:        cfg.MaxDailyLoss,
		MaxConcurrentTrades: cfg.MaxConcurrentTrades,
		RiskPerTradeFrac:    cfg.RiskPerTradeFrac,
		Leverage:            cfg.Leverage,
		SizingMethod:        cfg.SizingMethod,
	})

	for i, symbol := range cfg.Symbols {
		f := formulaFor(symbol, cfg.StrategyParams)
		s := strategy.New(tokens[i], cfg.StrategyName, f, 5*time.Minute, cfg.StrategyParams)
		e.runner.Register(s)
	}
	e.feedClient.Subscribe(tokens)

	if err := e.store.SaveEngineConfig(ctx, cfg); err != nil {
		return fmt.Errorf("engine.ConfigureAndStart: persist config: %w", err)
	}

	e.mu.Lock()
	e.isRunning = true
	e.mu.Unlock()

	e.wg.Add(3)
	go e.tickLoop()
	go e.orderLoop()
	go e.heartbeatLoop()

	slog.Info("engine: started", "symbols", cfg.Symbols, "mode", e.mode)
	return nil
}

// Stop flips isRunning to false; it does not auto-square-off (§6).
func (e *Engine) Stop() {
	e.mu.Lock()
	e.isRunning = false
	e.mu.Unlock()
}

func (e *Engine) running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isRunning
}

// tickLoop is §4.8's tick loop: bounded wait on tickQ, then dispatch onto
// the token's own lane so ticks for one token never overtake each other
// (§5) while different tokens still process concurrently.
func (e *Engine) tickLoop() {
	defer e.wg.Done()
	for e.running() {
		tick, ok := e.bus.ReceiveTick(tickQPollTimeout)
		if !ok {
			continue
		}
		e.dispatcher.dispatch(tick.Token, func() { e.runner.OnTick(tick) })
	}
}

// orderLoop mirrors tickLoop against orderQ (§4.8). The arrival timestamp is
// captured before handoff so ordering within a lane reflects receive order.
func (e *Engine) orderLoop() {
	defer e.wg.Done()
	for e.running() {
		update, ok := e.bus.ReceiveOrder(orderQPollTimeout)
		if !ok {
			continue
		}
		receivedAt := time.Now()
		e.dispatcher.dispatch(update.Token, func() { e.runner.OnOrderUpdate(update, receivedAt) })
	}
}

// heartbeatLoop runs at 1 Hz: square-off check, OnTimeUpdate broadcast,
// and a periodic RiskSentinel.SyncState (§4.8).
func (e *Engine) heartbeatLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	lastSync := time.Now()

	for e.running() {
		<-ticker.C
		now := e.clock.Now()

		if e.clock.PastSquareOff(now) {
			e.squareOffAll(context.Background())
			e.Stop()
			return
		}

		e.runner.OnTimeUpdate(now)

		if time.Since(lastSync) >= syncStateInterval {
			if err := e.syncRiskState(context.Background()); err != nil {
				slog.Warn("engine: risk sync failed", "error", err)
			}
			lastSync = now
		}
	}
}

func (e *Engine) syncRiskState(ctx context.Context) error {
	positions, err := reliability.Call(e.positionsCB, ctx, func(ctx context.Context) ([]broker.Position, error) {
		return reliability.Submit(e.offload, ctx, func() ([]broker.Position, error) {
			return e.brokerImpl.GetPositions(ctx)
		})
	})
	if err != nil {
		return fmt.Errorf("engine.syncRiskState: %w", err)
	}

	rows := make([]risk.PositionRow, 0, len(positions))
	for _, p := range positions {
		rows = append(rows, risk.PositionRow{RealizedPnl: p.RealizedPnl, BuyAmount: p.BuyAmount, SellAmount: p.SellAmount, NetQty: p.NetQty})
	}
	e.sentinel.SyncState(rows)
	return nil
}

// squareOffAll is lifecycle phase 4: opposite-side market orders for every
// non-zero strategy position, bypassing the risk gate as an exit.
func (e *Engine) squareOffAll(ctx context.Context) {
	for _, snap := range e.runner.Snapshots() {
		if snap.Qty == 0 {
			continue
		}
		currentSide := domain.SideBuy
		if snap.Qty < 0 {
			currentSide = domain.SideSell
		}
		side := currentSide.Opposite()
		symbol := e.instruments.Symbol(snap.Token)
		qty := snap.Qty
		if qty < 0 {
			qty = -qty
		}
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := e.pipeline.ExecuteOrder(ctx, symbol, snap.Token, side, qty, snap.AvgPrice, 0, "squareoff", true)
		cancel()
		if err != nil {
			slog.Error("engine: square-off leg failed", "token", snap.Token, "error", err)
		}
	}
	time.Sleep(squareOffWait)
}

// PanicSquareOff forces an immediate square-off regardless of the clock.
func (e *Engine) PanicSquareOff(ctx context.Context) {
	e.squareOffAll(ctx)
	e.Stop()
}

// Shutdown is lifecycle phase 5: cancel the feed loop, stop the worker
// pool, and close the database, bounded to shutdownTimeout.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Stop()
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		slog.Error("engine: shutdown timed out, aborting hard")
	}

	// tickLoop/orderLoop have both exited by this point (or been abandoned
	// after the timeout), so no new dispatch call can race with lane closure.
	e.dispatcher.stop()
	e.offload.Stop()
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

// Health reports the engine's current operational snapshot (§6).
func (e *Engine) Health() domain.HealthSnapshot {
	rs := e.sentinel.Snapshot()
	var active []string
	for _, s := range e.runner.Snapshots() {
		if s.IsActive {
			active = append(active, s.Name)
		}
	}
	return domain.HealthSnapshot{
		EngineRunning: e.running(),
		Mode:          e.mode,
		Risk: domain.RiskStatus{
			NetPnl:      rs.NetPnl(),
			OpenTrades:  rs.OpenTrades,
			TradesToday: rs.TradesToday,
			KillSwitch:  rs.KillSwitch,
		},
		Queues:           e.bus.Stats(),
		ActiveStrategies: active,
	}
}

// ExternalSignal delivers a passphrase-authenticated webhook signal to the
// strategy registered for symbol (§6 WebhookSignal). Returns ErrConfiguration
// if the symbol isn't tracked.
func (e *Engine) ExternalSignal(symbol string, side domain.Side, price float64, qty int64) error {
	ins, err := e.instruments.BySymbol(symbol)
	if err != nil {
		return fmt.Errorf("engine.ExternalSignal: %w", err)
	}
	e.runner.OnExternalSignal(ins.Token, side, price, qty)
	return nil
}

// Status returns a per-strategy snapshot (§6).
func (e *Engine) Status() []domain.StrategySnapshot {
	var out []domain.StrategySnapshot
	for _, s := range e.runner.Snapshots() {
		out = append(out, domain.StrategySnapshot{
			Symbol:   e.instruments.Symbol(s.Token),
			Position: s.Qty,
			AvgPrice: s.AvgPrice,
		})
	}
	return out
}
