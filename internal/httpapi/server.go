// Package httpapi is the thin control-surface HTTP adapter (§6): a flat
// net/http mux exposing ConfigureAndStart/Stop/PanicSquareOff/Health/Status
// and a passphrase-authenticated webhook endpoint. Grounded on
// cmd/scanner/main.go's flag/signal wiring and chidi150c-coinbase/main.go's
// single-mux-plus-/healthz convention; this transport layer is ambient
// plumbing, not part of the core's test surface, so coverage here is light.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/rkulkarni/tradecore/internal/domain"
	"github.com/rkulkarni/tradecore/internal/strategy"
)

// Core is the subset of *engine.Engine this adapter calls into. strategy
// is a leaf package with no dependency back on httpapi, so this stays a
// one-way import rather than a duplicated interface shape.
type Core interface {
	ConfigureAndStart(ctx context.Context, cfg domain.EngineConfig, formulaFor func(symbol string, params map[string]float64) strategy.Formula) error
	Stop()
	PanicSquareOff(ctx context.Context)
	Health() domain.HealthSnapshot
	Status() []domain.StrategySnapshot
	ExternalSignal(symbol string, side domain.Side, price float64, qty int64) error
}

// Server is the HTTP control surface. One passphrase gates WebhookSignal;
// the rest of the surface is assumed to sit behind a private network or a
// reverse-proxy auth layer, matching the teacher's bare-mux convention.
type Server struct {
	core           Core
	webhookPass    string
	webhookLimiter *rate.Limiter
	formulaFor     func(symbol string, params map[string]float64) strategy.Formula
	mux            *http.ServeMux
	srv            *http.Server
}

// New builds a Server bound to addr. webhookRatePerSec/burst throttle
// WebhookSignal independently of the core's own RateLimiter, which exists
// to protect the broker, not this process's HTTP surface.
func New(addr string, core Core, webhookPassphrase string, webhookRatePerSec float64, webhookBurst int, formulaFor func(symbol string, params map[string]float64) strategy.Formula) *Server {
	if webhookRatePerSec <= 0 {
		webhookRatePerSec = 5
	}
	if webhookBurst <= 0 {
		webhookBurst = 10
	}

	s := &Server{
		core:           core,
		webhookPass:    webhookPassphrase,
		webhookLimiter: rate.NewLimiter(rate.Limit(webhookRatePerSec), webhookBurst),
		formulaFor:     formulaFor,
		mux:            http.NewServeMux(),
	}
	s.routes()
	s.srv = &http.Server{Addr: addr, Handler: s.mux}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/start", s.handleStart)
	s.mux.HandleFunc("/stop", s.handleStop)
	s.mux.HandleFunc("/square-off", s.handleSquareOff)
	s.mux.HandleFunc("/webhook", s.handleWebhook)
}

// ListenAndServe starts the server; callers run this in a goroutine and
// call Shutdown on the returned error path or process signal.
func (s *Server) ListenAndServe() error {
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Health())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Status())
}

type startRequest struct {
	Capital             float64            `json:"capital"`
	Leverage            float64            `json:"leverage"`
	StrategyName        string             `json:"strategyName"`
	Symbols             []string           `json:"symbols"`
	StrategyParams      map[string]float64 `json:"strategyParams"`
	MaxDailyLoss        float64            `json:"maxDailyLoss"`
	MaxConcurrentTrades int                `json:"maxConcurrentTrades"`
	RiskPerTradeFrac    float64            `json:"riskPerTradeFrac"`
	SizingMethod        string             `json:"sizingMethod"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: decode start request: %w", err))
		return
	}

	cfg := domain.EngineConfig{
		Capital:             req.Capital,
		Leverage:            req.Leverage,
		StrategyName:        req.StrategyName,
		Symbols:             req.Symbols,
		StrategyParams:      req.StrategyParams,
		MaxDailyLoss:        req.MaxDailyLoss,
		MaxConcurrentTrades: req.MaxConcurrentTrades,
		RiskPerTradeFrac:    req.RiskPerTradeFrac,
		SizingMethod:        req.SizingMethod,
		UpdatedAt:           time.Now(),
	}

	if err := s.core.ConfigureAndStart(r.Context(), cfg, s.formulaFor); err != nil {
		slog.Error("httpapi: configure and start failed", "error", err)
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	s.core.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSquareOff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	s.core.PanicSquareOff(ctx)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type webhookRequest struct {
	Passphrase string  `json:"passphrase"`
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	Price      float64 `json:"price"`
	Qty        int64   `json:"qty,omitempty"`
}

// handleWebhook is the only authenticated, externally-triggerable entry
// point (§6): a shared passphrase, own rate limiter (independent of the
// broker-facing RateLimiter), and a strict BUY/SELL action vocabulary.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if !s.webhookLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, fmt.Errorf("httpapi: webhook rate limit exceeded"))
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: decode webhook request: %w", err))
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Passphrase), []byte(s.webhookPass)) != 1 {
		writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
		return
	}

	var side domain.Side
	switch req.Action {
	case "BUY":
		side = domain.SideBuy
	case "SELL":
		side = domain.SideSell
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: unknown webhook action %q", req.Action))
		return
	}

	if err := s.core.ExternalSignal(req.Symbol, side, req.Price, req.Qty); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
