package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rkulkarni/tradecore/internal/domain"
	"github.com/rkulkarni/tradecore/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCore struct {
	startCfg     domain.EngineConfig
	startErr     error
	stopped      bool
	squaredOff   bool
	health       domain.HealthSnapshot
	status       []domain.StrategySnapshot
	signalSymbol string
	signalSide   domain.Side
	signalPrice  float64
	signalQty    int64
	signalErr    error
}

func (f *fakeCore) ConfigureAndStart(ctx context.Context, cfg domain.EngineConfig, formulaFor func(string, map[string]float64) strategy.Formula) error {
	f.startCfg = cfg
	return f.startErr
}
func (f *fakeCore) Stop()                             { f.stopped = true }
func (f *fakeCore) PanicSquareOff(ctx context.Context) { f.squaredOff = true }
func (f *fakeCore) Health() domain.HealthSnapshot      { return f.health }
func (f *fakeCore) Status() []domain.StrategySnapshot  { return f.status }
func (f *fakeCore) ExternalSignal(symbol string, side domain.Side, price float64, qty int64) error {
	f.signalSymbol, f.signalSide, f.signalPrice, f.signalQty = symbol, side, price, qty
	return f.signalErr
}

func noopFormulaFor(string, map[string]float64) strategy.Formula { return strategy.NewEMACross(4, 8, 0.01) }

func TestHealthzReturnsOK(t *testing.T) {
	s := New(":0", &fakeCore{}, "secret", 0, 0, noopFormulaFor)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestHandleStartConfiguresEngineFromRequestBody(t *testing.T) {
	core := &fakeCore{}
	s := New(":0", core, "secret", 0, 0, noopFormulaFor)

	body := `{"capital":100000,"leverage":5,"strategyName":"ema","symbols":["NIFTY"],"maxConcurrentTrades":2}`
	req := httptest.NewRequest(http.MethodPost, "/start", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100000.0, core.startCfg.Capital)
	assert.Equal(t, []string{"NIFTY"}, core.startCfg.Symbols)
	assert.Equal(t, 2, core.startCfg.MaxConcurrentTrades)
}

func TestHandleStartSurfacesConfigurationError(t *testing.T) {
	core := &fakeCore{startErr: domain.ErrConfiguration}
	s := New(":0", core, "secret", 0, 0, noopFormulaFor)

	req := httptest.NewRequest(http.MethodPost, "/start", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleStopCallsCoreStop(t *testing.T) {
	core := &fakeCore{}
	s := New(":0", core, "secret", 0, 0, noopFormulaFor)

	req := httptest.NewRequest(http.MethodPost, "/stop", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, core.stopped)
}

func TestHandleSquareOffCallsPanicSquareOff(t *testing.T) {
	core := &fakeCore{}
	s := New(":0", core, "secret", 0, 0, noopFormulaFor)

	req := httptest.NewRequest(http.MethodPost, "/square-off", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, core.squaredOff)
}

func TestHandleHealthReturnsJSONSnapshot(t *testing.T) {
	core := &fakeCore{health: domain.HealthSnapshot{EngineRunning: true, Mode: domain.ModePaper}}
	s := New(":0", core, "secret", 0, 0, noopFormulaFor)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.HealthSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.EngineRunning)
	assert.Equal(t, domain.ModePaper, got.Mode)
}

func TestHandleStatusReturnsJSONSnapshots(t *testing.T) {
	core := &fakeCore{status: []domain.StrategySnapshot{{Symbol: "NIFTY", Position: 50}}}
	s := New(":0", core, "secret", 0, 0, noopFormulaFor)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []domain.StrategySnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "NIFTY", got[0].Symbol)
}

func TestHandleWebhookRejectsWrongPassphrase(t *testing.T) {
	core := &fakeCore{}
	s := New(":0", core, "secret", 0, 0, noopFormulaFor)

	body := `{"passphrase":"wrong","symbol":"NIFTY","action":"BUY","price":100}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, core.signalSymbol, "unauthorized request must never reach the core")
}

func TestHandleWebhookAcceptsCorrectPassphraseAndDispatchesSignal(t *testing.T) {
	core := &fakeCore{}
	s := New(":0", core, "secret", 0, 0, noopFormulaFor)

	body := `{"passphrase":"secret","symbol":"NIFTY","action":"SELL","price":101.5,"qty":25}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NIFTY", core.signalSymbol)
	assert.Equal(t, domain.SideSell, core.signalSide)
	assert.Equal(t, 101.5, core.signalPrice)
	assert.Equal(t, int64(25), core.signalQty)
}

func TestHandleWebhookRejectsUnknownAction(t *testing.T) {
	core := &fakeCore{}
	s := New(":0", core, "secret", 0, 0, noopFormulaFor)

	body := `{"passphrase":"secret","symbol":"NIFTY","action":"HOLD","price":100}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWebhookEnforcesRateLimit(t *testing.T) {
	core := &fakeCore{}
	s := New(":0", core, "secret", 1, 1, noopFormulaFor)

	body := `{"passphrase":"secret","symbol":"NIFTY","action":"BUY","price":100}`

	req1 := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	rec1 := httptest.NewRecorder()
	s.mux.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	rec2 := httptest.NewRecorder()
	s.mux.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code, "burst of 1 must reject the immediate second request")
}
