package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/rkulkarni/tradecore/internal/domain"
)

const (
	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Credentials are the boot-time secrets read from configuration (§6).
type Credentials struct {
	ConsumerKey string
	UCC         string
	Mobile      string
	PIN         string
	TOTPSeed    string
}

// Live wraps a vendor HTTP API with retry/backoff, grounded on
// AlejandroRuiz99-polybot/internal/adapters/polymarket/client.go's
// doWithRetry. Every exported method must only be invoked through a
// ThreadOffload pool; none of them are safe to call on a hot path goroutine.
type Live struct {
	http    *http.Client
	baseURL string
	creds   Credentials
	token   string
}

// NewLive builds a Live broker adapter against baseURL.
func NewLive(baseURL string, creds Credentials) *Live {
	return &Live{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		creds:   creds,
	}
}

// Login performs two-factor authentication: a time-based OTP derived from
// the shared seed plus the numeric PIN (§4.12).
func (l *Live) Login(ctx context.Context) error {
	otp, err := generateTOTP(l.creds.TOTPSeed, time.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAuthFailure, err)
	}

	var out struct {
		Stat     string `json:"stat"`
		Token    string `json:"susertoken"`
		ErrorMsg string `json:"emsg"`
	}
	body := map[string]string{
		"uid":    l.creds.UCC,
		"pwd":    l.creds.PIN,
		"factor2": otp,
		"apkversion": "1.0",
	}
	if err := l.post(ctx, "/QuickAuth", body, &out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAuthFailure, err)
	}
	if out.Stat != "Ok" {
		return fmt.Errorf("%w: %s", domain.ErrAuthFailure, out.ErrorMsg)
	}
	l.token = out.Token
	return nil
}

// PlaceOrder submits one order. Success is recognized by stat=="Ok" or the
// presence of an exchange order number, per the wire convention in §6;
// this is optimistic acceptance, not a guarantee of fill.
func (l *Live) PlaceOrder(ctx context.Context, req domain.Order) (domain.OrderResponse, error) {
	wire := map[string]string{
		"trantype":  sideWire(req.Side),
		"prctyp":    typeWire(req.Type),
		"prd":       req.Product,
		"ret":       "DAY",
		"qty":       fmt.Sprintf("%d", req.Quantity),
		"prc":       fmt.Sprintf("%.2f", req.Price),
		"remarks":   req.InternalID,
	}

	var out struct {
		Stat    string `json:"stat"`
		OrderNo string `json:"nOrdNo"`
		ErrMsg  string `json:"emsg"`
	}
	if err := l.post(ctx, "/PlaceOrder", wire, &out); err != nil {
		return domain.OrderResponse{}, fmt.Errorf("%w: %v", domain.ErrTransientBroker, err)
	}

	if out.Stat != "Ok" && out.OrderNo == "" {
		return domain.OrderResponse{Status: domain.StatusRejected}, fmt.Errorf("%w: %s", domain.ErrOrderRejected, out.ErrMsg)
	}

	return domain.OrderResponse{OrderID: out.OrderNo, Status: domain.StatusComplete}, nil
}

// CancelOrder cancels a resting order by its broker-visible id.
func (l *Live) CancelOrder(ctx context.Context, internalID string) error {
	var out struct {
		Stat   string `json:"stat"`
		ErrMsg string `json:"emsg"`
	}
	if err := l.post(ctx, "/CancelOrder", map[string]string{"norenordno": internalID}, &out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientBroker, err)
	}
	if out.Stat != "Ok" {
		return fmt.Errorf("%w: %s", domain.ErrOrderRejected, out.ErrMsg)
	}
	return nil
}

// ModifyOrder changes price/quantity on a resting order.
func (l *Live) ModifyOrder(ctx context.Context, internalID string, price float64, quantity int64) error {
	var out struct {
		Stat   string `json:"stat"`
		ErrMsg string `json:"emsg"`
	}
	body := map[string]string{
		"norenordno": internalID,
		"prc":        fmt.Sprintf("%.2f", price),
		"qty":        fmt.Sprintf("%d", quantity),
	}
	if err := l.post(ctx, "/ModifyOrder", body, &out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientBroker, err)
	}
	if out.Stat != "Ok" {
		return fmt.Errorf("%w: %s", domain.ErrOrderRejected, out.ErrMsg)
	}
	return nil
}

// GetPositions fetches broker-side truth for RiskSentinel.SyncState.
func (l *Live) GetPositions(ctx context.Context) ([]Position, error) {
	var out []struct {
		Token       int64   `json:"token,string"`
		NetQty      int64   `json:"netqty,string"`
		AvgPrice    float64 `json:"avgprc,string"`
		RealizedPnl float64 `json:"rpnl,string"`
		BuyAmount   float64 `json:"daybuyamt,string"`
		SellAmount  float64 `json:"daysellamt,string"`
	}
	if err := l.post(ctx, "/PositionBook", map[string]string{}, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientBroker, err)
	}

	positions := make([]Position, 0, len(out))
	for _, row := range out {
		positions = append(positions, Position{
			Token: row.Token, NetQty: row.NetQty, AvgPrice: row.AvgPrice,
			RealizedPnl: row.RealizedPnl, BuyAmount: row.BuyAmount, SellAmount: row.SellAmount,
		})
	}
	return positions, nil
}

// GetLimits fetches available margin.
func (l *Live) GetLimits(ctx context.Context) (Limits, error) {
	var out struct {
		Cash   float64 `json:"cash,string"`
		Margin float64 `json:"marginused,string"`
	}
	if err := l.post(ctx, "/Limits", map[string]string{}, &out); err != nil {
		return Limits{}, fmt.Errorf("%w: %v", domain.ErrTransientBroker, err)
	}
	return Limits{AvailableCash: out.Cash, UsedMargin: out.Margin}, nil
}

func (l *Live) post(ctx context.Context, path string, body, out any) error {
	return l.doWithRetry(ctx, func() (*http.Response, error) {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if l.token != "" {
			req.Header.Set("Authorization", l.creds.ConsumerKey+":"+l.token)
		}
		return l.http.Do(req)
	}, out)
}

func (l *Live) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := fn()
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			l.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("broker: rate limited", "attempt", attempt+1)
			l.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			l.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(b))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

func (l *Live) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

func sideWire(s domain.Side) string {
	if s == domain.SideBuy {
		return "B"
	}
	return "S"
}

func typeWire(t domain.OrderType) string {
	if t == domain.OrderLimit {
		return "L"
	}
	return "MKT"
}
