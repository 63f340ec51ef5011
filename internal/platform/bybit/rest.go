// Package bybit is a client for the Bybit v5 REST and public websocket APIs,
// limited to what the bot needs: wallet balance, linear positions, reduce-only
// closes, stop-loss updates and the order-book stream.
package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/densitybot/internal/crypto"
	"github.com/alanyoungcy/densitybot/internal/domain"
	"github.com/alanyoungcy/densitybot/internal/retry"
)

const (
	retCodeOK          = 0
	retCodeRateLimit   = 10006
	retCodeNotModified = 34040

	restLimiterKey = "bybit:rest"
)

// RESTClient talks to the authenticated v5 REST API.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	category   string
	settleCoin string
	limiter    domain.RateLimiter
}

// RESTConfig configures a RESTClient.
type RESTConfig struct {
	BaseURL    string
	Category   string // "linear"
	SettleCoin string // "USDT"
	Timeout    time.Duration
}

// NewRESTClient creates a REST client signing with auth.
func NewRESTClient(cfg RESTConfig, auth *crypto.HMACAuth) *RESTClient {
	if cfg.Category == "" {
		cfg.Category = "linear"
	}
	if cfg.SettleCoin == "" {
		cfg.SettleCoin = "USDT"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &RESTClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		auth:       auth,
		category:   cfg.Category,
		settleCoin: cfg.SettleCoin,
	}
}

// SetLimiter makes every request wait on l first, so replicas sharing one
// API key stay under the exchange's request budget together.
func (c *RESTClient) SetLimiter(l domain.RateLimiter) {
	c.limiter = l
}

// GetBalance returns the settle-coin wallet balance of the unified account.
func (c *RESTClient) GetBalance(ctx context.Context) (float64, error) {
	q := url.Values{}
	q.Set("accountType", "UNIFIED")
	q.Set("coin", c.settleCoin)

	raw, err := c.get(ctx, "/v5/account/wallet-balance", q)
	if err != nil {
		return 0, fmt.Errorf("bybit: get balance: %w", err)
	}

	var res walletBalanceResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return 0, fmt.Errorf("bybit: decode balance: %w", err)
	}
	for _, acct := range res.List {
		for _, coin := range acct.Coin {
			if coin.Coin != c.settleCoin {
				continue
			}
			bal, err := decimal.NewFromString(coin.WalletBalance)
			if err != nil {
				return 0, fmt.Errorf("bybit: parse balance %q: %w", coin.WalletBalance, err)
			}
			return bal.InexactFloat64(), nil
		}
	}
	return 0, fmt.Errorf("bybit: get balance: %s: %w", c.settleCoin, domain.ErrNotFound)
}

// FetchOpenPositions lists every position with a nonzero size, following
// pagination.
func (c *RESTClient) FetchOpenPositions(ctx context.Context) ([]domain.ExchangePosition, error) {
	var out []domain.ExchangePosition
	cursor := ""
	for {
		q := url.Values{}
		q.Set("category", c.category)
		q.Set("settleCoin", c.settleCoin)
		q.Set("limit", "200")
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		raw, err := c.get(ctx, "/v5/position/list", q)
		if err != nil {
			return nil, fmt.Errorf("bybit: fetch positions: %w", err)
		}
		var res positionListResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("bybit: decode positions: %w", err)
		}
		for _, p := range res.List {
			if pos, ok := p.ToDomain(); ok {
				out = append(out, pos)
			}
		}
		if res.NextPageCursor == "" || res.NextPageCursor == cursor {
			return out, nil
		}
		cursor = res.NextPageCursor
	}
}

// ClosePosition sends a reduce-only market order for qty on side.
func (c *RESTClient) ClosePosition(ctx context.Context, symbol string, qty float64, side domain.OrderSide) error {
	body := map[string]any{
		"category":    c.category,
		"symbol":      symbol,
		"side":        string(side),
		"orderType":   "Market",
		"qty":         decimal.NewFromFloat(qty).String(),
		"reduceOnly":  true,
		"timeInForce": "IOC",
	}
	if _, err := c.post(ctx, "/v5/order/create", body); err != nil {
		return fmt.Errorf("bybit: close %s: %w", symbol, err)
	}
	return nil
}

// ModifyStopLoss replaces the position's stop-loss. Setting the value it
// already has is not an error.
func (c *RESTClient) ModifyStopLoss(ctx context.Context, symbol string, stopLoss float64) error {
	body := map[string]any{
		"category":    c.category,
		"symbol":      symbol,
		"stopLoss":    decimal.NewFromFloat(stopLoss).String(),
		"tpslMode":    "Full",
		"positionIdx": 0,
	}
	_, err := c.post(ctx, "/v5/position/trading-stop", body)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == retCodeNotModified {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bybit: modify stop loss %s: %w", symbol, err)
	}
	return nil
}

// Ping checks that the REST API is reachable.
func (c *RESTClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v5/market/time", nil)
	if err != nil {
		return fmt.Errorf("bybit: ping: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bybit: ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if err := checkHTTPStatus(resp.StatusCode, nil); err != nil {
		return fmt.Errorf("bybit: ping: %w", err)
	}
	return nil
}

// APIError is a non-zero retCode.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("retCode %d: %s", e.Code, e.Message)
}

// Unwrap classifies the code so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case retCodeRateLimit:
		return domain.ErrRateLimited
	case 10003, 10004, 10005, 33004:
		return domain.ErrUnauthorized
	default:
		return domain.ErrExchange
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *RESTClient) get(ctx context.Context, path string, q url.Values) (json.RawMessage, error) {
	query := q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req, query)
}

func (c *RESTClient) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, string(jsonBody))
}

// do signs and sends req. Errors that retrying cannot fix are wrapped with
// retry.Permanent.
func (c *RESTClient) do(req *http.Request, payload string) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context(), restLimiterKey); err != nil {
			return nil, err
		}
	}
	if c.auth != nil {
		for k, v := range c.auth.Headers(payload) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	var env apiResponse
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.RetCode != retCodeOK {
		apiErr := &APIError{Code: env.RetCode, Message: env.RetMsg}
		if env.RetCode == retCodeRateLimit {
			return nil, apiErr
		}
		return nil, retry.Permanent(apiErr)
	}
	return env.Result, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return retry.Permanent(fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr))
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

var (
	_ domain.Exchange      = (*RESTClient)(nil)
	_ domain.HealthChecker = (*RESTClient)(nil)
)
