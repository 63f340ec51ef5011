package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/densitybot/internal/crypto"
	"github.com/alanyoungcy/densitybot/internal/domain"
	"github.com/alanyoungcy/densitybot/internal/retry"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewRESTClient(RESTConfig{BaseURL: srv.URL}, &crypto.HMACAuth{Key: "k", Secret: "s"})
}

func writeResult(w http.ResponseWriter, result any) {
	raw, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(apiResponse{RetCode: 0, RetMsg: "OK", Result: raw})
}

func TestGetBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/account/wallet-balance", r.URL.Path)
		assert.Equal(t, "UNIFIED", r.URL.Query().Get("accountType"))
		assert.Equal(t, "k", r.Header.Get("X-BAPI-API-KEY"))

		// The signature covers the exact query string that was sent.
		want := crypto.Sign("s", r.Header.Get("X-BAPI-TIMESTAMP")+"k"+r.Header.Get("X-BAPI-RECV-WINDOW")+r.URL.RawQuery)
		assert.Equal(t, want, r.Header.Get("X-BAPI-SIGN"))

		_, _ = io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"list":[{"accountType":"UNIFIED","coin":[{"coin":"USDT","walletBalance":"1234.5678"}]}]}}`)
	})

	bal, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1234.5678, bal, 1e-9)
}

func TestFetchOpenPositions_FiltersFlatAndPaginates(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("cursor") == "" {
			writeResult(w, positionListResult{
				List: []APIPosition{
					{Symbol: "BTCUSDT", Side: "Buy", Size: "0.5", AvgPrice: "60000"},
					{Symbol: "XRPUSDT", Side: "", Size: "0", AvgPrice: "0"},
				},
				NextPageCursor: "page2",
			})
			return
		}
		writeResult(w, positionListResult{
			List: []APIPosition{{Symbol: "ETHUSDT", Side: "Sell", Size: "2", AvgPrice: "3000"}},
		})
	})

	got, err := c.FetchOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []domain.ExchangePosition{
		{Symbol: "BTCUSDT", Side: domain.OrderSideBuy, Size: 0.5, AvgPrice: 60000},
		{Symbol: "ETHUSDT", Side: domain.OrderSideSell, Size: 2, AvgPrice: 3000},
	}, got)
}

func TestClosePosition_SendsReduceOnlyMarket(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v5/order/create", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Sell", body["side"])
		assert.Equal(t, "Market", body["orderType"])
		assert.Equal(t, "0.5", body["qty"])
		assert.Equal(t, true, body["reduceOnly"])
		writeResult(w, map[string]string{"orderId": "1"})
	})
	require.NoError(t, c.ClosePosition(context.Background(), "BTCUSDT", 0.5, domain.OrderSideSell))
}

func TestRetCodeClassification(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		permanent bool
		is        error
	}{
		{"rate limit is retryable", 10006, false, domain.ErrRateLimited},
		{"bad signature is permanent", 10004, true, domain.ErrUnauthorized},
		{"other codes are permanent", 110017, true, domain.ErrExchange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(apiResponse{RetCode: tt.code, RetMsg: "nope"})
			})
			err := c.ClosePosition(context.Background(), "BTCUSDT", 1, domain.OrderSideBuy)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.is)
			assert.Equal(t, tt.permanent, retry.IsPermanent(err))

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.code, apiErr.Code)
		})
	}
}

func TestModifyStopLoss_NotModifiedIsSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/position/trading-stop", r.URL.Path)
		_ = json.NewEncoder(w).Encode(apiResponse{RetCode: retCodeNotModified, RetMsg: "not modified"})
	})
	assert.NoError(t, c.ModifyStopLoss(context.Background(), "BTCUSDT", 100))
}

func TestHTTPStatusErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	_, err := c.GetBalance(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.True(t, retry.IsPermanent(err))

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})
	_, err = c.GetBalance(context.Background())
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err))
}

type countingLimiter struct {
	keys []string
	err  error
}

func (l *countingLimiter) Wait(_ context.Context, key string) error {
	l.keys = append(l.keys, key)
	return l.err
}

func TestLimiter_GatesEveryRequest(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeResult(w, map[string]any{})
	})

	lim := &countingLimiter{}
	c.SetLimiter(lim)
	require.NoError(t, c.ModifyStopLoss(context.Background(), "BTCUSDT", 60000))
	assert.Equal(t, []string{"bybit:rest"}, lim.keys)

	lim.err = context.DeadlineExceeded
	err := c.ModifyStopLoss(context.Background(), "BTCUSDT", 60000)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), hits.Load(), "a refused wait must not reach the exchange")
}
