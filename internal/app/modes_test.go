package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/densitybot/internal/config"
	"github.com/alanyoungcy/densitybot/internal/domain"
)

type stubExchange struct {
	fetches int
}

func (s *stubExchange) GetBalance(context.Context) (float64, error) { return 1000, nil }

func (s *stubExchange) FetchOpenPositions(context.Context) ([]domain.ExchangePosition, error) {
	s.fetches++
	return nil, nil
}

func (s *stubExchange) ClosePosition(context.Context, string, float64, domain.OrderSide) error {
	return nil
}

type stubProbe struct {
	err   error
	pings int
}

func (p *stubProbe) Ping(context.Context) error {
	p.pings++
	return p.err
}

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Defaults()
	return New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNewGovernor_StoreOutageDisablesTrading(t *testing.T) {
	a := testApp(t)
	exchange := &stubExchange{}
	store := &stubProbe{err: errors.New("connection refused")}
	gov := a.newGovernor(exchange, exchange, store, nil)
	ctx := context.Background()

	limit := a.cfg.Safety.MaxConsecutiveFailures
	for i := 1; i < limit; i++ {
		ok, err := gov.CheckSafetyConditions(ctx)
		require.NoError(t, err)
		assert.True(t, ok, "tick %d", i)
	}
	ok, err := gov.CheckSafetyConditions(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, gov.IsTradingEnabled())
	assert.False(t, gov.IsEmergencyShutdown())
	assert.Equal(t, limit, store.pings)
	assert.Zero(t, exchange.fetches)
}

func TestNewGovernor_HealthyStoreKeepsTrading(t *testing.T) {
	a := testApp(t)
	exchange := &stubExchange{}
	store := &stubProbe{}
	gov := a.newGovernor(exchange, exchange, store, nil)

	for i := 0; i < 5; i++ {
		ok, err := gov.CheckSafetyConditions(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 5, store.pings)
}
