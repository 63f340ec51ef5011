package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

func storedParams(symbol string, abs float64) domain.CoinParameters {
	p := domain.DefaultCoinParameters(symbol)
	p.DensityThresholdAbs = abs
	return p
}

func TestParamsService_DefaultsBeforeFirstRefresh(t *testing.T) {
	s := NewParamsService(&fakeParamsStore{}, nil, []string{"btcusdt", " "}, domain.DefaultCoinParameters(""), 0, discardLogger())

	p, ok := s.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", p.Symbol)
	assert.Equal(t, 50000.0, p.DensityThresholdAbs)

	_, ok = s.Get("ETHUSDT")
	assert.False(t, ok)
}

func TestParamsService_RefreshFromStoreMirrorsToCache(t *testing.T) {
	store := &fakeParamsStore{params: []domain.CoinParameters{storedParams("BTCUSDT", 1000)}}
	cache := newFakeParamsCache()
	s := NewParamsService(store, cache, []string{"BTCUSDT", "ETHUSDT"}, domain.DefaultCoinParameters(""), 0, discardLogger())

	require.NoError(t, s.Refresh(context.Background()))

	p, _ := s.Get("BTCUSDT")
	assert.Equal(t, 1000.0, p.DensityThresholdAbs)
	eth, ok := s.Get("ETHUSDT")
	require.True(t, ok, "configured symbols missing from the store get defaults")
	assert.Equal(t, 50000.0, eth.DensityThresholdAbs)

	mirrored, err := cache.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, mirrored.DensityThresholdAbs)
}

func TestParamsService_FallsBackToCache(t *testing.T) {
	disabled := storedParams("XRPUSDT", 1)
	disabled.Enabled = false
	cache := newFakeParamsCache(storedParams("BTCUSDT", 2000), disabled)
	s := NewParamsService(&fakeParamsStore{err: errDown}, cache, nil, domain.DefaultCoinParameters(""), 0, discardLogger())

	require.NoError(t, s.Refresh(context.Background()))
	p, ok := s.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 2000.0, p.DensityThresholdAbs)
	_, ok = s.Get("XRPUSDT")
	assert.False(t, ok, "disabled cached parameters are not served")
}

func TestParamsService_BothSourcesDownKeepsCurrentSet(t *testing.T) {
	store := &fakeParamsStore{params: []domain.CoinParameters{storedParams("BTCUSDT", 3000)}}
	cache := newFakeParamsCache()
	s := NewParamsService(store, cache, nil, domain.DefaultCoinParameters(""), 0, discardLogger())
	require.NoError(t, s.Refresh(context.Background()))

	store.err = errDown
	cache.err = errDown
	err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errDown)

	p, ok := s.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 3000.0, p.DensityThresholdAbs)
	assert.Len(t, s.All(), 1)
}
