// Package service holds the long-running loops that connect the core
// components to persistence, the exchange and the operator: parameter
// refresh, event recording, position exits, safety checks and archiving.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// DefaultParamsRefresh is how often coin parameters are reloaded.
const DefaultParamsRefresh = 60 * time.Second

// ParamsService serves coin parameters synchronously from memory and
// refreshes them from Postgres, falling back to the Redis mirror and then
// to configured defaults.
type ParamsService struct {
	store    domain.ParamsStore
	cache    domain.ParamsCache
	symbols  []string
	defaults domain.CoinParameters
	interval time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	params map[string]domain.CoinParameters
}

// NewParamsService creates a ParamsService. cache may be nil. Every symbol in
// symbols is served with defaults until a refresh finds stored parameters.
func NewParamsService(
	store domain.ParamsStore,
	cache domain.ParamsCache,
	symbols []string,
	defaults domain.CoinParameters,
	interval time.Duration,
	logger *slog.Logger,
) *ParamsService {
	if interval <= 0 {
		interval = DefaultParamsRefresh
	}
	s := &ParamsService{
		store:    store,
		cache:    cache,
		defaults: defaults,
		interval: interval,
		logger:   logger.With(slog.String("component", "params_service")),
		params:   make(map[string]domain.CoinParameters),
	}
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		s.symbols = append(s.symbols, sym)
		s.params[sym] = s.defaultFor(sym)
	}
	return s
}

func (s *ParamsService) defaultFor(symbol string) domain.CoinParameters {
	p := s.defaults
	p.Symbol = symbol
	return p
}

// Get implements domain.ParamsProvider.
func (s *ParamsService) Get(symbol string) (domain.CoinParameters, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.params[symbol]
	return p, ok
}

// All returns a snapshot of every loaded symbol's parameters.
func (s *ParamsService) All() map[string]domain.CoinParameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.CoinParameters, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

// Refresh reloads parameters. Stored parameters are mirrored to the cache.
// When neither source answers, the current set is kept and the error is
// returned.
func (s *ParamsService) Refresh(ctx context.Context) error {
	loaded, source, err := s.load(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "params refresh failed, keeping current set",
			slog.String("error", err.Error()),
		)
		return err
	}

	next := make(map[string]domain.CoinParameters, len(loaded)+len(s.symbols))
	for _, p := range loaded {
		next[p.Symbol] = p
	}
	defaulted := 0
	for _, sym := range s.symbols {
		if _, ok := next[sym]; !ok {
			next[sym] = s.defaultFor(sym)
			defaulted++
		}
	}

	s.mu.Lock()
	s.params = next
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "params refreshed",
		slog.String("source", source),
		slog.Int("loaded", len(loaded)),
		slog.Int("defaulted", defaulted),
	)
	return nil
}

func (s *ParamsService) load(ctx context.Context) ([]domain.CoinParameters, string, error) {
	stored, storeErr := s.store.ListEnabled(ctx)
	if storeErr == nil {
		s.mirror(ctx, stored)
		return stored, "postgres", nil
	}
	if s.cache == nil {
		return nil, "", fmt.Errorf("service: load params: %w", storeErr)
	}

	s.logger.WarnContext(ctx, "params store unavailable, using cache",
		slog.String("error", storeErr.Error()),
	)
	cached, cacheErr := s.cache.GetAll(ctx)
	if cacheErr != nil {
		return nil, "", fmt.Errorf("service: load params: %w", errors.Join(storeErr, cacheErr))
	}
	enabled := cached[:0]
	for _, p := range cached {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled, "redis", nil
}

func (s *ParamsService) mirror(ctx context.Context, params []domain.CoinParameters) {
	if s.cache == nil {
		return
	}
	for _, p := range params {
		if err := s.cache.Set(ctx, p); err != nil {
			s.logger.WarnContext(ctx, "mirror params failed",
				slog.String("symbol", p.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Run refreshes once and then on every interval until ctx is cancelled.
func (s *ParamsService) Run(ctx context.Context) error {
	_ = s.Refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = s.Refresh(ctx)
		}
	}
}

var _ domain.ParamsProvider = (*ParamsService)(nil)
