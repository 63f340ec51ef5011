package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

const paramsTTL = 24 * time.Hour

// ParamsCache implements domain.ParamsCache. Each symbol's parameters are a
// JSON string under params:{symbol}; params:index is a set of known symbols.
type ParamsCache struct {
	rdb *redis.Client
}

// NewParamsCache creates a ParamsCache backed by the given Client.
func NewParamsCache(c *Client) *ParamsCache {
	return &ParamsCache{rdb: c.Underlying()}
}

const paramsIndexKey = "params:index"

func paramsKey(symbol string) string { return "params:" + strings.ToUpper(symbol) }

// Set stores p and indexes its symbol.
func (pc *ParamsCache) Set(ctx context.Context, p domain.CoinParameters) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: marshal params %s: %w", p.Symbol, err)
	}

	pipe := pc.rdb.TxPipeline()
	pipe.Set(ctx, paramsKey(p.Symbol), data, paramsTTL)
	pipe.SAdd(ctx, paramsIndexKey, strings.ToUpper(p.Symbol))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set params %s: %w", p.Symbol, err)
	}
	return nil
}

// Get returns the cached parameters for symbol or domain.ErrNotFound.
func (pc *ParamsCache) Get(ctx context.Context, symbol string) (domain.CoinParameters, error) {
	data, err := pc.rdb.Get(ctx, paramsKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CoinParameters{}, domain.ErrNotFound
		}
		return domain.CoinParameters{}, fmt.Errorf("redis: get params %s: %w", symbol, err)
	}

	var p domain.CoinParameters
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.CoinParameters{}, fmt.Errorf("redis: unmarshal params %s: %w", symbol, err)
	}
	return p, nil
}

// GetAll returns every indexed symbol's parameters. Index entries whose value
// has expired are dropped from the index.
func (pc *ParamsCache) GetAll(ctx context.Context) ([]domain.CoinParameters, error) {
	symbols, err := pc.rdb.SMembers(ctx, paramsIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list params index: %w", err)
	}
	if len(symbols) == 0 {
		return nil, nil
	}

	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = paramsKey(s)
	}
	vals, err := pc.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget params: %w", err)
	}

	out := make([]domain.CoinParameters, 0, len(vals))
	var stale []any
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, symbols[i])
			continue
		}
		var p domain.CoinParameters
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			return nil, fmt.Errorf("redis: unmarshal params %s: %w", symbols[i], err)
		}
		out = append(out, p)
	}
	if len(stale) > 0 {
		_ = pc.rdb.SRem(ctx, paramsIndexKey, stale...).Err()
	}
	return out, nil
}

var _ domain.ParamsCache = (*ParamsCache)(nil)
