package feed

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// LocalBook is the per-symbol book assembled from snapshot and delta pushes.
// It is owned by the feed goroutine and never shared.
type LocalBook struct {
	symbol string
	bids   map[string]domain.PriceLevel // keyed by canonical price string
	asks   map[string]domain.PriceLevel
}

// NewLocalBook creates an empty book for symbol.
func NewLocalBook(symbol string) *LocalBook {
	return &LocalBook{
		symbol: symbol,
		bids:   make(map[string]domain.PriceLevel),
		asks:   make(map[string]domain.PriceLevel),
	}
}

// Reset empties both sides.
func (b *LocalBook) Reset() {
	clear(b.bids)
	clear(b.asks)
}

// Apply merges [price, size] pairs into one side. A zero size removes the
// level. Malformed pairs are skipped and returned as errors so the caller can
// log them; the remaining pairs are still applied.
func (b *LocalBook) Apply(side domain.Side, pairs [][]string) []error {
	levels := b.bids
	if side == domain.SideAsk {
		levels = b.asks
	}

	var errs []error
	for _, pair := range pairs {
		key, lvl, err := parseLevel(pair)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", b.symbol, side, err))
			continue
		}
		if lvl.Volume == 0 {
			delete(levels, key)
			continue
		}
		levels[key] = lvl
	}
	return errs
}

// OrderBook returns an immutable copy with bids best-first (descending) and
// asks best-first (ascending).
func (b *LocalBook) OrderBook(ts time.Time) domain.OrderBook {
	bids := make([]domain.PriceLevel, 0, len(b.bids))
	for _, l := range b.bids {
		bids = append(bids, l)
	}
	asks := make([]domain.PriceLevel, 0, len(b.asks))
	for _, l := range b.asks {
		asks = append(asks, l)
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })
	return domain.OrderBook{Symbol: b.symbol, Bids: bids, Asks: asks, Timestamp: ts}
}

// parseLevel validates one [price, size] pair. Price must be positive; size
// must be non-negative, with zero meaning removal.
func parseLevel(pair []string) (string, domain.PriceLevel, error) {
	if len(pair) < 2 {
		return "", domain.PriceLevel{}, fmt.Errorf("level %v: want [price, size]", pair)
	}
	price, err := decimal.NewFromString(pair[0])
	if err != nil {
		return "", domain.PriceLevel{}, fmt.Errorf("level price %q: %w", pair[0], err)
	}
	if !price.IsPositive() {
		return "", domain.PriceLevel{}, fmt.Errorf("level price %q: not positive", pair[0])
	}
	size, err := decimal.NewFromString(pair[1])
	if err != nil {
		return "", domain.PriceLevel{}, fmt.Errorf("level size %q: %w", pair[1], err)
	}
	if size.IsNegative() {
		return "", domain.PriceLevel{}, fmt.Errorf("level size %q: negative", pair[1])
	}
	return price.String(), domain.PriceLevel{
		Price:  price.InexactFloat64(),
		Volume: size.InexactFloat64(),
	}, nil
}
