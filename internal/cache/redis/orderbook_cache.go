package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// OrderbookCache implements domain.OrderBookMirror. Each publish replaces the
// whole book in one MULTI so readers never see a half-written side.
//
// Key schema:
//
//	book:{symbol}:bids     - sorted set of bid prices (score = price)
//	book:{symbol}:asks     - sorted set of ask prices (score = price)
//	book:{symbol}:bid:size - hash mapping price -> volume for bids
//	book:{symbol}:ask:size - hash mapping price -> volume for asks
//	book:{symbol}:meta     - hash with "ts", "bid", "ask" and "mid"
type OrderbookCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewOrderbookCache creates an OrderbookCache. Keys expire after ttl unless
// refreshed; a non-positive ttl means one minute.
func NewOrderbookCache(c *Client, ttl time.Duration) *OrderbookCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &OrderbookCache{rdb: c.Underlying(), ttl: ttl}
}

func bookBidsKey(symbol string) string    { return "book:" + symbol + ":bids" }
func bookAsksKey(symbol string) string    { return "book:" + symbol + ":asks" }
func bookBidSizeKey(symbol string) string { return "book:" + symbol + ":bid:size" }
func bookAskSizeKey(symbol string) string { return "book:" + symbol + ":ask:size" }
func bookMetaKey(symbol string) string    { return "book:" + symbol + ":meta" }

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// bookMeta is the flat summary stored in the meta hash.
func bookMeta(book domain.OrderBook) map[string]any {
	meta := map[string]any{"ts": strconv.FormatInt(book.Timestamp.UnixMilli(), 10)}
	if bid, ok := book.BestBid(); ok {
		meta["bid"] = formatFloat(bid)
	}
	if ask, ok := book.BestAsk(); ok {
		meta["ask"] = formatFloat(ask)
	}
	if mid, ok := book.MidPrice(); ok {
		meta["mid"] = formatFloat(mid)
	}
	return meta
}

// SetOrderBook replaces the mirrored book of book.Symbol.
func (oc *OrderbookCache) SetOrderBook(ctx context.Context, book domain.OrderBook) error {
	sym := book.Symbol
	keys := []string{bookBidsKey(sym), bookAsksKey(sym), bookBidSizeKey(sym), bookAskSizeKey(sym), bookMetaKey(sym)}

	pipe := oc.rdb.TxPipeline()
	pipe.Del(ctx, keys...)
	writeSide(ctx, pipe, keys[0], keys[2], book.Bids)
	writeSide(ctx, pipe, keys[1], keys[3], book.Asks)
	pipe.HSet(ctx, keys[4], bookMeta(book))
	for _, k := range keys {
		pipe.Expire(ctx, k, oc.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set orderbook %s: %w", sym, err)
	}
	return nil
}

func writeSide(ctx context.Context, pipe redis.Pipeliner, zKey, hKey string, levels []domain.PriceLevel) {
	if len(levels) == 0 {
		return
	}
	members := make([]redis.Z, 0, len(levels))
	sizes := make(map[string]any, len(levels))
	for _, l := range levels {
		p := formatFloat(l.Price)
		members = append(members, redis.Z{Score: l.Price, Member: p})
		sizes[p] = formatFloat(l.Volume)
	}
	pipe.ZAdd(ctx, zKey, members...)
	pipe.HSet(ctx, hKey, sizes)
}

// GetOrderBook rebuilds the mirrored book of symbol, bids best first and asks
// best first. It returns domain.ErrNotFound when nothing is mirrored.
func (oc *OrderbookCache) GetOrderBook(ctx context.Context, symbol string) (domain.OrderBook, error) {
	pipe := oc.rdb.Pipeline()
	bidsCmd := pipe.ZRevRangeWithScores(ctx, bookBidsKey(symbol), 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, bookAsksKey(symbol), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bookBidSizeKey(symbol))
	askSizeCmd := pipe.HGetAll(ctx, bookAskSizeKey(symbol))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(symbol))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.OrderBook{}, fmt.Errorf("redis: get orderbook %s: %w", symbol, err)
	}

	meta, _ := metaCmd.Result()
	if len(meta) == 0 {
		return domain.OrderBook{}, domain.ErrNotFound
	}

	book := domain.OrderBook{Symbol: symbol}
	if ms, err := strconv.ParseInt(meta["ts"], 10, 64); err == nil {
		book.Timestamp = time.UnixMilli(ms).UTC()
	}
	bidSizes, _ := bidSizeCmd.Result()
	bidsZ, _ := bidsCmd.Result()
	book.Bids = readSide(bidsZ, bidSizes)
	askSizes, _ := askSizeCmd.Result()
	asksZ, _ := asksCmd.Result()
	book.Asks = readSide(asksZ, askSizes)
	return book, nil
}

// readSide joins sorted-set members with their volumes. Members without a
// positive volume are skipped.
func readSide(zs []redis.Z, sizes map[string]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(zs))
	for _, z := range zs {
		p, ok := z.Member.(string)
		if !ok {
			continue
		}
		vol, err := strconv.ParseFloat(sizes[p], 64)
		if err != nil || vol <= 0 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: z.Score, Volume: vol})
	}
	return out
}

var _ domain.OrderBookMirror = (*OrderbookCache)(nil)
