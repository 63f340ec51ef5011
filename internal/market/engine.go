// Package market maintains per-symbol order-book state and derives densities,
// clusters, density lifecycle and rolling price/volume history from it.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/densitybot/internal/domain"
	"github.com/alanyoungcy/densitybot/internal/metrics"
)

// DefaultHistoryCapacity holds roughly 30 seconds of samples at 10 updates/s.
const DefaultHistoryCapacity = 300

// Config tunes the engine.
type Config struct {
	HistoryCapacity int
	// Now overrides the clock. Nil uses time.Now.
	Now func() time.Time
}

// symbolState is everything the engine keeps for one symbol. book and
// densities are replaced wholesale so readers never see a partial update;
// prev is touched only by the writer while holding mu.
type symbolState struct {
	mu        sync.Mutex
	book      atomic.Pointer[domain.OrderBook]
	densities atomic.Pointer[[]domain.Density]
	prev      map[domain.DensityKey]domain.Density

	prices  *Ring[domain.PricePoint]
	volumes *Ring[domain.VolumePoint]
}

// Engine is the market-structure engine. ProcessUpdate is the only writer for
// a symbol; every query method is safe to call concurrently with it.
type Engine struct {
	params    domain.ParamsProvider
	densities domain.DensityStore
	mirror    domain.OrderBookMirror
	capacity  int
	now       func() time.Time
	logger    *slog.Logger

	mu      sync.RWMutex
	symbols map[string]*symbolState
}

// NewEngine creates an Engine. store may be nil, in which case lifecycle
// changes are tracked in memory only.
func NewEngine(cfg Config, params domain.ParamsProvider, store domain.DensityStore, logger *slog.Logger) *Engine {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		params:    params,
		densities: store,
		capacity:  cfg.HistoryCapacity,
		now:       cfg.Now,
		logger:    logger.With(slog.String("component", "market_engine")),
		symbols:   make(map[string]*symbolState),
	}
}

// SetMirror publishes every accepted book to m in addition to local state.
func (e *Engine) SetMirror(m domain.OrderBookMirror) {
	e.mirror = m
}

func (e *Engine) state(symbol string) *symbolState {
	e.mu.RLock()
	st, ok := e.symbols[symbol]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.symbols[symbol]; ok {
		return st
	}
	st = &symbolState{
		prev:    make(map[domain.DensityKey]domain.Density),
		prices:  NewRing[domain.PricePoint](e.capacity),
		volumes: NewRing[domain.VolumePoint](e.capacity),
	}
	e.symbols[symbol] = st
	return st
}

func (e *Engine) lookup(symbol string) (*symbolState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.symbols[symbol]
	return st, ok
}

// ProcessUpdate installs book as the symbol's current order book, records
// history, and runs density detection, clustering and lifecycle diffing.
// Symbols without parameters keep their book and history but skip detection.
// A failure while processing one update is logged and returned; it never
// leaves the symbol in a state that blocks the next update.
func (e *Engine) ProcessUpdate(ctx context.Context, book domain.OrderBook) (err error) {
	if book.Symbol == "" {
		return fmt.Errorf("market: update without symbol")
	}
	start := time.Now()
	st := e.state(book.Symbol)

	st.mu.Lock()
	defer st.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("market: process %s: panic: %v", book.Symbol, r)
		}
		if err != nil {
			metrics.ProcessErrors.WithLabelValues(book.Symbol).Inc()
			e.logger.ErrorContext(ctx, "process update failed",
				slog.String("symbol", book.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}()

	now := e.now()
	b := book
	st.book.Store(&b)

	if mid, ok := b.MidPrice(); ok {
		st.prices.Push(domain.PricePoint{Time: now, Price: mid})
	}
	st.volumes.Push(domain.VolumePoint{
		Time:      now,
		BidVolume: b.TotalBidVolume(),
		AskVolume: b.TotalAskVolume(),
	})
	metrics.BookUpdates.WithLabelValues(b.Symbol).Inc()

	if e.mirror != nil {
		if mErr := e.mirror.SetOrderBook(ctx, b); mErr != nil {
			e.logger.DebugContext(ctx, "mirror order book failed",
				slog.String("symbol", b.Symbol),
				slog.String("error", mErr.Error()),
			)
		}
	}

	params, ok := e.params.Get(b.Symbol)
	if !ok {
		e.logger.DebugContext(ctx, "no parameters, skipping detection", slog.String("symbol", b.Symbol))
		return nil
	}

	bids := DetectDensities(b.Symbol, domain.SideBid, b.Bids, params, now)
	asks := DetectDensities(b.Symbol, domain.SideAsk, b.Asks, params, now)
	MarkClusters(bids, params.ClusterRangePercent)
	MarkClusters(asks, params.ClusterRangePercent)

	current := make([]domain.Density, 0, len(bids)+len(asks))
	current = append(current, bids...)
	current = append(current, asks...)

	e.diff(ctx, st, b.Symbol, current, now)
	st.densities.Store(&current)

	metrics.ActiveDensities.WithLabelValues(b.Symbol, string(domain.SideBid)).Set(float64(len(bids)))
	metrics.ActiveDensities.WithLabelValues(b.Symbol, string(domain.SideAsk)).Set(float64(len(asks)))
	metrics.ProcessLatency.WithLabelValues(b.Symbol).Observe(float64(time.Since(start).Microseconds()) / 1000)
	return nil
}

// diff compares current against the previous cycle. Persisting keys carry
// InitialVolume and AppearedAt forward; vanished keys are marked disappeared;
// new keys are saved. A persistence failure affects only that density.
func (e *Engine) diff(ctx context.Context, st *symbolState, symbol string, current []domain.Density, now time.Time) {
	next := make(map[domain.DensityKey]domain.Density, len(current))
	var appeared []domain.Density

	for i := range current {
		d := &current[i]
		k := d.Key()
		if old, ok := st.prev[k]; ok {
			d.InitialVolume = old.InitialVolume
			d.AppearedAt = old.AppearedAt
		} else {
			appeared = append(appeared, *d)
		}
		next[k] = *d
	}

	var gone []domain.Density
	for k, old := range st.prev {
		if _, ok := next[k]; !ok {
			gone = append(gone, old)
		}
	}
	st.prev = next

	for _, old := range gone {
		metrics.DensityLifecycle.WithLabelValues(symbol, "disappeared").Inc()
		if e.densities == nil {
			continue
		}
		if err := e.densities.MarkDensityDisappeared(ctx, symbol, old.Price, old.Side, now); err != nil {
			metrics.PersistErrors.WithLabelValues("mark_density_disappeared").Inc()
			e.logger.WarnContext(ctx, "mark density disappeared failed",
				slog.String("symbol", symbol),
				slog.Float64("price", old.Price),
				slog.String("side", string(old.Side)),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, d := range appeared {
		metrics.DensityLifecycle.WithLabelValues(symbol, "appeared").Inc()
		if e.densities == nil {
			continue
		}
		if err := e.densities.SaveDensity(ctx, d); err != nil {
			metrics.PersistErrors.WithLabelValues("save_density").Inc()
			e.logger.WarnContext(ctx, "save density failed",
				slog.String("symbol", symbol),
				slog.Float64("price", d.Price),
				slog.String("side", string(d.Side)),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(appeared) > 0 || len(gone) > 0 {
		e.logger.DebugContext(ctx, "density lifecycle",
			slog.String("symbol", symbol),
			slog.Int("appeared", len(appeared)),
			slog.Int("disappeared", len(gone)),
			slog.Int("active", len(current)),
		)
	}
}

// OrderBook returns the current book for symbol.
func (e *Engine) OrderBook(symbol string) (domain.OrderBook, bool) {
	st, ok := e.lookup(symbol)
	if !ok {
		return domain.OrderBook{}, false
	}
	b := st.book.Load()
	if b == nil {
		return domain.OrderBook{}, false
	}
	return *b, true
}

// Densities returns a copy of the densities found by the latest cycle.
func (e *Engine) Densities(symbol string) []domain.Density {
	st, ok := e.lookup(symbol)
	if !ok {
		return nil
	}
	ds := st.densities.Load()
	if ds == nil {
		return nil
	}
	out := make([]domain.Density, len(*ds))
	copy(out, *ds)
	return out
}

// PriceHistory returns mid-price samples newer than now-window, oldest first.
func (e *Engine) PriceHistory(symbol string, window time.Duration) []domain.PricePoint {
	st, ok := e.lookup(symbol)
	if !ok {
		return nil
	}
	cutoff := e.now().Add(-window)
	return st.prices.Filter(func(p domain.PricePoint) bool { return !p.Time.Before(cutoff) })
}

// VolumeHistory returns volume samples newer than now-window, oldest first.
func (e *Engine) VolumeHistory(symbol string, window time.Duration) []domain.VolumePoint {
	st, ok := e.lookup(symbol)
	if !ok {
		return nil
	}
	cutoff := e.now().Add(-window)
	return st.volumes.Filter(func(p domain.VolumePoint) bool { return !p.Time.Before(cutoff) })
}

// Symbols lists every symbol the engine has seen, sorted.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.symbols))
	for s := range e.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
