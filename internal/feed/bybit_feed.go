// Package feed turns the exchange's order-book stream into whole
// domain.OrderBook values for the market engine.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/densitybot/internal/domain"
	"github.com/alanyoungcy/densitybot/internal/metrics"
	"github.com/alanyoungcy/densitybot/internal/platform/bybit"
)

const (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
)

// BookHandler receives every assembled book, in order, per symbol.
type BookHandler func(ctx context.Context, book domain.OrderBook)

// BybitFeed connects to the public order-book stream, subscribes to every
// configured symbol and maintains a local book per symbol. It reconnects
// with capped exponential backoff.
type BybitFeed struct {
	wsURL   string
	depth   int
	symbols []string
	onBook  BookHandler
	logger  *slog.Logger

	books map[string]*LocalBook
	now   func() time.Time
}

// NewBybitFeed creates a feed for symbols at the given book depth.
func NewBybitFeed(wsURL string, depth int, symbols []string, onBook BookHandler, logger *slog.Logger) *BybitFeed {
	if depth <= 0 {
		depth = 50
	}
	return &BybitFeed{
		wsURL:   wsURL,
		depth:   depth,
		symbols: symbols,
		onBook:  onBook,
		logger:  logger.With(slog.String("component", "bybit_feed")),
		books:   make(map[string]*LocalBook),
		now:     time.Now,
	}
}

// Run streams until ctx is cancelled.
func (f *BybitFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}

	delay := initialReconnectDelay
	for {
		received, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			delay = initialReconnectDelay
		}
		metrics.FeedReconnects.Inc()
		f.logger.Warn("order book stream disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// runConnection runs one connection to completion and reports whether any
// book was delivered on it.
func (f *BybitFeed) runConnection(ctx context.Context) (bool, error) {
	client := bybit.NewWSClient(f.wsURL)
	defer client.Close()

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(dialCtx)
	cancel()
	if err != nil {
		return false, err
	}

	topics := make([]string, len(f.symbols))
	for i, s := range f.symbols {
		topics[i] = bybit.OrderBookTopic(f.depth, s)
	}
	if err := client.Subscribe(topics); err != nil {
		return false, err
	}
	f.logger.Info("order book stream subscribed", slog.Int("symbols", len(topics)))

	// The server resends a snapshot per topic after subscribing.
	f.forgetBooks()

	received := false
	err = client.Run(ctx, func(msg bybit.OrderBookMessage) {
		if book, ok := f.handle(msg); ok {
			received = true
			f.onBook(ctx, book)
		}
	})
	return received, err
}

// forgetBooks drops every local book so deltas are ignored until each
// symbol's next snapshot.
func (f *BybitFeed) forgetBooks() {
	clear(f.books)
}

// handle applies one push to the symbol's local book and returns the
// resulting book. Deltas for a symbol that has not had a snapshot yet are
// dropped.
func (f *BybitFeed) handle(msg bybit.OrderBookMessage) (domain.OrderBook, bool) {
	symbol := msg.Data.Symbol
	if symbol == "" {
		return domain.OrderBook{}, false
	}

	book, ok := f.books[symbol]
	switch {
	case msg.IsSnapshot():
		if !ok {
			book = NewLocalBook(symbol)
			f.books[symbol] = book
		}
		book.Reset()
	case !ok:
		f.logger.Debug("delta before snapshot, dropping", slog.String("symbol", symbol))
		return domain.OrderBook{}, false
	}

	errs := append(book.Apply(domain.SideBid, msg.Data.Bids), book.Apply(domain.SideAsk, msg.Data.Asks)...)
	if len(errs) > 0 {
		metrics.FeedDroppedLevels.WithLabelValues(symbol).Add(float64(len(errs)))
		f.logger.Warn("dropped malformed levels",
			slog.String("symbol", symbol),
			slog.Int("count", len(errs)),
			slog.String("error", errors.Join(errs...).Error()),
		)
	}

	ts := f.now()
	if msg.TS > 0 {
		ts = time.UnixMilli(msg.TS)
	}
	return book.OrderBook(ts), true
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
