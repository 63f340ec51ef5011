package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var errDown = errors.New("down")

type fakeParamsStore struct {
	params []domain.CoinParameters
	err    error
}

func (s *fakeParamsStore) Get(_ context.Context, symbol string) (domain.CoinParameters, error) {
	for _, p := range s.params {
		if p.Symbol == symbol {
			return p, nil
		}
	}
	return domain.CoinParameters{}, domain.ErrNotFound
}

func (s *fakeParamsStore) ListEnabled(context.Context) ([]domain.CoinParameters, error) {
	return s.params, s.err
}

func (s *fakeParamsStore) Upsert(context.Context, domain.CoinParameters) error { return nil }

type fakeParamsCache struct {
	mu     sync.Mutex
	stored map[string]domain.CoinParameters
	err    error
}

func newFakeParamsCache(ps ...domain.CoinParameters) *fakeParamsCache {
	c := &fakeParamsCache{stored: make(map[string]domain.CoinParameters)}
	for _, p := range ps {
		c.stored[p.Symbol] = p
	}
	return c
}

func (c *fakeParamsCache) Set(_ context.Context, p domain.CoinParameters) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stored[p.Symbol] = p
	return nil
}

func (c *fakeParamsCache) Get(_ context.Context, symbol string) (domain.CoinParameters, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.stored[symbol]
	if !ok {
		return domain.CoinParameters{}, domain.ErrNotFound
	}
	return p, nil
}

func (c *fakeParamsCache) GetAll(context.Context) ([]domain.CoinParameters, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	var out []domain.CoinParameters
	for _, p := range c.stored {
		out = append(out, p)
	}
	return out, nil
}

type fakeEventStore struct {
	inserted []domain.SystemEvent
	err      error
}

func (s *fakeEventStore) Insert(_ context.Context, ev domain.SystemEvent) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, ev)
	return nil
}

func (s *fakeEventStore) List(context.Context, domain.ListOpts) ([]domain.SystemEvent, error) {
	return s.inserted, nil
}

type fakeBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeNotifier struct {
	events []domain.SystemEvent
}

func (n *fakeNotifier) NotifyEvent(_ context.Context, ev domain.SystemEvent) error {
	n.events = append(n.events, ev)
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.SystemEvent
}

func (l *eventLog) LogEvent(_ context.Context, ev domain.SystemEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) types() []domain.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.EventType, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

type closeCall struct {
	symbol string
	qty    float64
	side   domain.OrderSide
}

type fakeExchange struct {
	positions []domain.ExchangePosition
	closeErr  error
	closes    []closeCall
	stops     map[string]float64
}

func newFakeExchange(positions ...domain.ExchangePosition) *fakeExchange {
	return &fakeExchange{positions: positions, stops: map[string]float64{}}
}

func (e *fakeExchange) FetchOpenPositions(context.Context) ([]domain.ExchangePosition, error) {
	return e.positions, nil
}

func (e *fakeExchange) ClosePosition(_ context.Context, symbol string, qty float64, side domain.OrderSide) error {
	e.closes = append(e.closes, closeCall{symbol: symbol, qty: qty, side: side})
	return e.closeErr
}

func (e *fakeExchange) ModifyStopLoss(_ context.Context, symbol string, stop float64) error {
	e.stops[symbol] = stop
	return nil
}

type closedTrade struct {
	id     string
	exit   float64
	pnl    float64
	reason domain.ExitReason
}

type fakeTrades struct {
	open     []domain.Trade
	closed   []closedTrade
	stopLoss map[string]float64
}

func newFakeTrades(open ...domain.Trade) *fakeTrades {
	return &fakeTrades{open: open, stopLoss: map[string]float64{}}
}

func (t *fakeTrades) Create(context.Context, domain.Trade) error { return nil }

func (t *fakeTrades) GetOpenTrades(context.Context) ([]domain.Trade, error) { return t.open, nil }

func (t *fakeTrades) UpdateStopLoss(_ context.Context, id string, sl float64, _ bool) error {
	t.stopLoss[id] = sl
	return nil
}

func (t *fakeTrades) Close(_ context.Context, id string, exit float64, _ time.Time, pnl, _ float64, reason domain.ExitReason) error {
	t.closed = append(t.closed, closedTrade{id: id, exit: exit, pnl: pnl, reason: reason})
	return nil
}

// fakeMarket serves a fixed book and no densities or history.
type fakeMarket struct {
	books map[string]domain.OrderBook
}

func (m *fakeMarket) OrderBook(symbol string) (domain.OrderBook, bool) {
	b, ok := m.books[symbol]
	return b, ok
}

func (m *fakeMarket) Densities(string) []domain.Density { return nil }

func (m *fakeMarket) PriceHistory(string, time.Duration) []domain.PricePoint { return nil }

func (m *fakeMarket) VolumeHistory(string, time.Duration) []domain.VolumePoint { return nil }

func bookAround(symbol string, mid float64) domain.OrderBook {
	return domain.OrderBook{
		Symbol: symbol,
		Bids:   []domain.PriceLevel{{Price: mid - 0.5, Volume: 10}},
		Asks:   []domain.PriceLevel{{Price: mid + 0.5, Volume: 10}},
	}
}

type staticParams map[string]domain.CoinParameters

func (p staticParams) Get(symbol string) (domain.CoinParameters, bool) {
	v, ok := p[symbol]
	return v, ok
}
