package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticParams map[string]domain.CoinParameters

func (s staticParams) Get(symbol string) (domain.CoinParameters, bool) {
	p, ok := s[symbol]
	return p, ok
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1700000000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type disappearCall struct {
	Symbol string
	Price  float64
	Side   domain.Side
	At     time.Time
}

type fakeDensityStore struct {
	mu          sync.Mutex
	saved       []domain.Density
	disappeared []disappearCall
	failPrice   float64
}

func (s *fakeDensityStore) SaveDensity(_ context.Context, d domain.Density) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPrice != 0 && d.Price == s.failPrice {
		return errors.New("insert failed")
	}
	s.saved = append(s.saved, d)
	return nil
}

func (s *fakeDensityStore) MarkDensityDisappeared(_ context.Context, symbol string, price float64, side domain.Side, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPrice != 0 && price == s.failPrice {
		return errors.New("update failed")
	}
	s.disappeared = append(s.disappeared, disappearCall{symbol, price, side, at})
	return nil
}

func (s *fakeDensityStore) ListActive(context.Context, string) ([]domain.Density, error) {
	return nil, nil
}

func (s *fakeDensityStore) ListDisappearedBefore(context.Context, time.Time) ([]domain.Density, error) {
	return nil, nil
}

func (s *fakeDensityStore) DeleteDisappearedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeDensityStore) counts() (saved, disappeared int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved), len(s.disappeared)
}

type fakeSnapshotStore struct {
	mu     sync.Mutex
	saved  []string
	failOn string
}

func (s *fakeSnapshotStore) SaveOrderBookSnapshot(_ context.Context, b domain.OrderBook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Symbol == s.failOn {
		return errors.New("disk full")
	}
	s.saved = append(s.saved, b.Symbol)
	return nil
}

func (s *fakeSnapshotStore) ListBefore(context.Context, time.Time, int) ([]domain.OrderBook, error) {
	return nil, nil
}

func (s *fakeSnapshotStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}
