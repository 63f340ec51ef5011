package service

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/densitybot/internal/domain"
	"github.com/alanyoungcy/densitybot/internal/risk"
)

func TestEventRecorder_FansOutAndNotifiesSevereEvents(t *testing.T) {
	store := &fakeEventStore{}
	bus := newFakeBus()
	notifier := &fakeNotifier{}
	r := NewEventRecorder(store, bus, notifier, discardLogger())

	require.NoError(t, r.LogEvent(context.Background(), domain.SystemEvent{
		Type: domain.EventPositionClosed, Symbol: "BTCUSDT", Message: "closed",
	}))
	require.NoError(t, r.LogEvent(context.Background(), domain.SystemEvent{
		Type: domain.EventEmergencyShutdown, Severity: domain.SeverityCritical, Message: "loss limit",
	}))

	require.Len(t, store.inserted, 2)
	first := store.inserted[0]
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Time.IsZero())
	assert.Equal(t, domain.SeverityInfo, first.Severity)

	require.Len(t, bus.published[EventsChannel], 2)
	require.Len(t, bus.streamed[EventsStream], 2)
	var decoded domain.SystemEvent
	require.NoError(t, json.Unmarshal(bus.published[EventsChannel][1], &decoded))
	assert.Equal(t, domain.EventEmergencyShutdown, decoded.Type)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, domain.EventEmergencyShutdown, notifier.events[0].Type)
}

func TestEventRecorder_StoreFailureStillPublishes(t *testing.T) {
	bus := newFakeBus()
	r := NewEventRecorder(&fakeEventStore{err: errDown}, bus, nil, discardLogger())

	err := r.LogEvent(context.Background(), domain.SystemEvent{Type: domain.EventBotError, Severity: domain.SeverityError})
	require.ErrorIs(t, err, errDown)
	assert.Len(t, bus.published[EventsChannel], 1)
}

type runnerHarness struct {
	runner   *PositionRunner
	monitor  *risk.Monitor
	market   *fakeMarket
	exchange *fakeExchange
	trades   *fakeTrades
	events   *eventLog
}

func newRunnerHarness(exchange *fakeExchange, trades *fakeTrades) *runnerHarness {
	market := &fakeMarket{books: map[string]domain.OrderBook{}}
	params := staticParams{
		"BTCUSDT": domain.DefaultCoinParameters("BTCUSDT"),
		"ETHUSDT": domain.DefaultCoinParameters("ETHUSDT"),
	}
	mon := risk.NewMonitor(market, params, risk.Config{}, discardLogger())
	events := &eventLog{}
	return &runnerHarness{
		runner:   NewPositionRunner(mon, market, exchange, trades, events, time.Millisecond, discardLogger()),
		monitor:  mon,
		market:   market,
		exchange: exchange,
		trades:   trades,
		events:   events,
	}
}

func bouncePosition(symbol string) *domain.Position {
	return &domain.Position{
		ID:             "pos-" + symbol,
		Symbol:         symbol,
		EntryPrice:     100,
		Size:           2,
		Leverage:       10,
		Direction:      domain.DirectionLong,
		SignalType:     domain.SignalBounce,
		DensityPrice:   99,
		BreakevenMoved: true,
	}
}

func TestPositionRunner_ClosesPositionWhoseDensityVanished(t *testing.T) {
	h := newRunnerHarness(newFakeExchange(), newFakeTrades())
	h.market.books["BTCUSDT"] = bookAround("BTCUSDT", 101)
	require.NoError(t, h.monitor.StartMonitoring(bouncePosition("BTCUSDT")))

	h.runner.Tick(context.Background())

	require.Len(t, h.exchange.closes, 1)
	assert.Equal(t, closeCall{symbol: "BTCUSDT", qty: 2, side: domain.OrderSideSell}, h.exchange.closes[0])
	require.Len(t, h.trades.closed, 1)
	assert.Equal(t, domain.ExitDensityErosion, h.trades.closed[0].reason)
	assert.Equal(t, 101.0, h.trades.closed[0].exit)
	assert.Equal(t, 2.0, h.trades.closed[0].pnl)
	assert.False(t, h.monitor.IsMonitoring("BTCUSDT"))
	assert.Equal(t, []domain.EventType{domain.EventPositionClosed}, h.events.types())
}

func TestPositionRunner_FailedCloseIsRetriedNextTick(t *testing.T) {
	ex := newFakeExchange()
	ex.closeErr = errDown
	h := newRunnerHarness(ex, newFakeTrades())
	h.market.books["BTCUSDT"] = bookAround("BTCUSDT", 101)
	require.NoError(t, h.monitor.StartMonitoring(bouncePosition("BTCUSDT")))

	h.runner.Tick(context.Background())
	assert.True(t, h.monitor.IsMonitoring("BTCUSDT"))
	assert.Empty(t, h.trades.closed)

	pos, _ := h.monitor.Position("BTCUSDT")
	assert.Equal(t, domain.PositionStatusClosing, pos.Status)

	ex.closeErr = nil
	h.runner.Tick(context.Background())
	assert.Len(t, ex.closes, 2)
	assert.Len(t, h.trades.closed, 1)
	assert.False(t, h.monitor.IsMonitoring("BTCUSDT"))
}

func TestPositionRunner_MovesBreakevenAndPersistsIt(t *testing.T) {
	h := newRunnerHarness(newFakeExchange(), newFakeTrades())
	h.market.books["BTCUSDT"] = bookAround("BTCUSDT", 101)
	require.NoError(t, h.monitor.StartMonitoring(&domain.Position{
		ID: "b1", Symbol: "BTCUSDT", EntryPrice: 100, Size: 1, Leverage: 10,
		Direction: domain.DirectionLong, SignalType: domain.SignalBreakout,
		DensityPrice: 99, StopLoss: 98,
	}))

	h.runner.Tick(context.Background())
	h.runner.Tick(context.Background())

	assert.Equal(t, map[string]float64{"BTCUSDT": 100}, h.exchange.stops)
	assert.Equal(t, map[string]float64{"b1": 100}, h.trades.stopLoss)
	assert.Equal(t, []domain.EventType{domain.EventBreakevenMoved}, h.events.types())
	assert.Empty(t, h.exchange.closes)
}

func TestPositionRunner_SyncOnStartup(t *testing.T) {
	ex := newFakeExchange(
		domain.ExchangePosition{Symbol: "BTCUSDT", Side: domain.OrderSideBuy, Size: 0.7},
		domain.ExchangePosition{Symbol: "SOLUSDT", Side: domain.OrderSideBuy, Size: 3},
		domain.ExchangePosition{Symbol: "ETHUSDT", Side: domain.OrderSideBuy, Size: 1},
	)
	trades := newFakeTrades(
		domain.Trade{ID: "t1", Symbol: "BTCUSDT", Direction: domain.DirectionLong, SignalType: domain.SignalBreakout, EntryPrice: 100, Leverage: 5},
		domain.Trade{ID: "t2", Symbol: "ETHUSDT", Direction: domain.DirectionShort, SignalType: domain.SignalBounce},
		domain.Trade{ID: "t3", Symbol: "XRPUSDT", Direction: domain.DirectionLong},
	)
	h := newRunnerHarness(ex, trades)

	require.NoError(t, h.runner.SyncOnStartup(context.Background()))

	positions := h.monitor.MonitoredPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, "t1", positions[0].ID)
	assert.Equal(t, 0.7, positions[0].Size, "size comes from the exchange")
	assert.Equal(t, domain.PositionStatusOpen, positions[0].Status)
}

func TestPositionRunner_RequestClose(t *testing.T) {
	h := newRunnerHarness(newFakeExchange(), newFakeTrades())
	_, err := h.runner.RequestClose("BTCUSDT")
	require.ErrorIs(t, err, domain.ErrNotFound)

	p := bouncePosition("ETHUSDT")
	p.SignalType = domain.SignalBreakout
	require.NoError(t, h.monitor.StartMonitoring(p))
	pos, err := h.runner.RequestClose("ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosing, pos.Status)

	h.runner.Tick(context.Background())
	require.Len(t, h.trades.closed, 1)
	assert.Equal(t, domain.ExitManual, h.trades.closed[0].reason)
	assert.Equal(t, 100.0, h.trades.closed[0].exit, "no book falls back to the entry price")
}

type scriptedChecker struct {
	calls     atomic.Int32
	emergency atomic.Bool
	failAt    int32
	err       error
}

func (c *scriptedChecker) CheckSafetyConditions(context.Context) (bool, error) {
	n := c.calls.Add(1)
	if n == c.failAt {
		if c.err != nil {
			return false, c.err
		}
		c.emergency.Store(true)
		return false, nil
	}
	return true, nil
}

func (c *scriptedChecker) IsEmergencyShutdown() bool { return c.emergency.Load() }

func TestSafetyRunner_StopsWhenShutdownBecomesActive(t *testing.T) {
	c := &scriptedChecker{failAt: 3}
	r := NewSafetyRunner(c, time.Millisecond, discardLogger())

	err := r.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrShutdownActive)
	assert.Equal(t, int32(3), c.calls.Load())
}

func TestSafetyRunner_SurfacesCloseAllFailure(t *testing.T) {
	c := &scriptedChecker{failAt: 1, err: errDown}
	r := NewSafetyRunner(c, time.Millisecond, discardLogger())

	err := r.Run(context.Background())
	require.ErrorIs(t, err, errDown)
	assert.NotErrorIs(t, err, domain.ErrShutdownActive)
}

func TestSafetyRunner_StopsOnCancel(t *testing.T) {
	c := &scriptedChecker{}
	r := NewSafetyRunner(c, time.Millisecond, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, r.Run(ctx), context.DeadlineExceeded)
}

type fakeArchiver struct {
	cutoffs []time.Time
	snapErr error
}

func (a *fakeArchiver) ArchiveSnapshots(_ context.Context, before time.Time) (int64, error) {
	a.cutoffs = append(a.cutoffs, before)
	return 0, a.snapErr
}

func (a *fakeArchiver) ArchiveDensities(_ context.Context, before time.Time) (int64, error) {
	a.cutoffs = append(a.cutoffs, before)
	return 4, nil
}

func TestArchiveRunner_RunOnce(t *testing.T) {
	arch := &fakeArchiver{snapErr: errDown}
	r := NewArchiveRunner(arch, 48*time.Hour, 0, discardLogger())
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	err := r.RunOnce(context.Background())
	require.ErrorIs(t, err, errDown)
	want := now.Add(-48 * time.Hour)
	assert.Equal(t, []time.Time{want, want}, arch.cutoffs, "densities are archived even when snapshots fail")
}
