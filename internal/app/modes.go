package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/densitybot/internal/config"
	"github.com/alanyoungcy/densitybot/internal/domain"
	"github.com/alanyoungcy/densitybot/internal/feed"
	"github.com/alanyoungcy/densitybot/internal/market"
	"github.com/alanyoungcy/densitybot/internal/retry"
	"github.com/alanyoungcy/densitybot/internal/risk"
	"github.com/alanyoungcy/densitybot/internal/safety"
	"github.com/alanyoungcy/densitybot/internal/server"
	"github.com/alanyoungcy/densitybot/internal/server/handler"
	"github.com/alanyoungcy/densitybot/internal/server/middleware"
	"github.com/alanyoungcy/densitybot/internal/server/ws"
	"github.com/alanyoungcy/densitybot/internal/service"
)

// marketCore is what both modes run: parameters, the engine fed by the
// exchange stream, and the event recorder.
type marketCore struct {
	params *service.ParamsService
	engine *market.Engine
	events *service.EventRecorder
}

// tradingCore is added on top of marketCore in trade mode.
type tradingCore struct {
	monitor  *risk.Monitor
	runner   *service.PositionRunner
	governor *safety.Governor
}

// MonitorMode streams order books into the market-structure engine, takes
// snapshots and serves the API. No orders are sent.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode", slog.Any("symbols", a.cfg.Market.Symbols))

	g, ctx := errgroup.WithContext(ctx)
	core := a.startMarket(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, core, nil)
	}
	return g.Wait()
}

// TradeMode runs everything MonitorMode does plus position monitoring and the
// safety governor. An emergency shutdown ends the mode with
// domain.ErrShutdownActive.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode", slog.Any("symbols", a.cfg.Market.Symbols))

	g, ctx := errgroup.WithContext(ctx)
	core := a.startMarket(ctx, g, deps)
	trading := a.startTrading(ctx, g, deps, core)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, core, trading)
	}
	return g.Wait()
}

// startMarket builds the market-structure pipeline and adds its goroutines to
// g.
func (a *App) startMarket(ctx context.Context, g *errgroup.Group, deps *Dependencies) *marketCore {
	events := service.NewEventRecorder(deps.EventStore, eventBus(deps), eventNotifier(deps), a.logger)

	var paramsCache domain.ParamsCache
	if deps.ParamsCache != nil {
		paramsCache = deps.ParamsCache
	}
	params := service.NewParamsService(
		deps.ParamsStore,
		paramsCache,
		a.cfg.Market.Symbols,
		a.cfg.Market.Defaults.CoinParameters(),
		a.cfg.Market.ParamsRefresh.Duration,
		a.logger,
	)
	// Load stored parameters before the first book arrives; Run refreshes
	// again on its own schedule.
	if err := params.Refresh(ctx); err != nil {
		a.logger.WarnContext(ctx, "initial params refresh failed, using defaults",
			slog.String("error", err.Error()),
		)
	}
	g.Go(func() error {
		return params.Run(ctx)
	})

	engine := market.NewEngine(market.Config{
		HistoryCapacity: a.cfg.Market.HistoryCapacity,
	}, params, deps.DensityStore, a.logger)
	if deps.BookMirror != nil {
		engine.SetMirror(deps.BookMirror)
	}

	bookFeed := feed.NewBybitFeed(
		a.cfg.Exchange.WSURL,
		a.cfg.Exchange.OrderbookDepth,
		a.cfg.Market.Symbols,
		// ProcessUpdate logs and counts its own failures.
		func(ctx context.Context, book domain.OrderBook) {
			_ = engine.ProcessUpdate(ctx, book)
		},
		a.logger,
	)
	g.Go(func() error {
		return bookFeed.Run(ctx)
	})

	snapshotter := market.NewSnapshotter(engine, deps.SnapshotStore, a.cfg.Market.SnapshotInterval.Duration, a.logger)
	g.Go(func() error {
		return snapshotter.Run(ctx)
	})

	if deps.Archiver != nil {
		archiver := service.NewArchiveRunner(deps.Archiver, a.cfg.Archive.Retention.Duration, a.cfg.Archive.Interval.Duration, a.logger)
		g.Go(func() error {
			return archiver.Run(ctx)
		})
	}

	return &marketCore{params: params, engine: engine, events: events}
}

// startTrading builds the risk monitor and the safety governor over the
// authenticated exchange client.
func (a *App) startTrading(ctx context.Context, g *errgroup.Group, deps *Dependencies, core *marketCore) *tradingCore {
	monitor := risk.NewMonitor(core.engine, core.params, riskConfig(a.cfg.Risk), a.logger)
	runner := service.NewPositionRunner(
		monitor,
		core.engine,
		deps.Exchange,
		deps.TradeStore,
		core.events,
		a.cfg.Risk.CheckInterval.Duration,
		a.logger,
	)
	g.Go(func() error {
		return runner.Run(ctx)
	})

	governor := a.newGovernor(deps.Exchange, deps.Exchange, deps.StoreHealth, core.events)
	if deps.LockManager != nil {
		governor.SetLockManager(deps.LockManager)
	}
	safetyRunner := service.NewSafetyRunner(governor, a.cfg.Safety.CheckInterval.Duration, a.logger)
	g.Go(func() error {
		return safetyRunner.Run(ctx)
	})

	return &tradingCore{monitor: monitor, runner: runner, governor: governor}
}

// newGovernor builds the safety governor. store is the persistence health check;
// repeated failures there disable trading.
func (a *App) newGovernor(
	balance domain.BalanceReader,
	exchange domain.PositionCloser,
	store domain.HealthChecker,
	events domain.EventLogger,
) *safety.Governor {
	return safety.NewGovernor(
		safety.NewState(a.cfg.Safety.MaxLossPercent),
		balance,
		exchange,
		store,
		events,
		safety.Config{
			MaxConsecutiveFailures:     a.cfg.Safety.MaxConsecutiveFailures,
			MaxTotalExposurePercent:    a.cfg.Safety.MaxTotalExposurePercent,
			MaxPositionExposurePercent: a.cfg.Safety.MaxPositionExposurePercent,
			FetchPolicy:                retryPolicy(a.cfg.Safety.FetchRetry),
			ClosePolicy:                retryPolicy(a.cfg.Safety.CloseRetry),
			LockTTL:                    a.cfg.Safety.LockTTL.Duration,
		},
		a.logger,
	)
}

// startHTTPServer adds the API server and, when Redis is wired, the
// websocket hub to g. trading is nil in monitor mode.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, core *marketCore, trading *tradingCore) {
	startedAt := a.startedAt

	var mirror domain.OrderBookMirror
	if deps.BookMirror != nil {
		mirror = deps.BookMirror
	}
	var archives handler.BlobLister
	if deps.BlobReader != nil {
		archives = deps.BlobReader
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthCheckers, a.logger),
		Market: handler.NewMarketHandler(core.engine, mirror, a.logger),
		Events: handler.NewEventHandler(core.events, archives, a.logger),
	}

	var statusFn func() any
	if trading != nil {
		handlers.Status = handler.NewStatusHandler(a.cfg.Mode, a.cfg.Market.Symbols, startedAt, trading.governor, trading.monitor)
		handlers.Positions = handler.NewPositionHandler(trading.monitor, trading.runner, a.logger)
		handlers.Safety = handler.NewSafetyHandler(trading.governor, a.logger)
		statusFn = func() any { return trading.governor.Status() }
	} else {
		handlers.Status = handler.NewStatusHandler(a.cfg.Mode, a.cfg.Market.Symbols, startedAt, nil, nil)
		handlers.Positions = handler.NewPositionHandler(noPositions{}, nil, a.logger)
	}

	var hub *ws.Hub
	if deps.EventBus != nil {
		hub = ws.NewHub(deps.EventBus, ws.Config{
			Mode:           a.cfg.Mode,
			Channels:       []string{service.EventsChannel},
			StartedAt:      startedAt,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
			StatusInterval: a.cfg.Server.WSStatusInterval.Duration,
			Status:         statusFn,
		}, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, apiLimiter(deps), a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// noPositions backs the positions endpoint in monitor mode.
type noPositions struct{}

func (noPositions) MonitoredPositions() []domain.Position { return nil }

func riskConfig(c config.RiskConfig) risk.Config {
	return risk.Config{
		SlowdownLookback:   c.SlowdownLookback.Duration,
		SlowdownMinPoints:  c.SlowdownMinPoints,
		ShortWindow:        c.ShortWindow.Duration,
		LongWindow:         c.LongWindow.Duration,
		SlowdownThreshold:  c.SlowdownThreshold,
		ReversalLookback:   c.ReversalLookback.Duration,
		ReversalMinPoints:  c.ReversalMinPoints,
		ReversalMultiplier: c.ReversalMultiplier,
	}
}

func retryPolicy(c config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay.Duration,
		MaxDelay:     c.MaxDelay.Duration,
		Multiplier:   c.Multiplier,
		Jitter:       c.Jitter,
	}
}

// The helpers below keep nil pointers from becoming non-nil interfaces.

func eventBus(deps *Dependencies) domain.EventBus {
	if deps.EventBus == nil {
		return nil
	}
	return deps.EventBus
}

func eventNotifier(deps *Dependencies) service.EventNotifier {
	if deps.Notifier == nil {
		return nil
	}
	return deps.Notifier
}

func apiLimiter(deps *Dependencies) middleware.Allower {
	if deps.APILimiter == nil {
		return nil
	}
	return deps.APILimiter
}
