package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// ParamsStore implements domain.ParamsStore using PostgreSQL.
type ParamsStore struct {
	pool *pgxpool.Pool
}

// NewParamsStore creates a new ParamsStore backed by the given connection pool.
func NewParamsStore(pool *pgxpool.Pool) *ParamsStore {
	return &ParamsStore{pool: pool}
}

const paramsSelectCols = `symbol,
	density_threshold_abs, density_threshold_relative, density_threshold_percent, cluster_range_percent,
	breakout_erosion_percent, breakout_min_stop_loss_percent, breakout_breakeven_profit_percent,
	bounce_touch_tolerance_percent, bounce_density_stable_percent,
	bounce_stop_loss_behind_density_percent, bounce_density_erosion_exit_percent,
	tp_slowdown_multiplier, tp_local_extrema_hours,
	preferred_strategy, enabled, updated_at`

func scanParams(row pgx.Row) (domain.CoinParameters, error) {
	var p domain.CoinParameters
	err := row.Scan(
		&p.Symbol,
		&p.DensityThresholdAbs, &p.DensityThresholdRelative, &p.DensityThresholdPercent, &p.ClusterRangePercent,
		&p.BreakoutErosionPercent, &p.BreakoutMinStopLossPercent, &p.BreakoutBreakevenProfitPercent,
		&p.BounceTouchTolerancePercent, &p.BounceDensityStablePercent,
		&p.BounceStopLossBehindDensityPercent, &p.BounceDensityErosionExitPercent,
		&p.TPSlowdownMultiplier, &p.TPLocalExtremaHours,
		&p.PreferredStrategy, &p.Enabled, &p.UpdatedAt,
	)
	return p, err
}

// Get returns the parameters for symbol or domain.ErrNotFound.
func (s *ParamsStore) Get(ctx context.Context, symbol string) (domain.CoinParameters, error) {
	query := `SELECT ` + paramsSelectCols + ` FROM coin_parameters WHERE symbol = $1`

	p, err := scanParams(s.pool.QueryRow(ctx, query, symbol))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CoinParameters{}, domain.ErrNotFound
		}
		return domain.CoinParameters{}, fmt.Errorf("postgres: get params %s: %w", symbol, err)
	}
	return p, nil
}

// ListEnabled returns the parameters of every enabled symbol.
func (s *ParamsStore) ListEnabled(ctx context.Context) ([]domain.CoinParameters, error) {
	query := `SELECT ` + paramsSelectCols + ` FROM coin_parameters WHERE enabled ORDER BY symbol`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list params: %w", err)
	}
	defer rows.Close()

	var out []domain.CoinParameters
	for rows.Next() {
		p, err := scanParams(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan params: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate params: %w", err)
	}
	return out, nil
}

// Upsert inserts or replaces the parameters of p.Symbol.
func (s *ParamsStore) Upsert(ctx context.Context, p domain.CoinParameters) error {
	const query = `
		INSERT INTO coin_parameters (
			symbol,
			density_threshold_abs, density_threshold_relative, density_threshold_percent, cluster_range_percent,
			breakout_erosion_percent, breakout_min_stop_loss_percent, breakout_breakeven_profit_percent,
			bounce_touch_tolerance_percent, bounce_density_stable_percent,
			bounce_stop_loss_behind_density_percent, bounce_density_erosion_exit_percent,
			tp_slowdown_multiplier, tp_local_extrema_hours,
			preferred_strategy, enabled, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			density_threshold_abs                   = EXCLUDED.density_threshold_abs,
			density_threshold_relative              = EXCLUDED.density_threshold_relative,
			density_threshold_percent               = EXCLUDED.density_threshold_percent,
			cluster_range_percent                   = EXCLUDED.cluster_range_percent,
			breakout_erosion_percent                = EXCLUDED.breakout_erosion_percent,
			breakout_min_stop_loss_percent          = EXCLUDED.breakout_min_stop_loss_percent,
			breakout_breakeven_profit_percent       = EXCLUDED.breakout_breakeven_profit_percent,
			bounce_touch_tolerance_percent          = EXCLUDED.bounce_touch_tolerance_percent,
			bounce_density_stable_percent           = EXCLUDED.bounce_density_stable_percent,
			bounce_stop_loss_behind_density_percent = EXCLUDED.bounce_stop_loss_behind_density_percent,
			bounce_density_erosion_exit_percent     = EXCLUDED.bounce_density_erosion_exit_percent,
			tp_slowdown_multiplier                  = EXCLUDED.tp_slowdown_multiplier,
			tp_local_extrema_hours                  = EXCLUDED.tp_local_extrema_hours,
			preferred_strategy                      = EXCLUDED.preferred_strategy,
			enabled                                 = EXCLUDED.enabled,
			updated_at                              = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.Symbol,
		p.DensityThresholdAbs, p.DensityThresholdRelative, p.DensityThresholdPercent, p.ClusterRangePercent,
		p.BreakoutErosionPercent, p.BreakoutMinStopLossPercent, p.BreakoutBreakevenProfitPercent,
		p.BounceTouchTolerancePercent, p.BounceDensityStablePercent,
		p.BounceStopLossBehindDensityPercent, p.BounceDensityErosionExitPercent,
		p.TPSlowdownMultiplier, p.TPLocalExtremaHours,
		p.PreferredStrategy, p.Enabled,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert params %s: %w", p.Symbol, err)
	}
	return nil
}
