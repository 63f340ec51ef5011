package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, symbol, direction, signal_type, entry_time, entry_price,
	position_size, leverage, stop_loss_price, density_price, breakeven_moved, status,
	exit_time, exit_price, profit_loss, profit_loss_percent, exit_reason`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var (
			t                             domain.Trade
			direction, signalType, status string
			exitReason                    *string
		)
		if err := rows.Scan(
			&t.ID, &t.Symbol, &direction, &signalType, &t.EntryTime, &t.EntryPrice,
			&t.PositionSize, &t.Leverage, &t.StopLossPrice, &t.DensityPrice,
			&t.BreakevenMoved, &status,
			&t.ExitTime, &t.ExitPrice, &t.ProfitLoss, &t.ProfitLossPercent, &exitReason,
		); err != nil {
			return nil, err
		}
		t.Direction = domain.Direction(direction)
		t.SignalType = domain.SignalType(signalType)
		t.Status = domain.TradeStatus(status)
		if exitReason != nil {
			r := domain.ExitReason(*exitReason)
			t.ExitReason = &r
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Create inserts an open trade record.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) error {
	status := t.Status
	if status == "" {
		status = domain.TradeStatusOpen
	}

	const query = `
		INSERT INTO trades (
			id, symbol, direction, signal_type, entry_time, entry_price,
			position_size, leverage, stop_loss_price, density_price,
			breakeven_moved, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Symbol, string(t.Direction), string(t.SignalType), t.EntryTime, t.EntryPrice,
		t.PositionSize, t.Leverage, t.StopLossPrice, t.DensityPrice,
		t.BreakevenMoved, string(status),
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return nil
}

// GetOpenTrades returns every trade that has not been closed.
func (s *TradeStore) GetOpenTrades(ctx context.Context) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE status = $1 ORDER BY entry_time`

	rows, err := s.pool.Query(ctx, query, string(domain.TradeStatusOpen))
	if err != nil {
		return nil, fmt.Errorf("postgres: get open trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// UpdateStopLoss records a new stop-loss price for an open trade.
func (s *TradeStore) UpdateStopLoss(ctx context.Context, id string, stopLoss float64, breakeven bool) error {
	const query = `UPDATE trades SET stop_loss_price = $2, breakeven_moved = $3 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, stopLoss, breakeven)
	if err != nil {
		return fmt.Errorf("postgres: update stop loss %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update stop loss %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Close marks a trade closed with its exit details.
func (s *TradeStore) Close(ctx context.Context, id string, exitPrice float64, exitTime time.Time, pnl, pnlPercent float64, reason domain.ExitReason) error {
	const query = `
		UPDATE trades SET
			status              = $2,
			exit_price          = $3,
			exit_time           = $4,
			profit_loss         = $5,
			profit_loss_percent = $6,
			exit_reason         = $7
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		id, string(domain.TradeStatusClosed), exitPrice, exitTime, pnl, pnlPercent, string(reason),
	)
	if err != nil {
		return fmt.Errorf("postgres: close trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: close trade %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
