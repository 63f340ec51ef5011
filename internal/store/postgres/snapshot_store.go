package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. Levels are
// stored as JSONB arrays.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// SaveOrderBookSnapshot persists the full book.
func (s *SnapshotStore) SaveOrderBookSnapshot(ctx context.Context, book domain.OrderBook) error {
	bids, err := json.Marshal(nonNilLevels(book.Bids))
	if err != nil {
		return fmt.Errorf("postgres: marshal bids %s: %w", book.Symbol, err)
	}
	asks, err := json.Marshal(nonNilLevels(book.Asks))
	if err != nil {
		return fmt.Errorf("postgres: marshal asks %s: %w", book.Symbol, err)
	}

	takenAt := book.Timestamp
	if takenAt.IsZero() {
		takenAt = time.Now().UTC()
	}

	const query = `INSERT INTO orderbook_snapshots (symbol, taken_at, bids, asks) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, book.Symbol, takenAt, bids, asks); err != nil {
		return fmt.Errorf("postgres: save snapshot %s: %w", book.Symbol, err)
	}
	return nil
}

// ListBefore returns up to limit snapshots taken before the cutoff, oldest
// first. A non-positive limit returns all of them.
func (s *SnapshotStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.OrderBook, error) {
	query := `SELECT symbol, taken_at, bids, asks FROM orderbook_snapshots
		WHERE taken_at < $1 ORDER BY taken_at`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderBook
	for rows.Next() {
		var (
			b          domain.OrderBook
			bids, asks []byte
		)
		if err := rows.Scan(&b.Symbol, &b.Timestamp, &bids, &asks); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		if err := json.Unmarshal(bids, &b.Bids); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal bids %s: %w", b.Symbol, err)
		}
		if err := json.Unmarshal(asks, &b.Asks); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal asks %s: %w", b.Symbol, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate snapshots: %w", err)
	}
	return out, nil
}

// DeleteBefore removes snapshots taken before the cutoff.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orderbook_snapshots WHERE taken_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nonNilLevels(l []domain.PriceLevel) []domain.PriceLevel {
	if l == nil {
		return []domain.PriceLevel{}
	}
	return l
}
