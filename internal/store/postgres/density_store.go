package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// DensityStore implements domain.DensityStore using PostgreSQL.
type DensityStore struct {
	pool *pgxpool.Pool
}

// NewDensityStore creates a new DensityStore backed by the given connection pool.
func NewDensityStore(pool *pgxpool.Pool) *DensityStore {
	return &DensityStore{pool: pool}
}

const densitySelectCols = `symbol, price_level, side, volume, initial_volume,
	volume_percent, relative_strength, is_cluster, appeared_at, disappeared_at`

func scanDensityRows(rows pgx.Rows) ([]domain.Density, error) {
	var out []domain.Density
	for rows.Next() {
		var (
			d    domain.Density
			side string
		)
		if err := rows.Scan(
			&d.Symbol, &d.Price, &side, &d.Volume, &d.InitialVolume,
			&d.VolumePercent, &d.RelativeStrength, &d.IsCluster,
			&d.AppearedAt, &d.DisappearedAt,
		); err != nil {
			return nil, err
		}
		d.Side = domain.Side(side)
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveDensity records a newly appeared density.
func (s *DensityStore) SaveDensity(ctx context.Context, d domain.Density) error {
	const query = `
		INSERT INTO densities (
			symbol, price_level, side, volume, initial_volume,
			volume_percent, relative_strength, is_cluster, appeared_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		d.Symbol, d.Price, string(d.Side), d.Volume, d.InitialVolume,
		d.VolumePercent, d.RelativeStrength, d.IsCluster, d.AppearedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save density %s@%v: %w", d.Symbol, d.Price, err)
	}
	return nil
}

// MarkDensityDisappeared stamps every still-active row for (symbol, price,
// side). Marking a density that has no active row is not an error.
func (s *DensityStore) MarkDensityDisappeared(ctx context.Context, symbol string, price float64, side domain.Side, at time.Time) error {
	const query = `
		UPDATE densities SET disappeared_at = $4
		WHERE symbol = $1 AND price_level = $2 AND side = $3 AND disappeared_at IS NULL`

	if _, err := s.pool.Exec(ctx, query, symbol, price, string(side), at); err != nil {
		return fmt.Errorf("postgres: mark density disappeared %s@%v: %w", symbol, price, err)
	}
	return nil
}

// ListActive returns the densities of symbol that have not disappeared.
func (s *DensityStore) ListActive(ctx context.Context, symbol string) ([]domain.Density, error) {
	query := `SELECT ` + densitySelectCols + ` FROM densities
		WHERE symbol = $1 AND disappeared_at IS NULL
		ORDER BY price_level`

	rows, err := s.pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active densities %s: %w", symbol, err)
	}
	defer rows.Close()

	out, err := scanDensityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan densities: %w", err)
	}
	return out, nil
}

// ListDisappearedBefore returns densities that disappeared before the cutoff.
func (s *DensityStore) ListDisappearedBefore(ctx context.Context, before time.Time) ([]domain.Density, error) {
	query := `SELECT ` + densitySelectCols + ` FROM densities
		WHERE disappeared_at IS NOT NULL AND disappeared_at < $1
		ORDER BY disappeared_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list disappeared densities: %w", err)
	}
	defer rows.Close()

	out, err := scanDensityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan densities: %w", err)
	}
	return out, nil
}

// DeleteDisappearedBefore removes densities that disappeared before the cutoff.
func (s *DensityStore) DeleteDisappearedBefore(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM densities WHERE disappeared_at IS NOT NULL AND disappeared_at < $1`

	tag, err := s.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete disappeared densities: %w", err)
	}
	return tag.RowsAffected(), nil
}
