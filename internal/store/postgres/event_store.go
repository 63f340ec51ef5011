package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Insert appends a system event. Details are stored as JSONB.
func (s *EventStore) Insert(ctx context.Context, ev domain.SystemEvent) error {
	var details []byte
	if len(ev.Details) > 0 {
		var err error
		details, err = json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("postgres: marshal event details %s: %w", ev.Type, err)
		}
	}

	var symbol *string
	if ev.Symbol != "" {
		symbol = &ev.Symbol
	}

	const query = `
		INSERT INTO system_events (id, event_time, event_type, severity, symbol, message, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.Time, string(ev.Type), string(ev.Severity), symbol, ev.Message, details,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert event %s: %w", ev.Type, err)
	}
	return nil
}

// List returns events newest first with pagination and optional filtering.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.SystemEvent, error) {
	query := `SELECT id, event_time, event_type, severity, symbol, message, details
		FROM system_events WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, opts.Symbol)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND event_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND event_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY event_time DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.SystemEvent
	for rows.Next() {
		var (
			ev               domain.SystemEvent
			evType, severity string
			symbol           *string
			details          []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Time, &evType, &severity, &symbol, &ev.Message, &details); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.Type = domain.EventType(evType)
		ev.Severity = domain.Severity(severity)
		if symbol != nil {
			ev.Symbol = *symbol
		}
		if details != nil {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event details %s: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate events: %w", err)
	}
	return events, nil
}
