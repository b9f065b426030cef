package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/stablemint/reservegate/internal/persistence"
)

// auditRepo implements GateAudit for PostgreSQL
type auditRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewGateAudit creates a PostgreSQL gate change audit store.
func NewGateAudit(db *sqlx.DB, timeout time.Duration) persistence.GateAudit {
	return &auditRepo{
		db:      db,
		timeout: timeout,
	}
}

func (r *auditRepo) Insert(ctx context.Context, row persistence.GateChangeRow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO gate_changes (id, ts, kind, caller, old_value, new_value)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		row.ID, row.Timestamp, row.Kind, row.Caller, row.OldValue, row.NewValue)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("%w: change %s", persistence.ErrDuplicate, row.ID)
		}
		return fmt.Errorf("failed to insert gate change: %w", err)
	}

	return nil
}

func (r *auditRepo) ListRecent(ctx context.Context, limit int) ([]persistence.GateChangeRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, kind, caller, old_value, new_value, created_at
		FROM gate_changes
		ORDER BY ts DESC
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query gate changes: %w", err)
	}
	defer rows.Close()

	var out []persistence.GateChangeRow
	for rows.Next() {
		var row persistence.GateChangeRow
		if err := rows.Scan(
			&row.ID, &row.Timestamp, &row.Kind, &row.Caller,
			&row.OldValue, &row.NewValue, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan gate change: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating gate changes: %w", err)
	}

	return out, nil
}
