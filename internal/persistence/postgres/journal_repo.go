package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/stablemint/reservegate/internal/persistence"
)

// journalRepo implements DecisionJournal for PostgreSQL
type journalRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewDecisionJournal creates a PostgreSQL decision journal.
func NewDecisionJournal(db *sqlx.DB, timeout time.Duration) persistence.DecisionJournal {
	return &journalRepo{
		db:      db,
		timeout: timeout,
	}
}

func (r *journalRepo) Insert(ctx context.Context, row persistence.DecisionRow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	detailsJSON, err := json.Marshal(row.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	query := `
		INSERT INTO gate_decisions (id, ts, caller, recipient, amount, feed, outcome, reason, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.ExecContext(ctx, query,
		row.ID, row.Timestamp, row.Caller, row.Recipient,
		row.Amount, row.Feed, row.Outcome, row.Reason, detailsJSON)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("%w: decision %s", persistence.ErrDuplicate, row.ID)
		}
		return fmt.Errorf("failed to insert decision: %w", err)
	}

	return nil
}

func (r *journalRepo) ListRecent(ctx context.Context, limit int) ([]persistence.DecisionRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, caller, recipient, amount, feed, outcome, reason, details, created_at
		FROM gate_decisions
		ORDER BY ts DESC
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []persistence.DecisionRow
	for rows.Next() {
		var row persistence.DecisionRow
		var detailsJSON []byte

		if err := rows.Scan(
			&row.ID, &row.Timestamp, &row.Caller, &row.Recipient,
			&row.Amount, &row.Feed, &row.Outcome, &row.Reason,
			&detailsJSON, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}

		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &row.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}

	return out, nil
}

func (r *journalRepo) CountByOutcome(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT outcome, COUNT(*)
		FROM gate_decisions
		GROUP BY outcome
		ORDER BY outcome`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count decisions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts[outcome] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcome counts: %w", err)
	}

	return counts, nil
}
