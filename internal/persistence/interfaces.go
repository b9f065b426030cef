// Package persistence defines the durable records the gate leaves behind: a
// journal of every issuance decision and an audit trail of admin changes.
// Storage backends implement these interfaces; the Postgres implementation
// lives in the postgres subpackage.
package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate reports an insert that collides with an already journaled id.
var ErrDuplicate = errors.New("record already journaled")

// DecisionRow is the journal row for one issuance attempt.
type DecisionRow struct {
	ID        string                 `json:"id" db:"id"`
	Timestamp time.Time              `json:"ts" db:"ts"`
	Caller    string                 `json:"caller" db:"caller"`
	Recipient string                 `json:"recipient" db:"recipient"`
	Amount    string                 `json:"amount" db:"amount"` // base units, NUMERIC in Postgres
	Feed      string                 `json:"feed,omitempty" db:"feed"`
	Outcome   string                 `json:"outcome" db:"outcome"`
	Reason    string                 `json:"reason,omitempty" db:"reason"`
	Details   map[string]interface{} `json:"details,omitempty" db:"details"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// GateChangeRow audits one applied admin mutation of the gate.
type GateChangeRow struct {
	ID        string    `json:"id" db:"id"`
	Timestamp time.Time `json:"ts" db:"ts"`
	Kind      string    `json:"kind" db:"kind"`
	Caller    string    `json:"caller" db:"caller"`
	OldValue  string    `json:"old_value" db:"old_value"`
	NewValue  string    `json:"new_value" db:"new_value"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DecisionJournal persists issuance decisions for audit and status queries.
type DecisionJournal interface {
	// Insert adds one decision; inserting the same id twice is an ErrDuplicate.
	Insert(ctx context.Context, row DecisionRow) error

	// ListRecent returns the newest decisions first.
	ListRecent(ctx context.Context, limit int) ([]DecisionRow, error)

	// CountByOutcome returns decision counts grouped by outcome.
	CountByOutcome(ctx context.Context) (map[string]int64, error)
}

// GateAudit persists admin changes to the gate configuration.
type GateAudit interface {
	Insert(ctx context.Context, row GateChangeRow) error
	ListRecent(ctx context.Context, limit int) ([]GateChangeRow, error)
}
