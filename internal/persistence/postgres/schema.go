package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// NUMERIC(78,0) covers the full 256-bit amount range tokens use.
const schema = `
CREATE TABLE IF NOT EXISTS gate_decisions (
	id          UUID PRIMARY KEY,
	ts          TIMESTAMPTZ NOT NULL,
	caller      TEXT NOT NULL DEFAULT '',
	recipient   TEXT NOT NULL,
	amount      NUMERIC(78,0) NOT NULL,
	feed        TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	details     JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_gate_decisions_ts ON gate_decisions (ts DESC);
CREATE INDEX IF NOT EXISTS idx_gate_decisions_outcome ON gate_decisions (outcome);

CREATE TABLE IF NOT EXISTS gate_changes (
	id          UUID PRIMARY KEY,
	ts          TIMESTAMPTZ NOT NULL,
	kind        TEXT NOT NULL,
	caller      TEXT NOT NULL,
	old_value   TEXT NOT NULL DEFAULT '',
	new_value   TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_gate_changes_ts ON gate_changes (ts DESC);
`

// Connect opens a Postgres pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the journal and audit tables when missing.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
