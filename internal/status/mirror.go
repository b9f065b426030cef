// Package status mirrors the latest gate state into Redis so dashboards and
// the status endpoint read cheaply. The mirror is written after decisions
// complete; decision logic itself never reads from it, keeping the no-cache
// rule for feed readings and supply intact.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stablemint/reservegate/internal/gate"
	"github.com/stablemint/reservegate/internal/guard"
)

const (
	keyLastDecision = "reservegate:status:last_decision"
	keyGate         = "reservegate:status:gate"
)

type Mirror struct {
	rdb      *redis.Client
	ttl      time.Duration
	snapshot func() gate.Snapshot
}

// NewMirror wraps an existing Redis client. A zero ttl keeps entries until
// overwritten.
func NewMirror(rdb *redis.Client, ttl time.Duration) *Mirror {
	return &Mirror{rdb: rdb, ttl: ttl}
}

// BindGate gives the mirror a way to re-snapshot the gate when notified of
// changes. Wiring calls this once the gate exists.
func (m *Mirror) BindGate(snapshot func() gate.Snapshot) {
	m.snapshot = snapshot
}

// RecordDecision implements the guard sink: the newest record replaces the
// previous one.
func (m *Mirror) RecordDecision(ctx context.Context, rec guard.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	return m.rdb.Set(ctx, keyLastDecision, data, m.ttl).Err()
}

// LatestDecision returns the mirrored record, nil when none is stored.
func (m *Mirror) LatestDecision(ctx context.Context) (*guard.Record, error) {
	data, err := m.rdb.Get(ctx, keyLastDecision).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mirrored decision: %w", err)
	}
	var rec guard.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal mirrored decision: %w", err)
	}
	return &rec, nil
}

// SetGate mirrors the gate's configuration snapshot.
func (m *Mirror) SetGate(ctx context.Context, snap gate.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal gate snapshot: %w", err)
	}
	return m.rdb.Set(ctx, keyGate, data, m.ttl).Err()
}

// Gate returns the mirrored gate snapshot, nil when none is stored.
func (m *Mirror) Gate(ctx context.Context) (*gate.Snapshot, error) {
	data, err := m.rdb.Get(ctx, keyGate).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mirrored gate: %w", err)
	}
	var snap gate.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal mirrored gate: %w", err)
	}
	return &snap, nil
}

// GateChanged implements the gate notifier by mirroring a fresh snapshot of
// the gate after every applied change.
func (m *Mirror) GateChanged(ctx context.Context, change gate.Change) error {
	if m.snapshot == nil {
		return nil
	}
	return m.SetGate(ctx, m.snapshot())
}
