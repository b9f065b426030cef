package status

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablemint/reservegate/internal/gate"
	"github.com/stablemint/reservegate/internal/guard"
)

func TestMirror_RecordAndReadDecision(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := NewMirror(rdb, time.Minute)
	ctx := context.Background()

	rec := guard.Record{
		ID:        "dec-1",
		At:        time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC),
		Recipient: "alice",
		Amount:    big.NewInt(5_000_000),
		Feed:      "primary",
		Outcome:   guard.OutcomeAllowed,
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectSet(keyLastDecision, data, time.Minute).SetVal("OK")
	require.NoError(t, m.RecordDecision(ctx, rec))

	mock.ExpectGet(keyLastDecision).SetVal(string(data))
	got, err := m.LatestDecision(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "dec-1", got.ID)
	assert.Equal(t, "5000000", got.Amount.String())
	assert.Equal(t, guard.OutcomeAllowed, got.Outcome)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMirror_LatestDecisionEmpty(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := NewMirror(rdb, 0)

	mock.ExpectGet(keyLastDecision).RedisNil()
	got, err := m.LatestDecision(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMirror_GateSnapshot(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := NewMirror(rdb, 0)
	ctx := context.Background()

	snap := gate.Snapshot{Feed: "primary", HeartbeatSeconds: 3600, MaxAgeSeconds: 604800}
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectSet(keyGate, data, time.Duration(0)).SetVal("OK")
	require.NoError(t, m.SetGate(ctx, snap))

	mock.ExpectGet(keyGate).SetVal(string(data))
	got, err := m.Gate(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snap, *got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMirror_GateChangedMirrorsFreshSnapshot(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := NewMirror(rdb, 0)

	snap := gate.Snapshot{Feed: "backup", HeartbeatSeconds: 600, MaxAgeSeconds: 604800}
	m.BindGate(func() gate.Snapshot { return snap })

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	mock.ExpectSet(keyGate, data, time.Duration(0)).SetVal("OK")

	require.NoError(t, m.GateChanged(context.Background(), gate.Change{Kind: gate.ChangeKindFeed}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMirror_UnboundGateChangeIsNoop(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := NewMirror(rdb, 0)

	require.NoError(t, m.GateChanged(context.Background(), gate.Change{Kind: gate.ChangeKindFeed}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
