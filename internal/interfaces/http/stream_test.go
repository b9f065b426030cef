package http

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablemint/reservegate/internal/guard"
)

func dialStream(t *testing.T, fx *webFixture) (*websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(fx.server.Router())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	// Broadcasts reach only registered clients, so wait for registration.
	require.Eventually(t, func() bool { return fx.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	return conn, func() {
		conn.Close()
		ts.Close()
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) StreamEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event StreamEvent
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestStreamBroadcastsDecisions(t *testing.T) {
	fx := newWebFixture(t, nil)
	conn, cleanup := dialStream(t, fx)
	defer cleanup()

	_, err := fx.guard.GuardedIssue(context.Background(), "anonymous", "alice", big.NewInt(1_000_000))
	require.NoError(t, err)

	event := readEvent(t, conn)
	assert.Equal(t, "decision", event.Type)

	payload, err := json.Marshal(event.Payload)
	require.NoError(t, err)
	var decision IssueResponse
	require.NoError(t, json.Unmarshal(payload, &decision))
	assert.Equal(t, guard.OutcomeBypassed, decision.Outcome)
	assert.Equal(t, "alice", decision.Recipient)
	assert.Equal(t, "1000000", decision.Amount)
}

func TestStreamBroadcastsGateChanges(t *testing.T) {
	fx := newWebFixture(t, nil)
	conn, cleanup := dialStream(t, fx)
	defer cleanup()

	require.NoError(t, fx.gate.SetFeed(context.Background(), "ops", fx.feed))

	event := readEvent(t, conn)
	assert.Equal(t, "gate_change", event.Type)

	payload, err := json.Marshal(event.Payload)
	require.NoError(t, err)
	var change gateChangePayload
	require.NoError(t, json.Unmarshal(payload, &change))
	assert.Equal(t, "feed", change.Kind)
	assert.Equal(t, "custodian", change.New)
	assert.Empty(t, change.Old)
}

func TestStreamClientAccounting(t *testing.T) {
	fx := newWebFixture(t, nil)
	conn, cleanup := dialStream(t, fx)
	defer cleanup()

	assert.Equal(t, 1, fx.hub.ClientCount())

	conn.Close()
	require.Eventually(t, func() bool { return fx.hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStreamBroadcastWithoutClientsIsHarmless(t *testing.T) {
	fx := newWebFixture(t, nil)

	require.NoError(t, fx.hub.RecordDecision(context.Background(), guard.Record{ID: "dec", Outcome: guard.OutcomeAllowed}))
	assert.Equal(t, 0, fx.hub.ClientCount())
}
