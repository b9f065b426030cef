package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablemint/reservegate/internal/feeds"
	"github.com/stablemint/reservegate/internal/gate"
	"github.com/stablemint/reservegate/internal/guard"
	"github.com/stablemint/reservegate/internal/ledger"
	"github.com/stablemint/reservegate/internal/persistence"
)

const testAdminToken = "secret-token"

type webFixture struct {
	gate    *gate.Gate
	token   *ledger.Token
	feed    *feeds.StaticFeed
	guard   *guard.IssuanceGuard
	hub     *Hub
	metrics *Metrics
	server  *Server
}

func newWebFixture(t *testing.T, journal persistence.DecisionJournal) *webFixture {
	t.Helper()
	logger := zerolog.Nop()

	token := ledger.NewToken("Reserve Dollar", "RSVD", 6)
	registry := feeds.NewRegistry()
	feed := feeds.NewStaticFeed("custodian", 6)
	require.NoError(t, registry.Register(feed))

	metrics := NewMetrics()
	hub := NewHub(metrics, logger)

	g, err := gate.New(gate.Config{Admin: "ops", MaxAge: 24 * time.Hour}, logger, hub)
	require.NoError(t, err)

	sinks := []guard.Sink{metrics, hub}
	gd := guard.New(guard.Config{Gate: g, Ledger: token, Logger: logger, Sinks: sinks})

	handlers := NewHandlers(HandlersConfig{
		Gate:    g,
		Guard:   gd,
		Token:   token,
		Feeds:   registry,
		Journal: journal,
		Version: "test",
		Logger:  logger,
	})

	server, err := NewServer(ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		AdminToken:   testAdminToken,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  5 * time.Second,
	}, handlers, hub, metrics, logger)
	require.NoError(t, err)

	return &webFixture{
		gate:    g,
		token:   token,
		feed:    feed,
		guard:   gd,
		hub:     hub,
		metrics: metrics,
		server:  server,
	}
}

func (fx *webFixture) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	fx.server.Router().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), "body: %s", rr.Body.String())
}

func TestIssue_BypassedWhenGateUnset(t *testing.T) {
	fx := newWebFixture(t, nil)

	rr := fx.request(t, "POST", "/v1/issue", "", IssueRequest{Recipient: "alice", Amount: "100.5"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp IssueResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, guard.OutcomeBypassed, resp.Outcome)
	assert.Equal(t, "100500000", resp.Amount)
	assert.Equal(t, "100500000", fx.token.BalanceOf("alice").String())
}

func TestIssue_AllowedWhenReservesCover(t *testing.T) {
	fx := newWebFixture(t, nil)
	require.NoError(t, fx.feed.SetString("1000000", time.Now()))
	require.NoError(t, fx.gate.SetFeed(context.Background(), "ops", fx.feed))

	rr := fx.request(t, "POST", "/v1/issue", "", IssueRequest{Recipient: "alice", Amount: "250"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp IssueResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, guard.OutcomeAllowed, resp.Outcome)
	assert.Equal(t, "custodian", resp.Feed)
	assert.NotEmpty(t, resp.Details["normalized_reserves"])
	assert.Equal(t, "250000000", fx.token.BalanceOf("alice").String())
}

func TestIssue_DeniedWhenReservesShort(t *testing.T) {
	fx := newWebFixture(t, nil)
	require.NoError(t, fx.token.Mint("treasury", big.NewInt(200_000_000)))
	require.NoError(t, fx.feed.SetString("100", time.Now()))
	require.NoError(t, fx.gate.SetFeed(context.Background(), "ops", fx.feed))

	rr := fx.request(t, "POST", "/v1/issue", "", IssueRequest{Recipient: "alice", Amount: "1"})
	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())

	var resp IssueResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, guard.OutcomeDenied, resp.Outcome)
	assert.Equal(t, "insufficient_reserves", resp.Reason)
	assert.Equal(t, 0, fx.token.BalanceOf("alice").Sign())
}

func TestIssue_DeniedWhenReadingStale(t *testing.T) {
	fx := newWebFixture(t, nil)
	fx.feed.Set(big.NewInt(1_000_000_000), time.Now().Add(-2*time.Hour))
	require.NoError(t, fx.gate.SetFeed(context.Background(), "ops", fx.feed))
	require.NoError(t, fx.gate.SetHeartbeat(context.Background(), "ops", time.Hour))

	rr := fx.request(t, "POST", "/v1/issue", "", IssueRequest{Recipient: "alice", Amount: "1"})
	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())

	var resp IssueResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, "stale_answer", resp.Reason)
}

func TestIssue_RequestValidation(t *testing.T) {
	fx := newWebFixture(t, nil)

	tests := []struct {
		name      string
		body      interface{}
		wantError string
	}{
		{"missing_recipient", IssueRequest{Amount: "10"}, "invalid_recipient"},
		{"empty_amount", IssueRequest{Recipient: "alice"}, "invalid_amount"},
		{"negative_amount", IssueRequest{Recipient: "alice", Amount: "-5"}, "invalid_amount"},
		{"non_numeric_amount", IssueRequest{Recipient: "alice", Amount: "plenty"}, "invalid_amount"},
		{"too_precise_amount", IssueRequest{Recipient: "alice", Amount: "1.0000001"}, "invalid_amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := fx.request(t, "POST", "/v1/issue", "", tt.body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			var resp ErrorResponse
			decodeBody(t, rr, &resp)
			assert.Equal(t, tt.wantError, resp.Error)
		})
	}

	t.Run("malformed_json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/issue", bytes.NewBufferString("{not json"))
		rr := httptest.NewRecorder()
		fx.server.Router().ServeHTTP(rr, req)
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGateAdmin_Flow(t *testing.T) {
	fx := newWebFixture(t, nil)
	feedName := "custodian"

	t.Run("defaults", func(t *testing.T) {
		rr := fx.request(t, "GET", "/v1/gate", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var snap gate.Snapshot
		decodeBody(t, rr, &snap)
		assert.Empty(t, snap.Feed)
		assert.Equal(t, int64(86400), snap.HeartbeatSeconds)
		assert.Equal(t, int64(86400), snap.MaxAgeSeconds)
	})

	t.Run("set_feed_without_token_forbidden", func(t *testing.T) {
		rr := fx.request(t, "PUT", "/v1/gate/feed", "", FeedUpdateRequest{Feed: &feedName})
		require.Equal(t, http.StatusForbidden, rr.Code)
		var resp ErrorResponse
		decodeBody(t, rr, &resp)
		assert.Equal(t, "unauthorized", resp.Error)
	})

	t.Run("set_feed_with_wrong_token_forbidden", func(t *testing.T) {
		rr := fx.request(t, "PUT", "/v1/gate/feed", "not-the-token", FeedUpdateRequest{Feed: &feedName})
		require.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("set_unknown_feed_not_found", func(t *testing.T) {
		unknown := "chainlink"
		rr := fx.request(t, "PUT", "/v1/gate/feed", testAdminToken, FeedUpdateRequest{Feed: &unknown})
		require.Equal(t, http.StatusNotFound, rr.Code)
		var resp ErrorResponse
		decodeBody(t, rr, &resp)
		assert.Equal(t, "unknown_feed", resp.Error)
	})

	t.Run("set_feed", func(t *testing.T) {
		rr := fx.request(t, "PUT", "/v1/gate/feed", testAdminToken, FeedUpdateRequest{Feed: &feedName})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var snap gate.Snapshot
		decodeBody(t, rr, &snap)
		assert.Equal(t, "custodian", snap.Feed)
	})

	t.Run("set_heartbeat", func(t *testing.T) {
		rr := fx.request(t, "PUT", "/v1/gate/heartbeat", testAdminToken, HeartbeatUpdateRequest{Seconds: 3600})
		require.Equal(t, http.StatusOK, rr.Code)
		var snap gate.Snapshot
		decodeBody(t, rr, &snap)
		assert.Equal(t, int64(3600), snap.HeartbeatSeconds)
	})

	t.Run("heartbeat_beyond_max_rejected", func(t *testing.T) {
		rr := fx.request(t, "PUT", "/v1/gate/heartbeat", testAdminToken, HeartbeatUpdateRequest{Seconds: 86401})
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		var resp ErrorResponse
		decodeBody(t, rr, &resp)
		assert.Equal(t, "heartbeat_too_large", resp.Error)
		assert.Equal(t, time.Hour, fx.gate.Heartbeat())
	})

	t.Run("negative_heartbeat_rejected", func(t *testing.T) {
		rr := fx.request(t, "PUT", "/v1/gate/heartbeat", testAdminToken, HeartbeatUpdateRequest{Seconds: -1})
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		var resp ErrorResponse
		decodeBody(t, rr, &resp)
		assert.Equal(t, "negative_heartbeat", resp.Error)
	})

	t.Run("zero_heartbeat_selects_widest_window", func(t *testing.T) {
		rr := fx.request(t, "PUT", "/v1/gate/heartbeat", testAdminToken, HeartbeatUpdateRequest{Seconds: 0})
		require.Equal(t, http.StatusOK, rr.Code)
		var snap gate.Snapshot
		decodeBody(t, rr, &snap)
		assert.Equal(t, int64(86400), snap.HeartbeatSeconds)
	})

	t.Run("clear_feed", func(t *testing.T) {
		rr := fx.request(t, "PUT", "/v1/gate/feed", testAdminToken, FeedUpdateRequest{Feed: nil})
		require.Equal(t, http.StatusOK, rr.Code)
		var snap gate.Snapshot
		decodeBody(t, rr, &snap)
		assert.Empty(t, snap.Feed)
	})
}

func TestBalanceAndSupplyEndpoints(t *testing.T) {
	fx := newWebFixture(t, nil)
	require.NoError(t, fx.token.Mint("alice", big.NewInt(42_000_000)))

	rr := fx.request(t, "GET", "/v1/balances/alice", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var balance BalanceResponse
	decodeBody(t, rr, &balance)
	assert.Equal(t, "alice", balance.Account)
	assert.Equal(t, "42000000", balance.Balance)
	assert.Equal(t, uint8(6), balance.Decimals)

	rr = fx.request(t, "GET", "/v1/balances/nobody", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var empty BalanceResponse
	decodeBody(t, rr, &empty)
	assert.Equal(t, "0", empty.Balance)

	rr = fx.request(t, "GET", "/v1/supply", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var supply SupplyResponse
	decodeBody(t, rr, &supply)
	assert.Equal(t, "Reserve Dollar", supply.Token)
	assert.Equal(t, "RSVD", supply.Symbol)
	assert.Equal(t, "42000000", supply.TotalSupply)
}

type fakeJournal struct {
	rows   []persistence.DecisionRow
	counts map[string]int64
}

func (f *fakeJournal) Insert(ctx context.Context, row persistence.DecisionRow) error {
	f.rows = append([]persistence.DecisionRow{row}, f.rows...)
	return nil
}

func (f *fakeJournal) ListRecent(ctx context.Context, limit int) ([]persistence.DecisionRow, error) {
	if limit > len(f.rows) {
		limit = len(f.rows)
	}
	return f.rows[:limit], nil
}

func (f *fakeJournal) CountByOutcome(ctx context.Context) (map[string]int64, error) {
	return f.counts, nil
}

func TestStatusEndpoint(t *testing.T) {
	journal := &fakeJournal{counts: map[string]int64{"allowed": 7, "denied": 2}}
	fx := newWebFixture(t, journal)
	require.NoError(t, fx.gate.SetFeed(context.Background(), "ops", fx.feed))

	rr := fx.request(t, "GET", "/v1/status", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp StatusResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, "custodian", resp.Gate.Feed)
	assert.Equal(t, int64(7), resp.Outcomes["allowed"])
	assert.Equal(t, int64(2), resp.Outcomes["denied"])
	assert.Nil(t, resp.LastDecision)
}

func TestDecisionsEndpoint(t *testing.T) {
	journal := &fakeJournal{
		rows: []persistence.DecisionRow{
			{ID: "new", Outcome: "denied", Reason: "stale_answer", Recipient: "alice", Amount: "100"},
			{ID: "old", Outcome: "allowed", Recipient: "bob", Amount: "250"},
		},
	}
	fx := newWebFixture(t, journal)

	t.Run("lists_newest_first", func(t *testing.T) {
		rr := fx.request(t, "GET", "/v1/decisions", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var resp DecisionsResponse
		decodeBody(t, rr, &resp)
		require.Equal(t, 2, resp.Count)
		assert.Equal(t, "new", resp.Decisions[0].ID)
		assert.Equal(t, "stale_answer", resp.Decisions[0].Reason)
	})

	t.Run("limit_applies", func(t *testing.T) {
		rr := fx.request(t, "GET", "/v1/decisions?limit=1", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var resp DecisionsResponse
		decodeBody(t, rr, &resp)
		assert.Equal(t, 1, resp.Count)
	})

	t.Run("invalid_limit_rejected", func(t *testing.T) {
		rr := fx.request(t, "GET", "/v1/decisions?limit=0", "", nil)
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unavailable_without_journal", func(t *testing.T) {
		bare := newWebFixture(t, nil)
		rr := bare.request(t, "GET", "/v1/decisions", "", nil)
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		var resp ErrorResponse
		decodeBody(t, rr, &resp)
		assert.Equal(t, "journal_unavailable", resp.Error)
	})
}

func TestHealthEndpoint(t *testing.T) {
	fx := newWebFixture(t, nil)

	rr := fx.request(t, "GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp HealthResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, "degraded", resp.Status, "unset gate should degrade, not fail")
	assert.Equal(t, "warn", resp.Checks["gate"].Status)
	assert.Equal(t, "test", resp.Version)
	assert.NotEmpty(t, resp.System.GoVersion)
	assert.Greater(t, resp.System.NumGoroutines, 0)
}

func TestNotFoundRoute(t *testing.T) {
	fx := newWebFixture(t, nil)

	rr := fx.request(t, "GET", "/v1/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	var resp ErrorResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, "not_found", resp.Error)
}

func TestRequestIDAssigned(t *testing.T) {
	fx := newWebFixture(t, nil)

	rr := fx.request(t, "GET", "/v1/supply", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, rr.Header().Get("X-Request-ID"), 8)
}
