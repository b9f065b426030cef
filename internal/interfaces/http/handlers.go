package http

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/stablemint/reservegate/internal/domain/reserve"
	"github.com/stablemint/reservegate/internal/feeds"
	"github.com/stablemint/reservegate/internal/gate"
	"github.com/stablemint/reservegate/internal/guard"
	"github.com/stablemint/reservegate/internal/ledger"
	"github.com/stablemint/reservegate/internal/persistence"
	"github.com/stablemint/reservegate/internal/status"
)

// HandlersConfig wires the handlers to the rest of the service. Journal and
// Mirror are optional; the endpoints that need them degrade when absent.
type HandlersConfig struct {
	Gate    *gate.Gate
	Guard   *guard.IssuanceGuard
	Token   *ledger.Token
	Feeds   *feeds.Registry
	Journal persistence.DecisionJournal
	Mirror  *status.Mirror
	Version string
	Logger  zerolog.Logger
}

// Handlers implements every API endpoint.
type Handlers struct {
	gate      *gate.Gate
	guard     *guard.IssuanceGuard
	token     *ledger.Token
	feeds     *feeds.Registry
	journal   persistence.DecisionJournal
	mirror    *status.Mirror
	version   string
	startTime time.Time
	log       zerolog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(cfg HandlersConfig) *Handlers {
	return &Handlers{
		gate:      cfg.Gate,
		guard:     cfg.Guard,
		token:     cfg.Token,
		feeds:     cfg.Feeds,
		journal:   cfg.Journal,
		mirror:    cfg.Mirror,
		version:   cfg.Version,
		startTime: time.Now(),
		log:       cfg.Logger,
	}
}

// AdminIdentity returns the gate administrator identity the auth middleware
// maps valid admin tokens to.
func (h *Handlers) AdminIdentity() string {
	return h.gate.Admin()
}

// Issue handles POST /v1/issue. An allowed or bypassed mint returns 200, a
// gate denial 409 with the reason and evidence, a mint failure 500. The
// decision record is the body in every case.
func (h *Handlers) Issue(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be valid JSON", err.Error())
		return
	}
	if req.Recipient == "" {
		writeError(w, http.StatusBadRequest, "invalid_recipient", "Field 'recipient' must not be empty", "")
		return
	}
	amount, err := parseAmount(req.Amount, h.token.Decimals())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_amount", "Field 'amount' must be a non-negative decimal within the token's precision", err.Error())
		return
	}

	rec, err := h.guard.GuardedIssue(r.Context(), CallerFrom(r.Context()), req.Recipient, amount)
	if err != nil {
		var denial *reserve.DenialError
		if errors.As(err, &denial) {
			writeJSON(w, http.StatusConflict, issueResponseFrom(rec))
			return
		}
		h.log.Error().Err(err).Str("decision_id", rec.ID).Msg("issuance failed after gate decision")
		writeJSON(w, http.StatusInternalServerError, issueResponseFrom(rec))
		return
	}
	writeJSON(w, http.StatusOK, issueResponseFrom(rec))
}

// GateConfig handles GET /v1/gate.
func (h *Handlers) GateConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gate.Snapshot())
}

// SetFeed handles PUT /v1/gate/feed. The named feed must already be
// registered; null clears the gate.
func (h *Handlers) SetFeed(w http.ResponseWriter, r *http.Request) {
	var req FeedUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be valid JSON", err.Error())
		return
	}

	var feed feeds.Adapter
	if req.Feed != nil {
		var err error
		feed, err = h.feeds.Get(*req.Feed)
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown_feed", "No feed registered under that name", *req.Feed)
			return
		}
	}

	if err := h.gate.SetFeed(r.Context(), CallerFrom(r.Context()), feed); err != nil {
		writeGateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.gate.Snapshot())
}

// SetHeartbeat handles PUT /v1/gate/heartbeat.
func (h *Handlers) SetHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be valid JSON", err.Error())
		return
	}

	heartbeat := time.Duration(req.Seconds) * time.Second
	if err := h.gate.SetHeartbeat(r.Context(), CallerFrom(r.Context()), heartbeat); err != nil {
		writeGateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.gate.Snapshot())
}

// Status handles GET /v1/status: gate snapshot, feed probes, outcome counts,
// and the most recent decision.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Timestamp: time.Now().UTC(),
		Gate:      h.gate.Snapshot(),
	}

	probes := make(map[string]feeds.ProbeResult)
	for _, name := range h.feeds.Names() {
		adapter, err := h.feeds.Get(name)
		if err != nil {
			continue
		}
		if prober, ok := adapter.(feeds.Prober); ok {
			probes[name] = prober.Probe(r.Context())
		}
	}
	if len(probes) > 0 {
		resp.Feeds = probes
	}

	if h.journal != nil {
		if counts, err := h.journal.CountByOutcome(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("outcome counts unavailable")
		} else {
			resp.Outcomes = counts
		}
	}
	if h.mirror != nil {
		if rec, err := h.mirror.LatestDecision(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("latest decision unavailable")
		} else if rec != nil {
			summary := summaryFromRecord(*rec)
			resp.LastDecision = &summary
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Decisions handles GET /v1/decisions?limit=N, newest first.
func (h *Handlers) Decisions(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable", "Decision journal is not configured", "")
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid_parameter", "Parameter 'limit' must be an integer between 1 and 500", "limit="+limitStr)
			return
		}
		limit = n
	}

	rows, err := h.journal.ListRecent(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("decision listing failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Decision listing failed", "")
		return
	}

	decisions := make([]DecisionSummary, 0, len(rows))
	for _, row := range rows {
		decisions = append(decisions, summaryFromRow(row))
	}
	writeJSON(w, http.StatusOK, DecisionsResponse{
		Timestamp: time.Now().UTC(),
		Count:     len(decisions),
		Decisions: decisions,
	})
}

// Balance handles GET /v1/balances/{account}.
func (h *Handlers) Balance(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	if account == "" {
		writeError(w, http.StatusBadRequest, "invalid_account", "Account must not be empty", "")
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		Account:  account,
		Balance:  h.token.BalanceOf(account).String(),
		Decimals: h.token.Decimals(),
	})
}

// Supply handles GET /v1/supply.
func (h *Handlers) Supply(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SupplyResponse{
		Token:       h.token.Name(),
		Symbol:      h.token.Symbol(),
		TotalSupply: h.token.TotalSupply().String(),
		Decimals:    h.token.Decimals(),
	})
}

// NotFound handles unmatched routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, http.StatusNotFound, "not_found", "No such endpoint", r.URL.Path)
}

// writeGateError maps gate admin errors onto HTTP statuses.
func writeGateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gate.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", "Caller is not the gate administrator", "")
	case errors.Is(err, gate.ErrHeartbeatTooLarge):
		writeError(w, http.StatusUnprocessableEntity, "heartbeat_too_large", "Heartbeat exceeds the maximum staleness window", "")
	case errors.Is(err, gate.ErrNegativeHeartbeat):
		writeError(w, http.StatusUnprocessableEntity, "negative_heartbeat", "Heartbeat must not be negative", "")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "Gate update failed", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, statusCode int, code, message, details string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:     code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
}

// parseAmount converts a whole-unit decimal string into base units. Finer
// precision than the token carries is rejected rather than rounded.
func parseAmount(amount string, decimals uint8) (*big.Int, error) {
	if amount == "" {
		return nil, errors.New("amount must not be empty")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	if d.Sign() < 0 {
		return nil, errors.New("amount must not be negative")
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, errors.New("amount has more precision than the token supports")
	}
	return scaled.BigInt(), nil
}

func issueResponseFrom(rec guard.Record) IssueResponse {
	return IssueResponse{
		ID:        rec.ID,
		Timestamp: rec.At,
		Outcome:   rec.Outcome,
		Reason:    string(rec.Reason),
		Recipient: rec.Recipient,
		Amount:    amountString(rec.Amount),
		Feed:      rec.Feed,
		Details:   rec.Details,
	}
}

func summaryFromRecord(rec guard.Record) DecisionSummary {
	return DecisionSummary{
		ID:        rec.ID,
		Timestamp: rec.At,
		Outcome:   rec.Outcome,
		Reason:    string(rec.Reason),
		Recipient: rec.Recipient,
		Amount:    amountString(rec.Amount),
		Feed:      rec.Feed,
	}
}

func summaryFromRow(row persistence.DecisionRow) DecisionSummary {
	return DecisionSummary{
		ID:        row.ID,
		Timestamp: row.Timestamp,
		Outcome:   row.Outcome,
		Reason:    row.Reason,
		Recipient: row.Recipient,
		Amount:    row.Amount,
		Feed:      row.Feed,
	}
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
