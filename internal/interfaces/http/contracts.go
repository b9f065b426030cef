package http

import (
	"time"

	"github.com/stablemint/reservegate/internal/feeds"
	"github.com/stablemint/reservegate/internal/gate"
)

// IssueRequest asks the guard to mint tokens. Amount is a decimal string in
// whole token units ("125000.50"); it is converted to base units using the
// ledger's configured decimals.
type IssueRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// IssueResponse reports one issuance attempt and the evidence behind it.
type IssueResponse struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Outcome   string                 `json:"outcome"`
	Reason    string                 `json:"reason,omitempty"`
	Recipient string                 `json:"recipient"`
	Amount    string                 `json:"amount"`
	Feed      string                 `json:"feed,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// FeedUpdateRequest switches the gate to a registered feed. A null feed
// clears the gate and returns issuance to pass-through.
type FeedUpdateRequest struct {
	Feed *string `json:"feed"`
}

// HeartbeatUpdateRequest sets the staleness window in seconds. Zero selects
// the widest permitted window.
type HeartbeatUpdateRequest struct {
	Seconds int64 `json:"seconds"`
}

// BalanceResponse reports one account's balance in base units.
type BalanceResponse struct {
	Account  string `json:"account"`
	Balance  string `json:"balance"`
	Decimals uint8  `json:"decimals"`
}

// SupplyResponse reports the ledger's total supply in base units.
type SupplyResponse struct {
	Token       string `json:"token"`
	Symbol      string `json:"symbol"`
	TotalSupply string `json:"total_supply"`
	Decimals    uint8  `json:"decimals"`
}

// StatusResponse aggregates the gate configuration, feed health, and recent
// decision activity into one operator view.
type StatusResponse struct {
	Timestamp    time.Time                    `json:"timestamp"`
	Gate         gate.Snapshot                `json:"gate"`
	Feeds        map[string]feeds.ProbeResult `json:"feeds,omitempty"`
	Outcomes     map[string]int64             `json:"outcomes,omitempty"`
	LastDecision *DecisionSummary             `json:"last_decision,omitempty"`
}

// DecisionSummary is the trimmed decision view embedded in status responses.
type DecisionSummary struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Recipient string    `json:"recipient"`
	Amount    string    `json:"amount"`
	Feed      string    `json:"feed,omitempty"`
}

// DecisionsResponse lists recent issuance decisions, newest first.
type DecisionsResponse struct {
	Timestamp time.Time         `json:"timestamp"`
	Count     int               `json:"count"`
	Decisions []DecisionSummary `json:"decisions"`
}

// ErrorResponse is the uniform error body for every non-2xx API response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
