// Package guard places the reserve gate in front of the token ledger's mint
// primitive. Every issuance attempt re-reads the feed and the supply, runs
// the pure decision core, and either delegates the mint untouched or aborts
// with the denial reason. Nothing is cached between attempts.
package guard

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stablemint/reservegate/internal/domain/reserve"
	"github.com/stablemint/reservegate/internal/feeds"
	"github.com/stablemint/reservegate/internal/gate"
)

// Ledger is the slice of the token ledger the guard needs: the mint
// primitive it fronts and the supply view decisions are made against.
type Ledger interface {
	Mint(recipient string, amount *big.Int) error
	TotalSupply() *big.Int
	Decimals() uint8
}

const (
	OutcomeAllowed  = "allowed"
	OutcomeDenied   = "denied"
	OutcomeBypassed = "bypassed" // no feed configured, mint passed through
	OutcomeFailed   = "failed"   // gate allowed but the mint itself errored
)

// Record captures one issuance attempt with the evidence that decided it.
type Record struct {
	ID        string                 `json:"id"`
	At        time.Time              `json:"at"`
	Caller    string                 `json:"caller,omitempty"`
	Recipient string                 `json:"recipient"`
	Amount    *big.Int               `json:"amount"`
	Feed      string                 `json:"feed,omitempty"`
	Outcome   string                 `json:"outcome"`
	Reason    reserve.Reason         `json:"reason,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Sink receives the record once an attempt completes. Sinks run outside the
// decision critical section; their failures are logged and never change the
// outcome.
type Sink interface {
	RecordDecision(ctx context.Context, rec Record) error
}

type Config struct {
	Gate   *gate.Gate
	Ledger Ledger
	Clock  func() time.Time // nil means time.Now
	Logger zerolog.Logger
	Sinks  []Sink
}

type IssuanceGuard struct {
	gate   *gate.Gate
	ledger Ledger
	clock  func() time.Time
	log    zerolog.Logger
	sinks  []Sink
}

func New(cfg Config) *IssuanceGuard {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &IssuanceGuard{
		gate:   cfg.Gate,
		ledger: cfg.Ledger,
		clock:  clock,
		log:    cfg.Logger,
		sinks:  cfg.Sinks,
	}
}

// GuardedIssue attempts to mint amount to recipient behind the gate. With no
// feed configured the mint passes straight through. A denial aborts the
// whole attempt with *reserve.DenialError and no state change; the caller
// may resubmit later, the guard never retries.
func (g *IssuanceGuard) GuardedIssue(ctx context.Context, caller, recipient string, amount *big.Int) (Record, error) {
	rec := Record{
		ID:        uuid.NewString(),
		At:        g.clock(),
		Caller:    caller,
		Recipient: recipient,
	}
	if amount != nil {
		rec.Amount = new(big.Int).Set(amount)
	}

	err := g.gate.View(func(feed feeds.Adapter, heartbeat time.Duration) error {
		if feed == nil {
			rec.Outcome = OutcomeBypassed
			return g.ledger.Mint(recipient, amount)
		}
		rec.Feed = feed.Name()

		start := time.Now()
		reading, err := feed.Latest(ctx)
		latencyMs := time.Since(start).Milliseconds()
		if err != nil {
			// An unreadable feed is indistinguishable from a bad answer.
			rec.Outcome = OutcomeDenied
			rec.Reason = reserve.ReasonInvalidAnswer
			rec.Details = map[string]interface{}{
				"feed_error":      err.Error(),
				"feed_latency_ms": latencyMs,
			}
			return &reserve.DenialError{Reason: reserve.ReasonInvalidAnswer}
		}

		view := reserve.UnderlyingAssetView{
			TotalSupply: g.ledger.TotalSupply(),
			Decimals:    g.ledger.Decimals(),
		}
		decision := reserve.Evaluate(rec.At, view, reading, heartbeat)
		decision.Details["feed_latency_ms"] = latencyMs
		rec.Details = decision.Details

		if !decision.Allow {
			rec.Outcome = OutcomeDenied
			rec.Reason = decision.Reason
			return &reserve.DenialError{Reason: decision.Reason}
		}

		rec.Outcome = OutcomeAllowed
		return g.ledger.Mint(recipient, amount)
	})

	if err != nil && rec.Outcome != OutcomeDenied {
		rec.Outcome = OutcomeFailed
		if rec.Details == nil {
			rec.Details = make(map[string]interface{})
		}
		rec.Details["mint_error"] = err.Error()
	}

	g.logAttempt(rec)
	g.dispatch(ctx, rec)
	return rec, err
}

func (g *IssuanceGuard) dispatch(ctx context.Context, rec Record) {
	for _, s := range g.sinks {
		if err := s.RecordDecision(ctx, rec); err != nil {
			g.log.Warn().Err(err).Str("decision_id", rec.ID).Msg("decision sink failed")
		}
	}
}

func (g *IssuanceGuard) logAttempt(rec Record) {
	var evt *zerolog.Event
	if rec.Outcome == OutcomeDenied || rec.Outcome == OutcomeFailed {
		evt = g.log.Warn()
	} else {
		evt = g.log.Info()
	}
	evt.Str("decision_id", rec.ID).
		Str("outcome", rec.Outcome).
		Str("recipient", rec.Recipient)
	if rec.Amount != nil {
		evt.Str("amount", rec.Amount.String())
	}
	if rec.Feed != "" {
		evt.Str("feed", rec.Feed)
	}
	if rec.Reason != reserve.ReasonNone {
		evt.Str("reason", string(rec.Reason))
	}
	evt.Msg("issuance attempt")
}
