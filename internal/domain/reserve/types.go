// Package reserve implements the proof-of-reserves decision core for
// guarded issuance. Evaluation is pure: callers supply the clock reading,
// the circulating supply view and the latest feed reading, and get back an
// allow/deny decision with the evidence that produced it.
package reserve

import (
	"errors"
	"math/big"
	"time"
)

// Reason identifies why an issuance attempt was denied.
type Reason string

const (
	// ReasonNone marks an allowed decision.
	ReasonNone Reason = ""
	// ReasonInvalidAnswer covers non-positive, missing or unreadable feed values.
	ReasonInvalidAnswer Reason = "invalid_answer"
	// ReasonStaleAnswer covers readings observed before the freshness window.
	ReasonStaleAnswer Reason = "stale_answer"
	// ReasonInsufficientReserves covers supply exceeding attested reserves.
	ReasonInsufficientReserves Reason = "insufficient_reserves"
)

// FeedReading is one attestation from a reserve feed. Value is signed because
// feeds report through signed integer channels; Decimals scales Value into
// whole reserve units. Readings are consumed, never constructed, by the core.
type FeedReading struct {
	Value      *big.Int
	Decimals   uint8
	ObservedAt time.Time
}

// UnderlyingAssetView is the circulating-supply snapshot the decision is
// made against, read fresh from the ledger for every evaluation.
type UnderlyingAssetView struct {
	TotalSupply *big.Int
	Decimals    uint8
}

// Decision is the outcome of one gate evaluation.
type Decision struct {
	Allow   bool
	Reason  Reason
	Details map[string]interface{}
}

// DenialError tags an aborted issuance with the gate's denial reason.
type DenialError struct {
	Reason Reason
}

func (e *DenialError) Error() string {
	return "issuance denied: " + string(e.Reason)
}

// Denied unwraps err into a denial reason when the error chain carries one.
func Denied(err error) (Reason, bool) {
	var de *DenialError
	if errors.As(err, &de) {
		return de.Reason, true
	}
	return ReasonNone, false
}
