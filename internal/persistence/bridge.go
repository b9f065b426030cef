package persistence

import (
	"context"

	"github.com/stablemint/reservegate/internal/gate"
	"github.com/stablemint/reservegate/internal/guard"
)

// JournalSink adapts a DecisionJournal into a guard decision sink.
type JournalSink struct {
	journal DecisionJournal
}

func NewJournalSink(journal DecisionJournal) *JournalSink {
	return &JournalSink{journal: journal}
}

func (s *JournalSink) RecordDecision(ctx context.Context, rec guard.Record) error {
	amount := "0"
	if rec.Amount != nil {
		amount = rec.Amount.String()
	}
	return s.journal.Insert(ctx, DecisionRow{
		ID:        rec.ID,
		Timestamp: rec.At,
		Caller:    rec.Caller,
		Recipient: rec.Recipient,
		Amount:    amount,
		Feed:      rec.Feed,
		Outcome:   rec.Outcome,
		Reason:    string(rec.Reason),
		Details:   rec.Details,
	})
}

// AuditNotifier adapts a GateAudit into a gate change notifier.
type AuditNotifier struct {
	audit GateAudit
}

func NewAuditNotifier(audit GateAudit) *AuditNotifier {
	return &AuditNotifier{audit: audit}
}

func (n *AuditNotifier) GateChanged(ctx context.Context, change gate.Change) error {
	return n.audit.Insert(ctx, GateChangeRow{
		ID:        change.ID,
		Timestamp: change.At,
		Kind:      change.Kind,
		Caller:    change.Caller,
		OldValue:  change.Old,
		NewValue:  change.New,
	})
}
