package events

import (
	"context"
	"strconv"

	"github.com/stablemint/reservegate/internal/gate"
	"github.com/stablemint/reservegate/internal/guard"
)

// GateNotifier adapts a Publisher into the gate's change notifier, turning
// each applied admin mutation into a typed event on its topic.
type GateNotifier struct {
	pub Publisher
}

func NewGateNotifier(pub Publisher) *GateNotifier {
	return &GateNotifier{pub: pub}
}

func (n *GateNotifier) GateChanged(ctx context.Context, change gate.Change) error {
	switch change.Kind {
	case gate.ChangeKindFeed:
		return n.pub.Publish(ctx, TopicFeedChanged, FeedChanged{
			ID:     change.ID,
			At:     change.At,
			Caller: change.Caller,
			Old:    change.Old,
			New:    change.New,
		})
	case gate.ChangeKindHeartbeat:
		oldSeconds, _ := strconv.ParseInt(change.Old, 10, 64)
		newSeconds, _ := strconv.ParseInt(change.New, 10, 64)
		return n.pub.Publish(ctx, TopicHeartbeatChanged, HeartbeatChanged{
			ID:         change.ID,
			At:         change.At,
			Caller:     change.Caller,
			OldSeconds: oldSeconds,
			NewSeconds: newSeconds,
		})
	}
	return nil
}

// DecisionPublisher adapts a Publisher into a guard decision sink.
type DecisionPublisher struct {
	pub Publisher
}

func NewDecisionPublisher(pub Publisher) *DecisionPublisher {
	return &DecisionPublisher{pub: pub}
}

func (p *DecisionPublisher) RecordDecision(ctx context.Context, rec guard.Record) error {
	amount := "0"
	if rec.Amount != nil {
		amount = rec.Amount.String()
	}
	return p.pub.Publish(ctx, TopicIssuanceDecided, IssuanceDecided{
		ID:        rec.ID,
		At:        rec.At,
		Caller:    rec.Caller,
		Recipient: rec.Recipient,
		Amount:    amount,
		Outcome:   rec.Outcome,
		Reason:    string(rec.Reason),
		Feed:      rec.Feed,
	})
}
