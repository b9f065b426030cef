// Package events emits gate lifecycle notifications for downstream
// consumers: admin changes to the gate configuration and the outcome of
// every issuance attempt.
package events

import (
	"context"
	"time"
)

// Event topic constants
const (
	TopicFeedChanged      = "reservegate.gate.feed_changed"
	TopicHeartbeatChanged = "reservegate.gate.heartbeat_changed"
	TopicIssuanceDecided  = "reservegate.issuance.decided"
)

// Event types

type FeedChanged struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Caller string    `json:"caller"`
	Old    string    `json:"old,omitempty"` // empty means the gate was unset
	New    string    `json:"new,omitempty"`
}

type HeartbeatChanged struct {
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
	Caller     string    `json:"caller"`
	OldSeconds int64     `json:"old_seconds"`
	NewSeconds int64     `json:"new_seconds"`
}

type IssuanceDecided struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Caller    string    `json:"caller,omitempty"`
	Recipient string    `json:"recipient"`
	Amount    string    `json:"amount"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Feed      string    `json:"feed,omitempty"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
