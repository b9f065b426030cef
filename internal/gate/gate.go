// Package gate holds the issuance gate's mutable configuration: which
// reserve feed backs decisions and how fresh its readings must be. All
// mutation goes through administrator-checked setters; reads used for
// decisions happen under the same lock the setters take, so a decision can
// never observe a half-applied change.
package gate

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stablemint/reservegate/internal/feeds"
)

// DefaultMaxAge bounds how wide an admin may set the staleness window.
const DefaultMaxAge = 7 * 24 * time.Hour

var (
	ErrUnauthorized      = errors.New("caller is not the gate administrator")
	ErrHeartbeatTooLarge = errors.New("heartbeat exceeds the maximum staleness window")
	ErrNegativeHeartbeat = errors.New("heartbeat must not be negative")
)

const (
	ChangeKindFeed      = "feed"
	ChangeKindHeartbeat = "heartbeat"
)

// Change records one applied admin mutation. Old and New hold feed names for
// feed changes and effective seconds for heartbeat changes.
type Change struct {
	ID     string
	At     time.Time
	Kind   string
	Caller string
	Old    string
	New    string
}

// Notifier receives changes after they are applied. Notifier failures are
// logged and never undo the change.
type Notifier interface {
	GateChanged(ctx context.Context, change Change) error
}

// Config fixes the immutable parts of a Gate at construction.
type Config struct {
	Admin  string
	MaxAge time.Duration // zero means DefaultMaxAge
}

// Snapshot is the read-only view served by status surfaces.
type Snapshot struct {
	Feed             string `json:"feed,omitempty"`
	HeartbeatSeconds int64  `json:"heartbeat_seconds"`
	MaxAgeSeconds    int64  `json:"max_age_seconds"`
}

type Gate struct {
	mu        sync.RWMutex
	feed      feeds.Adapter
	heartbeat time.Duration

	admin  string
	maxAge time.Duration

	clock     func() time.Time
	log       zerolog.Logger
	notifiers []Notifier
}

// New builds a gate with no feed configured and the heartbeat at the widest
// permitted window. Issuance passes through untouched until an admin sets a
// feed.
func New(cfg Config, logger zerolog.Logger, notifiers ...Notifier) (*Gate, error) {
	if cfg.Admin == "" {
		return nil, errors.New("gate admin identity must not be empty")
	}
	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	if maxAge < 0 {
		return nil, errors.New("max age must be positive")
	}
	return &Gate{
		heartbeat: maxAge,
		admin:     cfg.Admin,
		maxAge:    maxAge,
		clock:     time.Now,
		log:       logger,
		notifiers: notifiers,
	}, nil
}

// WithClock overrides the gate's clock, for tests.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// authorize is the single admin check every mutating operation runs first.
func (g *Gate) authorize(caller string) error {
	if caller != g.admin {
		return ErrUnauthorized
	}
	return nil
}

// SetFeed swaps the reserve feed backing the gate. A nil feed clears the
// gate entirely, returning issuance to unguarded pass-through.
func (g *Gate) SetFeed(ctx context.Context, caller string, feed feeds.Adapter) error {
	if err := g.authorize(caller); err != nil {
		return err
	}

	g.mu.Lock()
	old := g.feed
	g.feed = feed
	g.mu.Unlock()

	change := Change{
		ID:     uuid.NewString(),
		At:     g.clock(),
		Kind:   ChangeKindFeed,
		Caller: caller,
		Old:    adapterName(old),
		New:    adapterName(feed),
	}
	g.log.Info().
		Str("caller", caller).
		Str("old", change.Old).
		Str("new", change.New).
		Msg("gate feed changed")
	g.notify(ctx, change)
	return nil
}

// SetHeartbeat narrows or widens the staleness window. Zero selects the
// widest permitted window; anything beyond the max age is rejected with the
// stored value untouched.
func (g *Gate) SetHeartbeat(ctx context.Context, caller string, heartbeat time.Duration) error {
	if err := g.authorize(caller); err != nil {
		return err
	}
	if heartbeat < 0 {
		return ErrNegativeHeartbeat
	}
	if heartbeat > g.maxAge {
		return ErrHeartbeatTooLarge
	}
	effective := heartbeat
	if effective == 0 {
		effective = g.maxAge
	}

	g.mu.Lock()
	old := g.heartbeat
	g.heartbeat = effective
	g.mu.Unlock()

	change := Change{
		ID:     uuid.NewString(),
		At:     g.clock(),
		Kind:   ChangeKindHeartbeat,
		Caller: caller,
		Old:    strconv.FormatInt(int64(old/time.Second), 10),
		New:    strconv.FormatInt(int64(effective/time.Second), 10),
	}
	g.log.Info().
		Str("caller", caller).
		Dur("old", old).
		Dur("new", effective).
		Msg("gate heartbeat changed")
	g.notify(ctx, change)
	return nil
}

// Feed returns the configured feed, nil when the gate is unset.
func (g *Gate) Feed() feeds.Adapter {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.feed
}

// Heartbeat returns the effective staleness window.
func (g *Gate) Heartbeat() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.heartbeat
}

// MaxAge is fixed at construction.
func (g *Gate) MaxAge() time.Duration { return g.maxAge }

// Admin returns the administrator identity the gate authorizes against.
func (g *Gate) Admin() string { return g.admin }

// View runs fn with the current feed and heartbeat under the read lock, so
// a whole decide-and-mint sequence cannot interleave with an admin change.
func (g *Gate) View(fn func(feed feeds.Adapter, heartbeat time.Duration) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(g.feed, g.heartbeat)
}

// Snapshot returns the gate's current configuration for status surfaces.
func (g *Gate) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Snapshot{
		Feed:             adapterName(g.feed),
		HeartbeatSeconds: int64(g.heartbeat / time.Second),
		MaxAgeSeconds:    int64(g.maxAge / time.Second),
	}
}

func (g *Gate) notify(ctx context.Context, change Change) {
	for _, n := range g.notifiers {
		if err := n.GateChanged(ctx, change); err != nil {
			g.log.Warn().Err(err).Str("kind", change.Kind).Msg("gate change notification failed")
		}
	}
}

func adapterName(a feeds.Adapter) string {
	if a == nil {
		return ""
	}
	return a.Name()
}
