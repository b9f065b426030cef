// Package feeds defines the reserve feed boundary: adapters that return the
// latest attested reserve reading, and a registry the admin surface uses to
// switch the gate between configured adapters by name.
package feeds

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stablemint/reservegate/internal/domain/reserve"
)

var (
	ErrAdapterNotFound  = errors.New("no feed adapter registered under that name")
	ErrDuplicateAdapter = errors.New("feed adapter name already registered")
	ErrNoReading        = errors.New("feed has no reading yet")
	ErrRateLimited      = errors.New("feed rate limit exceeded")
)

// Adapter is the read-only contract a reserve feed exposes to the gate.
// Latest must return the newest attestation available or an error; it never
// mutates feed state.
type Adapter interface {
	Name() string
	Latest(ctx context.Context) (reserve.FeedReading, error)
}

// Prober is implemented by adapters that can run a lightweight health check
// without producing a reading.
type Prober interface {
	Probe(ctx context.Context) ProbeResult
}

// ProbeResult reports one health-check round trip.
type ProbeResult struct {
	Success   bool      `json:"success"`
	LatencyMs int       `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Registry holds the configured adapters in registration order.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	names    []string
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[a.Name()]; ok {
		return ErrDuplicateAdapter
	}
	r.adapters[a.Name()] = a
	r.names = append(r.names, a.Name())
	return nil
}

func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, ErrAdapterNotFound
	}
	return a, nil
}

// Names returns adapter names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}
