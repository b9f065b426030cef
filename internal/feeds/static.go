package feeds

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stablemint/reservegate/internal/domain/reserve"
)

// StaticFeed is a manually driven attestation source for bring-up, incident
// override and tests. It returns whatever was last set, unchanged, until the
// next Set.
type StaticFeed struct {
	mu       sync.RWMutex
	name     string
	decimals uint8
	value    *big.Int
	observed time.Time
	set      bool
}

func NewStaticFeed(name string, decimals uint8) *StaticFeed {
	return &StaticFeed{name: name, decimals: decimals}
}

func (f *StaticFeed) Name() string { return f.name }

// Set installs a reading in base units observed at the given time.
func (f *StaticFeed) Set(value *big.Int, observedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = new(big.Int).Set(value)
	f.observed = observedAt
	f.set = true
}

// SetString installs a reading from a whole-unit decimal string such as
// "1250000.50", scaled to the feed's declared decimals.
func (f *StaticFeed) SetString(value string, observedAt time.Time) error {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Errorf("parse reserve value: %w", err)
	}
	scaled := d.Shift(int32(f.decimals))
	if !scaled.IsInteger() {
		return fmt.Errorf("reserve value %s has more than %d fractional digits", value, f.decimals)
	}
	f.Set(scaled.BigInt(), observedAt)
	return nil
}

func (f *StaticFeed) Latest(ctx context.Context) (reserve.FeedReading, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.set {
		return reserve.FeedReading{}, ErrNoReading
	}
	return reserve.FeedReading{
		Value:      new(big.Int).Set(f.value),
		Decimals:   f.decimals,
		ObservedAt: f.observed,
	}, nil
}
