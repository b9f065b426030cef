package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/stablemint/reservegate/internal/breakers"
	"github.com/stablemint/reservegate/internal/domain/reserve"
)

// HTTPConfig configures one attestation endpoint.
type HTTPConfig struct {
	Name              string
	URL               string
	AuthToken         string        // optional bearer token
	Timeout           time.Duration // zero means 10s
	RequestsPerMinute int           // zero means 60
}

// HTTPFeed reads attestations from a JSON endpoint of the form
//
//	{"total_reserve": "125000000.50", "decimals": 8, "observed_at": "2026-08-23T10:00:00Z"}
//
// Requests are rate limited and run through a circuit breaker; a tripped
// breaker surfaces as a read error, which the guard treats as an invalid
// answer.
type HTTPFeed struct {
	name    string
	url     string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	breaker *breakers.Breaker
}

func NewHTTPFeed(cfg HTTPConfig, logger zerolog.Logger) *HTTPFeed {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	perMinute := cfg.RequestsPerMinute
	if perMinute == 0 {
		perMinute = 60
	}
	return &HTTPFeed{
		name:    cfg.Name,
		url:     cfg.URL,
		token:   cfg.AuthToken,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		breaker: breakers.New("feed:"+cfg.Name, logger),
	}
}

func (f *HTTPFeed) Name() string { return f.name }

// BreakerState reports the circuit breaker state for status surfaces.
func (f *HTTPFeed) BreakerState() string { return f.breaker.State() }

func (f *HTTPFeed) Latest(ctx context.Context) (reserve.FeedReading, error) {
	if !f.limiter.Allow() {
		return reserve.FeedReading{}, fmt.Errorf("%w: %s", ErrRateLimited, f.name)
	}

	out, err := f.breaker.Execute(func() (any, error) {
		return f.fetch(ctx)
	})
	if err != nil {
		return reserve.FeedReading{}, fmt.Errorf("feed %s: %w", f.name, err)
	}
	return out.(reserve.FeedReading), nil
}

func (f *HTTPFeed) fetch(ctx context.Context) (reserve.FeedReading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return reserve.FeedReading{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return reserve.FeedReading{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return reserve.FeedReading{}, fmt.Errorf("attestation endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return reserve.FeedReading{}, fmt.Errorf("read response: %w", err)
	}

	var payload struct {
		TotalReserve string `json:"total_reserve"`
		Decimals     uint8  `json:"decimals"`
		ObservedAt   string `json:"observed_at"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return reserve.FeedReading{}, fmt.Errorf("unmarshal attestation: %w", err)
	}

	value, err := decimal.NewFromString(payload.TotalReserve)
	if err != nil {
		return reserve.FeedReading{}, fmt.Errorf("parse total_reserve %q: %w", payload.TotalReserve, err)
	}
	scaled := value.Shift(int32(payload.Decimals))
	if !scaled.IsInteger() {
		return reserve.FeedReading{}, fmt.Errorf("total_reserve %q has more than %d fractional digits", payload.TotalReserve, payload.Decimals)
	}

	observedAt, err := time.Parse(time.RFC3339, payload.ObservedAt)
	if err != nil {
		return reserve.FeedReading{}, fmt.Errorf("parse observed_at %q: %w", payload.ObservedAt, err)
	}

	return reserve.FeedReading{
		Value:      scaled.BigInt(),
		Decimals:   payload.Decimals,
		ObservedAt: observedAt,
	}, nil
}

// Probe runs a lightweight health check against the attestation endpoint.
func (f *HTTPFeed) Probe(ctx context.Context) ProbeResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return ProbeResult{Success: false, Error: err.Error(), Timestamp: time.Now()}
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return ProbeResult{
			Success:   false,
			Error:     err.Error(),
			LatencyMs: int(time.Since(start).Milliseconds()),
			Timestamp: time.Now(),
		}
	}
	defer resp.Body.Close()

	result := ProbeResult{
		Success:   resp.StatusCode == http.StatusOK,
		LatencyMs: int(time.Since(start).Milliseconds()),
		Timestamp: time.Now(),
	}
	if !result.Success {
		result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return result
}
