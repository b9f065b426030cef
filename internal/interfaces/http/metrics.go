package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stablemint/reservegate/internal/guard"
)

// Metrics holds the Prometheus collectors for the issuance gate. Each
// instance carries its own registry so tests and embedded servers never
// collide on registration. It doubles as a decision sink, so every guarded
// issuance lands in the counters without extra plumbing.
type Metrics struct {
	registry *prometheus.Registry

	// Issuance decision metrics
	IssuanceAttempts *prometheus.CounterVec
	FeedLatency      *prometheus.HistogramVec
	FeedAge          prometheus.Gauge

	// Reserve backing metrics, float approximations of the exact values
	NormalizedSupply   prometheus.Gauge
	NormalizedReserves prometheus.Gauge

	// HTTP surface metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Stream metrics
	StreamClients prometheus.Gauge
}

// NewMetrics creates the metrics registry with all gate metrics registered.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		IssuanceAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reservegate_issuance_attempts_total",
				Help: "Total issuance attempts by outcome and denial reason",
			},
			[]string{"outcome", "reason"},
		),

		FeedLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reservegate_feed_latency_ms",
				Help:    "Reserve feed read latency in milliseconds",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
			},
			[]string{"feed"},
		),

		FeedAge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reservegate_feed_reading_age_seconds",
				Help: "Age of the most recently evaluated reserve reading in seconds",
			},
		),

		NormalizedSupply: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reservegate_normalized_supply",
				Help: "Circulating supply at the comparison scale of the last decision",
			},
		),

		NormalizedReserves: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reservegate_normalized_reserves",
				Help: "Attested reserves at the comparison scale of the last decision",
			},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reservegate_http_requests_total",
				Help: "Total HTTP requests by method, route, and status code",
			},
			[]string{"method", "route", "status"},
		),

		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reservegate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds by method and route",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "route"},
		),

		StreamClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reservegate_stream_clients",
				Help: "Number of connected websocket stream clients",
			},
		),
	}

	m.registry.MustRegister(
		m.IssuanceAttempts,
		m.FeedLatency,
		m.FeedAge,
		m.NormalizedSupply,
		m.NormalizedReserves,
		m.HTTPRequests,
		m.HTTPRequestDuration,
		m.StreamClients,
	)

	return m
}

// RecordDecision implements the guard's decision sink, folding each
// attempt's evidence into the collectors.
func (m *Metrics) RecordDecision(ctx context.Context, rec guard.Record) error {
	m.IssuanceAttempts.WithLabelValues(rec.Outcome, string(rec.Reason)).Inc()

	if rec.Details == nil {
		return nil
	}
	if ms, ok := detailFloat(rec.Details, "feed_latency_ms"); ok && rec.Feed != "" {
		m.FeedLatency.WithLabelValues(rec.Feed).Observe(ms)
	}
	if age, ok := detailFloat(rec.Details, "age_seconds"); ok {
		m.FeedAge.Set(age)
	}
	if supply, ok := detailAmount(rec.Details, "normalized_supply"); ok {
		m.NormalizedSupply.Set(supply)
	}
	if reserves, ok := detailAmount(rec.Details, "normalized_reserves"); ok {
		m.NormalizedReserves.Set(reserves)
	}
	return nil
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// StreamConnected and StreamDisconnected track websocket clients.
func (m *Metrics) StreamConnected()    { m.StreamClients.Inc() }
func (m *Metrics) StreamDisconnected() { m.StreamClients.Dec() }

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// detailFloat reads a numeric evidence entry regardless of whether it is
// still an integer or has been through a JSON round trip.
func detailFloat(details map[string]interface{}, key string) (float64, bool) {
	switch v := details[key].(type) {
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// detailAmount parses a base-unit amount string into a float approximation.
func detailAmount(details map[string]interface{}, key string) (float64, bool) {
	s, ok := details[key].(string)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
