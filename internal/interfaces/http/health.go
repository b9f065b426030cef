package http

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/stablemint/reservegate/internal/feeds"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Version   string    `json:"version"`

	System SystemInfo                   `json:"system"`
	Feeds  map[string]feeds.ProbeResult `json:"feeds,omitempty"`
	Checks map[string]CheckResult       `json:"checks"`
}

// SystemInfo provides system-level information.
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	MemSys        uint64 `json:"mem_sys_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// CheckResult represents an individual health check.
type CheckResult struct {
	Status    string    `json:"status"` // "pass", "warn", "fail"
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Health handles GET /health. A gate whose active feed fails its probe makes
// the service unhealthy; an unset gate is degraded, not failing, since
// issuance still passes through.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	response := HealthResponse{
		Timestamp: now,
		Uptime:    time.Since(h.startTime).String(),
		Version:   h.version,
		System:    h.systemInfo(),
		Checks:    make(map[string]CheckResult),
	}

	probes := make(map[string]feeds.ProbeResult)
	for _, name := range h.feeds.Names() {
		adapter, err := h.feeds.Get(name)
		if err != nil {
			continue
		}
		if prober, ok := adapter.(feeds.Prober); ok {
			probes[name] = prober.Probe(r.Context())
		}
	}
	if len(probes) > 0 {
		response.Feeds = probes
	}

	h.addGateCheck(&response, now)
	h.addSystemChecks(&response, now)
	response.Status = overallStatus(response.Checks)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}

func (h *Handlers) systemInfo() SystemInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemAlloc:      memStats.Alloc,
		MemSys:        memStats.Sys,
		NumGC:         memStats.NumGC,
	}
}

// addGateCheck reports whether the active feed, if any, answers its probe.
func (h *Handlers) addGateCheck(response *HealthResponse, now time.Time) {
	snapshot := h.gate.Snapshot()
	if snapshot.Feed == "" {
		response.Checks["gate"] = CheckResult{
			Status:    "warn",
			Message:   "No feed configured, issuance passes through unguarded",
			Timestamp: now,
		}
		return
	}

	probe, probed := response.Feeds[snapshot.Feed]
	switch {
	case !probed:
		response.Checks["gate"] = CheckResult{
			Status:    "warn",
			Message:   fmt.Sprintf("Active feed %q does not support probing", snapshot.Feed),
			Timestamp: now,
		}
	case probe.Success:
		response.Checks["gate"] = CheckResult{
			Status:    "pass",
			Message:   fmt.Sprintf("Active feed %q answering in %dms", snapshot.Feed, probe.LatencyMs),
			Timestamp: now,
		}
	default:
		response.Checks["gate"] = CheckResult{
			Status:    "fail",
			Message:   fmt.Sprintf("Active feed %q failing: %s", snapshot.Feed, probe.Error),
			Timestamp: now,
		}
	}
}

// addSystemChecks adds memory and goroutine checks.
func (h *Handlers) addSystemChecks(response *HealthResponse, now time.Time) {
	memUsagePercent := float64(response.System.MemAlloc) / float64(response.System.MemSys) * 100
	switch {
	case memUsagePercent > 90:
		response.Checks["memory"] = CheckResult{
			Status:    "fail",
			Message:   fmt.Sprintf("Memory usage critical: %.1f%%", memUsagePercent),
			Timestamp: now,
		}
	case memUsagePercent > 75:
		response.Checks["memory"] = CheckResult{
			Status:    "warn",
			Message:   fmt.Sprintf("Memory usage high: %.1f%%", memUsagePercent),
			Timestamp: now,
		}
	default:
		response.Checks["memory"] = CheckResult{
			Status:    "pass",
			Message:   fmt.Sprintf("Memory usage normal: %.1f%%", memUsagePercent),
			Timestamp: now,
		}
	}

	if response.System.NumGoroutines > 1000 {
		response.Checks["goroutines"] = CheckResult{
			Status:    "warn",
			Message:   fmt.Sprintf("High goroutine count: %d", response.System.NumGoroutines),
			Timestamp: now,
		}
	} else {
		response.Checks["goroutines"] = CheckResult{
			Status:    "pass",
			Message:   fmt.Sprintf("Goroutine count normal: %d", response.System.NumGoroutines),
			Timestamp: now,
		}
	}
}

// overallStatus folds check results into one service status.
func overallStatus(checks map[string]CheckResult) string {
	for _, check := range checks {
		if check.Status == "fail" {
			return "unhealthy"
		}
	}
	for _, check := range checks {
		if check.Status == "warn" {
			return "degraded"
		}
	}
	return "healthy"
}
