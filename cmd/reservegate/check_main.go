package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stablemint/reservegate/internal/application"
	"github.com/stablemint/reservegate/internal/domain/reserve"
	"github.com/stablemint/reservegate/internal/gate"
)

// checkReport is the one-shot evaluation result, shaped like the decision
// payloads the API serves.
type checkReport struct {
	Timestamp time.Time              `json:"timestamp"`
	Feed      string                 `json:"feed"`
	Allow     bool                   `json:"allow"`
	Reason    string                 `json:"reason,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// runCheck reads the selected feed once and runs the decision core against
// the given supply, touching no ledger state.
func runCheck(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := application.LoadConfigOrDefault(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	feedName, _ := cmd.Flags().GetString("feed")
	if feedName == "" {
		feedName = cfg.Gate.Feed
	}
	if feedName == "" {
		return fmt.Errorf("no feed selected: set gate.feed in the config or pass --feed")
	}

	registry, err := application.BuildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	adapter, err := registry.Get(feedName)
	if err != nil {
		return err
	}

	supplyStr, _ := cmd.Flags().GetString("supply")
	supply, err := parseSupply(supplyStr, cfg.Asset.Decimals)
	if err != nil {
		return err
	}

	heartbeatSecs, _ := cmd.Flags().GetInt64("heartbeat")
	if heartbeatSecs == 0 {
		heartbeatSecs = cfg.Gate.HeartbeatSeconds
	}
	if heartbeatSecs < 0 {
		return fmt.Errorf("heartbeat must not be negative")
	}
	maxAge := cfg.Gate.MaxAge()
	if maxAge == 0 {
		maxAge = gate.DefaultMaxAge
	}
	heartbeat := time.Duration(heartbeatSecs) * time.Second
	if heartbeat > maxAge {
		return fmt.Errorf("heartbeat %ds exceeds the maximum staleness window %ds",
			heartbeatSecs, int64(maxAge/time.Second))
	}
	if heartbeat == 0 {
		heartbeat = maxAge
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now()
	report := checkReport{Timestamp: now, Feed: feedName}

	reading, err := adapter.Latest(ctx)
	if err != nil {
		// An unreadable feed denies exactly like a bad answer.
		report.Reason = string(reserve.ReasonInvalidAnswer)
		report.Details = map[string]interface{}{"feed_error": err.Error()}
	} else {
		view := reserve.UnderlyingAssetView{TotalSupply: supply, Decimals: cfg.Asset.Decimals}
		decision := reserve.Evaluate(now, view, reading, heartbeat)
		report.Allow = decision.Allow
		report.Reason = string(decision.Reason)
		report.Details = decision.Details
	}

	if err := printReport(cmd, report); err != nil {
		return err
	}
	if !report.Allow {
		os.Exit(1)
	}
	return nil
}

func printReport(cmd *cobra.Command, report checkReport) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	verdict := "DENY"
	if report.Allow {
		verdict = "ALLOW"
	}
	fmt.Printf("%s  feed=%s\n", verdict, report.Feed)
	if report.Reason != "" {
		fmt.Printf("  reason:              %s\n", report.Reason)
	}
	for _, key := range []string{
		"feed_value", "feed_decimals", "observed_at", "age_seconds",
		"total_supply", "normalized_supply", "normalized_reserves", "feed_error",
	} {
		if v, ok := report.Details[key]; ok {
			fmt.Printf("  %-20s %v\n", key+":", v)
		}
	}
	return nil
}

// parseSupply converts a whole-unit decimal string into base units.
func parseSupply(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid supply %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("supply must not be negative")
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("supply %q has more than %d decimal places", s, decimals)
	}
	return scaled.BigInt(), nil
}
