package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stablemint/reservegate/internal/application"
	httpapi "github.com/stablemint/reservegate/internal/interfaces/http"
)

// runStatus queries a running service and renders its status view.
func runStatus(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := application.LoadConfigOrDefault(configPath)
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/v1/status", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("service unreachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status endpoint returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read status response: %w", err)
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(string(body))
		return nil
	}

	var st httpapi.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		return fmt.Errorf("decode status response: %w", err)
	}
	printStatus(addr, &st)
	return nil
}

func printStatus(addr string, st *httpapi.StatusResponse) {
	fmt.Printf("%s @ %s\n\n", appName, addr)

	fmt.Println("Gate")
	feed := st.Gate.Feed
	if feed == "" {
		feed = "(unset, issuance passes through)"
	}
	fmt.Printf("  feed:      %s\n", feed)
	fmt.Printf("  heartbeat: %s\n", time.Duration(st.Gate.HeartbeatSeconds)*time.Second)
	fmt.Printf("  max age:   %s\n", time.Duration(st.Gate.MaxAgeSeconds)*time.Second)

	if len(st.Feeds) > 0 {
		fmt.Println("\nFeeds")
		names := make([]string, 0, len(st.Feeds))
		for name := range st.Feeds {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			probe := st.Feeds[name]
			state := "ok"
			if !probe.Success {
				state = "fail"
			}
			fmt.Printf("  %-16s %-5s %4dms  %s\n", name, state, probe.LatencyMs, probe.Error)
		}
	}

	if len(st.Outcomes) > 0 {
		fmt.Println("\nDecisions")
		for _, outcome := range []string{"allowed", "denied", "bypassed", "failed"} {
			if n, ok := st.Outcomes[outcome]; ok {
				fmt.Printf("  %-10s %d\n", outcome, n)
			}
		}
	}

	if st.LastDecision != nil {
		d := st.LastDecision
		fmt.Println("\nLast decision")
		fmt.Printf("  %s  %s %s to %s", d.Timestamp.Format(time.RFC3339), d.Outcome, d.Amount, d.Recipient)
		if d.Reason != "" {
			fmt.Printf("  (%s)", d.Reason)
		}
		fmt.Println()
	}
}
