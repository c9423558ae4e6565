package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/trproxy/trproxy/pkg/calllog"
	"github.com/trproxy/trproxy/pkg/models"
)

func newCallsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Query and manage the transaction call log",
	}

	cmd.AddCommand(
		newCallsSearchCmd(),
		newCallsStatsCmd(),
		newCallsCleanupCmd(),
	)
	return cmd
}

func newCallsSearchCmd() *cobra.Command {
	var (
		configPath string
		code       string
		tierName   string
		outcome    string
		since      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search call log records",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openCallLog(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.CallQueryOpts{
				Code:    code,
				Tier:    tierName,
				Outcome: outcome,
				Limit:   limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			records, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatCallRecords(records))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to trproxy config file")
	cmd.Flags().StringVar(&code, "code", "", "filter by transaction code")
	cmd.Flags().StringVar(&tierName, "tier", "", "filter by cache tier")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by cache outcome (hit, miss, bypass)")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max records to return")

	return cmd
}

func newCallsStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show call counts by transaction code and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openCallLog(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatCallStats(stats))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to trproxy config file")
	return cmd
}

func newCallsCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete call records past the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openCallLog(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d call records.\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to trproxy config file")
	return cmd
}

func openCallLog(configPath string) (*calllog.Log, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	l, err := calllog.New(cfg.CallLog, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("open call log db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func formatCallRecords(records []models.CallRecord) string {
	if len(records) == 0 {
		return "No call records found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-10s %-12s %-7s %4s %6s %8s %-20s\n",
		"REQUEST ID", "CODE", "TIER", "CACHE", "CONT", "STATUS", "LATENCY", "TIME")
	b.WriteString(strings.Repeat("-", 112) + "\n")
	for _, r := range records {
		cont := "-"
		if r.HasContKey {
			cont = "Y"
		}
		fmt.Fprintf(&b, "%-38s %-10s %-12s %-7s %4s %6d %6dms %-20s\n",
			r.RequestID, r.Code, r.Tier, dash(r.Outcome), cont, r.StatusCode,
			r.LatencyMs, r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatCallStats(stats []models.CallStat) string {
	if len(stats) == 0 {
		return "No call stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-12s %8s %8s %8s\n", "CODE", "DAY", "CALLS", "HITS", "ERRORS")
	b.WriteString(strings.Repeat("-", 52) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-12s %-12s %8d %8d %8d\n", s.Code, s.Day, s.Calls, s.Hits, s.Errors)
	}
	return b.String()
}
