package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/trproxy/trproxy/pkg/proxy"
)

func newCacheCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	client := func() (*proxy.AdminClient, error) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return nil, err
		}
		return proxy.NewAdminClient(addr, cfg.Auth.Header, cfg.Auth.Token), nil
	}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and evict the cache of a running server",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-tier cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			stats, err := c.Stats(context.Background())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tENTRIES\tCAPACITY\tHITS\tMISSES\tSWEEPS")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Name, s.Entries, s.Capacity, s.Hits, s.Misses, s.Sweeps)
			}
			return w.Flush()
		},
	}

	evictCmd := &cobra.Command{
		Use:   "evict <tier>",
		Short: "Clear a single cache tier, including the no-eviction tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			if err := c.Evict(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Tier %s evicted.\n", args[0])
			return nil
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the scheduled sweep now",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			removed, err := c.Sweep(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Sweep removed %d entries.\n", removed)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to trproxy config file")
	cmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "address of the running server")
	cmd.AddCommand(statsCmd, evictCmd, sweepCmd)
	return cmd
}
