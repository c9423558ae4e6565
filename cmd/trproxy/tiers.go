package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/trproxy/trproxy/pkg/dispatch"
	"github.com/trproxy/trproxy/pkg/registry"
	"github.com/trproxy/trproxy/pkg/tier"
)

func newTiersCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "tiers",
		Short: "Show the effective cache tier table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			table, err := cfg.TierTable()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tTTL\tCAPACITY\tSWEPT")
			for _, name := range tier.Cached {
				tr := table[name]
				ttl := tr.TTL.String()
				if tr.Exempt {
					ttl = "none"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", name, ttl, tr.MaxEntries, !tr.Exempt)
			}
			return w.Flush()
		},
	}

	resolveCmd := &cobra.Command{
		Use:   "resolve <code|alias>",
		Short: "Show the tier a transaction code or alias is cached in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			reg, err := registry.Load(cfg.ProfilesPath, cfg.ExemptCodes)
			if err != nil {
				return fmt.Errorf("load profiles: %w", err)
			}

			code := args[0]
			if c, ok := reg.CodeByAlias(code); ok {
				code = c
			}
			p, ok := reg.ProfileByCode(code)
			if !ok {
				return fmt.Errorf("%w: %q", dispatch.ErrProfileNotFound, args[0])
			}
			fmt.Printf("%s ttl=%ds exempt=%t tier=%s\n", p.Code, p.TTLSeconds, p.EvictionExempt,
				tier.Resolve(p.TTLSeconds, p.EvictionExempt))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to trproxy config file")
	cmd.AddCommand(resolveCmd)
	return cmd
}
