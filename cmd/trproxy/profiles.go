package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/trproxy/trproxy/pkg/registry"
	"github.com/trproxy/trproxy/pkg/tier"
)

func newProfilesCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List loaded transaction profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			reg, err := registry.Load(cfg.ProfilesPath, cfg.ExemptCodes)
			if err != nil {
				return fmt.Errorf("load profiles: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tALIAS\tTTL\tARRAY FIELD\tEXEMPT\tTIER")
			for _, p := range reg.Profiles() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\t%s\n",
					p.Code, dash(p.Alias), p.TTLSeconds, dash(p.ArrayFieldName), p.EvictionExempt,
					tier.Resolve(p.TTLSeconds, p.EvictionExempt))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to trproxy config file")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
