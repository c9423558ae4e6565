package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/trproxy/trproxy/pkg/calllog"
	"github.com/trproxy/trproxy/pkg/mcp"
	"github.com/trproxy/trproxy/pkg/proxy"
	"github.com/trproxy/trproxy/pkg/registry"
)

func newMCPCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve read-only operator tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			var profiles mcp.Profiles
			if reg, err := registry.Load(cfg.ProfilesPath, cfg.ExemptCodes); err == nil {
				profiles = reg
			} else {
				fmt.Fprintf(os.Stderr, "profiles unavailable: %v\n", err)
			}

			var calls mcp.CallLog
			if cfg.CallLog.Enabled {
				l, err := calllog.New(cfg.CallLog, nil)
				if err != nil {
					return fmt.Errorf("open call log db: %w", err)
				}
				defer func() { _ = l.Close() }()
				calls = l
			}

			var tiers mcp.TierStatter
			if addr != "" {
				tiers = proxy.NewAdminClient(addr, cfg.Auth.Header, cfg.Auth.Token)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := mcp.New(profiles, tiers, calls, version, nil)
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to trproxy config file")
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "address of the running server, empty to disable tier stats")
	return cmd
}
