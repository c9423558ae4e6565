package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/trproxy/trproxy/pkg/backend"
	"github.com/trproxy/trproxy/pkg/cache/tiered"
	"github.com/trproxy/trproxy/pkg/calllog"
	"github.com/trproxy/trproxy/pkg/config"
	"github.com/trproxy/trproxy/pkg/dispatch"
	"github.com/trproxy/trproxy/pkg/logging"
	"github.com/trproxy/trproxy/pkg/preprocess"
	"github.com/trproxy/trproxy/pkg/proxy"
	"github.com/trproxy/trproxy/pkg/registry"
	"github.com/trproxy/trproxy/pkg/sweep"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the transaction proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			log, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			reg, err := registry.Load(cfg.ProfilesPath, cfg.ExemptCodes)
			if err != nil {
				return fmt.Errorf("load profiles: %w", err)
			}
			log.Info("loaded transaction profiles",
				zap.String("path", cfg.ProfilesPath),
				zap.Int("profiles", reg.Len()),
				zap.Strings("exempt", reg.ExemptCodes()))

			table, err := cfg.TierTable()
			if err != nil {
				return err
			}
			store := tiered.New(table, log.Named("cache"))

			exec := newExecutor(cfg, log)
			pre := preprocess.New(cfg.RewriteRules(), log.Named("preprocess"))
			d := dispatch.New(reg, store, exec, pre, log.Named("dispatch"))

			var calls proxy.CallRecorder
			if cfg.CallLog.Enabled {
				l, err := calllog.New(cfg.CallLog, log.Named("calllog"))
				if err != nil {
					return fmt.Errorf("init call log: %w", err)
				}
				defer func() { _ = l.Close() }()
				calls = l
			}

			if cfg.Sweep.Enabled {
				loc, err := cfg.Location()
				if err != nil {
					return err
				}
				sched, err := sweep.New(cfg.Sweep.Schedule, loc, store, log.Named("sweep"))
				if err != nil {
					return err
				}
				sched.Start()
				defer sched.Stop()
			}

			srv := proxy.New(cfg, d, store, calls, log.Named("proxy"))

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info("starting trproxy",
				zap.String("config", configPath),
				zap.String("backend", cfg.Backend.Type))
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trproxy.yaml", "path to config file")
	return cmd
}

func newExecutor(cfg *config.Config, log *zap.Logger) backend.Executor {
	if cfg.Backend.Type == config.BackendMock {
		log.Warn("using mock backend")
		return backend.MockExecutor{}
	}
	return backend.NewHTTPExecutor(cfg.Backend.HTTPConfig, log.Named("backend"))
}
