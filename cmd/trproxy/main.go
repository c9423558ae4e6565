package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/trproxy/trproxy/pkg/config"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "trproxy",
		Short:   "Tiered caching proxy for transaction backends",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newTiersCmd(),
		newProfilesCmd(),
		newCallsCmd(),
		newCacheCmd(),
		newMCPCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, or returns defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
