// Command grow-sensor simulates environmental sensors for a set of grow zones,
// serves their history and insights over HTTP and relays a live websocket feed.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sweeney/grow-sensor/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "grow-sensor",
		Short:        "Simulated grow-zone sensors with a live feed, history API and relay",
		SilenceUsage: true,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the feed, API, relay and sinks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, log)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "feed",
		Short: "Run only the upstream websocket feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			return runFeed(cmd.Context(), cfg, log)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "print-state",
		Short: "Backfill every zone, print the latest readings and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			return printState(cmd.OutOrStdout(), cfg, log)
		},
	})
	return root
}

// setup loads the configuration for cmd and installs the logger as the default.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	dir, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(dir, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cmd.ErrOrStderr(), cfg.Log)
	slog.SetDefault(log)
	return cfg, log, nil
}

func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	var level slog.Level
	// Validate has already restricted the level to names slog understands.
	_ = level.UnmarshalText([]byte(lc.Level))
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
