package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roomstate/compactor/pkg/config"
	"github.com/roomstate/compactor/pkg/logging"
	"github.com/roomstate/compactor/pkg/telemetry"
)

var (
	configPath string
	verbose    bool

	logger            logging.Logger
	cfg               *config.Config
	shutdownTelemetry telemetry.ShutdownFunc
)

var rootCmd = &cobra.Command{
	Use:   "compactctl",
	Short: "One-shot state-group compaction for a single room",
	Long: `compactctl runs the state-group compressor against a single room.

It reads the room's graph directly from the backing store, rewrites state
groups to shorten delta chains, and either applies the rewrite in place or
renders it as a standalone SQL script for later review.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logging.LevelInfo
		if verbose {
			level = logging.LevelDebug
		}
		logger = logging.NewDefaultLogger(level, os.Stdout)

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		shutdownTelemetry, err = telemetry.Init(context.Background())
		if err != nil {
			logger.Error("failed to initialize telemetry: %v", err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if shutdownTelemetry != nil {
		shutdownTelemetry(context.Background())
	}
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	binName := BinName()
	rootCmd.Example = `  # Compact a room, applying the rewrite directly
  ` + binName + ` compact --room '!abc:example.org' --commit-changes

  # Preview a room's rewrite as a SQL script
  ` + binName + ` compact --room '!abc:example.org' --output-file rewrite.sql

  # Create the checkpoint tables before the first run
  ` + binName + ` install`
}

// GetLogger returns the configured logger.
func GetLogger() logging.Logger {
	return logger
}

// GetConfig returns the loaded configuration.
func GetConfig() *config.Config {
	return cfg
}

// BinName returns the base name of the current executable.
func BinName() string {
	return filepath.Base(os.Args[0])
}
