// sigtap loads the SIGTAP procedure table dump into a relational store.
//
// It discovers layout/data file pairs in a directory, creates or grows the
// destination tables and upserts every fixed-width record in dependency
// order.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sigtap/internal/config"
	"github.com/JonMunkholm/sigtap/internal/core"
	"github.com/JonMunkholm/sigtap/internal/logging"
	"github.com/JonMunkholm/sigtap/internal/store/memory"
	"github.com/JonMunkholm/sigtap/internal/store/postgres"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	envFiles []string
	verbose  bool
)

// Loaded by the root command before any subcommand runs.
var (
	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sigtap",
	Short: "Import the SIGTAP procedure tables into PostgreSQL",
	Long: `sigtap imports a SIGTAP dump: a directory of fixed-width data files, each
described by a <table>_layout.txt file.

Tables are created or widened to match their layouts and rows are upserted
in dependency order, so an import can be repeated safely.

Configuration comes from the environment (see .env.example); flags
override it for a single run.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Env files to load (default .env if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig loads .env files, then the environment, then sets up logging.
func loadConfig(cmd *cobra.Command, args []string) error {
	// Overload overwrites existing env vars
	envErr := godotenv.Overload(envFiles...)
	if envErr != nil && len(envFiles) > 0 {
		return fmt.Errorf("load env files: %w", envErr)
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logger = logging.Setup(level, cfg.Logging.Format)

	if envErr == nil {
		logger.Debug("loaded env files", "files", envFiles)
	}
	logger.Debug("configuration loaded", "config", cfg.String())
	return nil
}

// openStore returns the destination store and a function releasing it.
// A dry run uses an in-memory store and needs no database.
func openStore(dryRun bool) (core.Store, func(), error) {
	if dryRun {
		logger.Info("dry run: rows are validated and written to memory only")
		return memory.New(), func() {}, nil
	}

	if err := cfg.RequireDatabase(); err != nil {
		return nil, nil, err
	}
	store := postgres.New(cfg.Database.URL,
		postgres.WithSchema(cfg.Database.Schema),
		postgres.WithLogger(logger),
		postgres.WithPoolConfig(postgres.PoolConfig{
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		}),
	)
	return store, store.Close, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// dirArg returns the directory argument or the configured default.
func dirArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if cfg.Import.Dir != "" {
		return cfg.Import.Dir, nil
	}
	return "", fmt.Errorf("no directory given: pass one or set IMPORT_DIR")
}
