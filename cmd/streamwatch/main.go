package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/soroflow/streamwatch/internal/common"
	"github.com/soroflow/streamwatch/internal/config"
	"github.com/soroflow/streamwatch/internal/db"
	"github.com/soroflow/streamwatch/internal/logger"
	"github.com/soroflow/streamwatch/internal/metrics"
	"github.com/soroflow/streamwatch/internal/migrations"
	"github.com/soroflow/streamwatch/internal/rpc"
	"github.com/soroflow/streamwatch/internal/streams"
	"github.com/soroflow/streamwatch/internal/watcher"
)

const version = "1.0.0"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "streamwatch",
	Short: "StreamWatch - Soroban payment stream watcher",
	Long: `StreamWatch follows a payment-streaming contract on a Soroban network,
decodes its events, and maintains a queryable database of stream lifecycles:
creations, withdrawals, receiver transfers, and cancellations.`,
	Version: version,
	RunE:    runWatcher,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long:  `Load the configuration file, apply defaults, and report any problems without starting the watcher.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return err
		}

		for _, warning := range cfg.Warnings() {
			fmt.Printf("warning: %s\n", warning)
		}

		fmt.Printf("configuration OK: watching %s via %s\n",
			cfg.Watcher.ContractID, cfg.Watcher.RPCURL)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(validateCmd)
}

func runWatcher(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	// A nil *LoggingConfig must stay a nil interface for the logger's
	// own default handling to kick in.
	var logCfg logger.LoggingConfig
	if cfg.Logging != nil {
		logCfg = cfg.Logging
	}

	log := logger.NewComponentLoggerFromConfig(common.ComponentWatcher, logCfg)
	for _, warning := range cfg.Warnings() {
		log.Warn(warning)
	}

	log.Infow("starting streamwatch",
		"version", version,
		"network", cfg.Watcher.NetworkPassphrase,
		"contractId", cfg.Watcher.ContractID)

	// Run database migrations
	log.Info("Running database migrations...")
	if err := migrations.RunMigrations(cfg.Watcher.DB); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Initialize database and store
	database, err := db.NewSQLiteDBFromConfig(cfg.Watcher.DB)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer database.Close()

	store := streams.NewSQLiteStore(database)
	reconciler := streams.NewReconciler(store,
		logger.NewComponentLoggerFromConfig(common.ComponentReconciler, logCfg))

	// Initialize RPC client
	client := rpc.NewClient(cfg.Watcher.RPCURL, cfg.Watcher.Retry)
	defer client.Close()
	log.Infof("Using Soroban RPC endpoint: %s", cfg.Watcher.RPCURL)

	// Initialize metrics server if enabled
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics,
			logger.NewComponentLoggerFromConfig(common.ComponentMetrics, logCfg))
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(context.Background()); err != nil {
				log.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
	}

	w := watcher.NewWatcher(&cfg.Watcher, client, reconciler,
		logger.NewComponentLoggerFromConfig(common.ComponentWatcher, logCfg))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The watcher blocks until it is stopped or fails fatally; either way
		// the rest of the process should come down with it.
		defer cancel()
		return w.Start(gctx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("watcher failed: %w", err)
	}

	log.Info("StreamWatch stopped")
	return nil
}
