package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer-go/api"
	"github.com/0xmhha/staking-indexer-go/fetch"
	"github.com/0xmhha/staking-indexer-go/indexer"
	"github.com/0xmhha/staking-indexer-go/internal/config"
	"github.com/0xmhha/staking-indexer-go/internal/constants"
	"github.com/0xmhha/staking-indexer-go/internal/logger"
	"github.com/0xmhha/staking-indexer-go/rpc"
	"github.com/0xmhha/staking-indexer-go/storage"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		envFile     = flag.String("env", ".env", "Path to .env file (ignored when missing)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		validatorID = flag.String("validator", "", "Validator pool account to index")
		startHeight = flag.Uint64("start-height", 0, "Block height to start indexing from")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "Log format (json, console)")
		enableOps   = flag.Bool("ops", false, "Enable the ops HTTP server")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("staking-indexer-go version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	// Best-effort .env load; production deployments inject real env vars.
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load env file %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *validatorID, *startHeight, *logLevel, *logFormat, *enableOps)

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting staking indexer",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("validator", cfg.Validator.AccountID),
		zap.String("primary_rpc", cfg.RPC.Primary),
		zap.Uint64("start_height", cfg.Indexer.StartHeight),
		zap.Int("parallel_limit", cfg.Indexer.ParallelLimit),
		zap.Int("batch_size", cfg.Indexer.BatchSize),
	)

	if err := run(cfg, log); err != nil {
		log.Fatal("Indexer exited with error", zap.Error(err))
	}
	log.Info("Indexer stopped")
}

// applyFlags overrides configuration with explicitly set command-line flags.
func applyFlags(cfg *config.Config, validatorID string, startHeight uint64, logLevel, logFormat string, enableOps bool) {
	if validatorID != "" {
		cfg.Validator.AccountID = validatorID
	}
	if startHeight > 0 {
		cfg.Indexer.StartHeight = startHeight
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if enableOps {
		cfg.Ops.Enabled = true
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, constants.DefaultConnectTimeout)
	store, err := storage.NewStore(connectCtx, &storage.Config{
		URI:                cfg.Database.URI,
		Database:           cfg.Database.Name,
		DelegatorBatchSize: cfg.Indexer.DelegatorBatchSize,
		Logger:             logger.WithComponent(log, "storage"),
	})
	cancel()
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultConnectTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Warn("Failed to close database cleanly", zap.Error(err))
		}
	}()

	if err := store.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	client, err := rpc.NewClient(&rpc.Config{
		Primary:    cfg.RPC.Primary,
		Secondary:  cfg.RPC.Secondary,
		Timeout:    cfg.RPC.Timeout,
		MaxRetries: cfg.RPC.MaxRetries,
		Logger:     logger.WithComponent(log, "rpc"),
	})
	if err != nil {
		return fmt.Errorf("create rpc client: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	parser := fetch.NewParser(cfg.Validator.AccountID, client, logger.WithComponent(log, "parser"))
	fetcher, err := fetch.NewFetcher(&fetch.Config{
		Client:        client,
		Parser:        parser,
		ParallelLimit: cfg.Indexer.ParallelLimit,
		BatchSize:     uint64(cfg.Indexer.BatchSize),
		Logger:        logger.WithComponent(log, "fetch"),
		Metrics:       fetch.NewMetrics(registry),
	})
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}
	defer fetcher.Close()

	engine, err := indexer.NewEngine(&indexer.Config{
		ValidatorID:   cfg.Validator.AccountID,
		StartHeight:   cfg.Indexer.StartHeight,
		EpochBlocks:   cfg.Indexer.EpochBlocks,
		EpochsPerYear: cfg.Indexer.EpochsPerYear,
		PollInterval:  cfg.Indexer.PollInterval,
		Client:        client,
		Store:         store,
		Fetcher:       fetcher,
		Logger:        logger.WithComponent(log, "engine"),
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	var opsServer *api.Server
	if cfg.Ops.Enabled {
		opsConfig := api.DefaultConfig()
		opsConfig.Host = cfg.Ops.Host
		opsConfig.Port = cfg.Ops.Port
		opsServer, err = api.NewServer(opsConfig, logger.WithComponent(log, "ops"), store, registry)
		if err != nil {
			return fmt.Errorf("create ops server: %w", err)
		}
		go func() {
			if err := opsServer.Start(); err != nil {
				log.Error("Ops server failed", zap.Error(err))
			}
		}()
	}

	err = engine.Run(ctx)

	if opsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
		defer cancel()
		if stopErr := opsServer.Stop(shutdownCtx); stopErr != nil {
			log.Warn("Ops server shutdown failed", zap.Error(stopErr))
		}
	}
	return err
}
