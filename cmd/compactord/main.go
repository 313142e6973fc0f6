package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/roomstate/compactor/internal/checkpoint"
	"github.com/roomstate/compactor/internal/dbconn"
	"github.com/roomstate/compactor/internal/scheduler"
	"github.com/roomstate/compactor/internal/store"
	"github.com/roomstate/compactor/pkg/config"
	"github.com/roomstate/compactor/pkg/logging"
	"github.com/roomstate/compactor/pkg/telemetry"
)

var (
	configPath = flag.String("c", "", "Path to configuration file")
	version    = flag.Bool("v", false, "Print version and exit")
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("compactord version %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	logger := logging.NewDefaultLogger(logging.LevelInfo, os.Stdout)
	logging.SetGlobalLogger(logger)

	logger.Info("starting compactord...")
	logger.Info("version: %s, commit: %s, built: %s", Version, GitCommit, BuildTime)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration: %v", err)
		os.Exit(1)
	}
	if cfg.Log.Level != "" {
		logger.SetLevel(logging.ParseLogLevel(cfg.Log.Level))
	}

	shutdownTelemetry, err := telemetry.Init(context.Background())
	if err != nil {
		logger.Error("failed to initialize telemetry: %v", err)
	}
	defer shutdownTelemetry(context.Background())

	logger.Info("backing store: %s://%s:%d/%s", cfg.Store.Type, cfg.Store.Host, cfg.Store.Port, cfg.Store.Database)
	logger.Info("chunk size: %d, progress log every %d chunks", cfg.Scheduler.ChunkSize, cfg.Scheduler.ProgressLogEvery)

	handles, err := dbconn.Open(cfg.Store)
	if err != nil {
		logger.Error("failed to open database: %v", err)
		os.Exit(1)
	}
	defer handles.Close()

	ckptStore := checkpoint.NewStore(handles.Gorm)
	if err := ckptStore.CreateTablesIfNeeded(context.Background()); err != nil {
		logger.Error("failed to prepare checkpoint tables: %v", err)
		os.Exit(1)
	}

	adapter := store.NewSQLAdapter(handles.SQL, handles.Dialect, logger)

	levels, err := parseLevelSizes(cfg.Compaction.LevelSizes)
	if err != nil {
		logger.Error("invalid level_sizes: %v", err)
		os.Exit(1)
	}

	schedCfg := scheduler.Config{
		ChunkSize:        cfg.Scheduler.ChunkSize,
		DefaultLevels:    levels,
		ProgressLogEvery: cfg.Scheduler.ProgressLogEvery,
	}
	sched := scheduler.New(schedCfg, adapter, ckptStore, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal %v, shutting down after the current chunk...", sig)
		cancel()
	}()

	logger.Info("scheduler started: run_id=%s, processing chunks across rooms...", sched.RunID())
	if err := sched.Run(ctx, cfg.Scheduler.NumberOfChunks); err != nil && ctx.Err() == nil {
		logger.Error("scheduler stopped with error: %v", err)
		os.Exit(1)
	}

	stats := sched.Stats()
	logger.Info("scheduler stopped: run_id=%s rooms_visited=%d chunks_processed=%d chunks_skipped=%d rows_saved=%d",
		sched.RunID(), stats.RoomsVisited, stats.ChunksProcessed, stats.ChunksSkipped, stats.RowsSaved)
}

func parseLevelSizes(spec string) ([]int, error) {
	parts := strings.Split(spec, ",")
	sizes := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid level size %q: %w", p, err)
		}
		sizes = append(sizes, n)
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("level_sizes must name at least one level")
	}
	return sizes, nil
}
