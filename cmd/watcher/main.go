package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"schemawatch/internal/config"
	"schemawatch/internal/logger"
	"schemawatch/internal/runner"
	"schemawatch/internal/service"
	"schemawatch/internal/storage"
	"schemawatch/internal/version"

	"go.uber.org/zap"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to config file")
	once := flag.Bool("once", false, "Scan the ingest directory once and exit")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	// Show version if requested
	if *showVersion {
		info := version.GetInfo()
		fmt.Println(info.String())
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Watcher.IngestDir == "" {
		_, _ = fmt.Fprintln(os.Stderr, "watcher.ingest_dir must be configured")
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(&cfg.Log, "watcher")
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Initialize storage
	store, err := storage.NewStorage(&cfg.Storage, log)
	if err != nil {
		log.Fatal("Failed to initialize storage", zap.Error(err))
	}

	// Initialize service
	svc, err := service.NewService(cfg, store, log)
	if err != nil {
		log.Fatal("Failed to initialize service", zap.Error(err))
	}
	defer svc.Stop()

	ingestor := runner.NewIngestor(svc.Runner(), cfg.Watcher.IngestDir, log)

	if *once {
		summary, err := ingestor.ScanOnce(context.Background())
		if err != nil {
			log.Fatal("Ingest scan failed", zap.Error(err))
		}
		log.Info("Scan finished",
			zap.Int("sources", len(summary.Results)),
			zap.Int("recorded", summary.Recorded),
			zap.Int("failed", summary.Failed))
		return
	}

	// Run the ingest loop until a signal arrives
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		log.Info("Received signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("Starting ingest loop",
		zap.String("dir", cfg.Watcher.IngestDir),
		zap.Duration("interval", cfg.Watcher.ScanInterval))

	if err := ingestor.Run(ctx, cfg.Watcher.ScanInterval); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Ingest loop stopped", zap.Error(err))
	}

	log.Info("Shutdown complete")
}
