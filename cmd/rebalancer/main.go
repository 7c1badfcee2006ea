package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/crypto_rebalancer/internal/config"
	"github.com/vitos/crypto_rebalancer/internal/infrastructure/exchange"
	"github.com/vitos/crypto_rebalancer/internal/infrastructure/logger"
	"github.com/vitos/crypto_rebalancer/internal/infrastructure/storage"
	"github.com/vitos/crypto_rebalancer/internal/scheduler"
	"github.com/vitos/crypto_rebalancer/internal/usecase"
	"github.com/vitos/crypto_rebalancer/internal/web"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	once := flag.Bool("once", false, "run a single rebalance cycle and exit")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Venue
	signer, err := cfg.Signer()
	if err != nil {
		log.Fatal("Failed to init signer", zap.Error(err))
	}
	aliases := cfg.TickerAliases()
	venue := exchange.NewHyperliquidAdapter(cfg.VenueConfig(), signer, aliases, log)

	// 5. Init Service
	svc := usecase.NewRebalanceService(venue, cfg.WeightSource(log), store, aliases, cfg.ToRebalanceConfig(), cfg.MinOrderValue(), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		report, err := svc.Run(ctx)
		if err != nil {
			log.Error("Rebalance failed", zap.String("cycle_id", report.CycleID), zap.Error(err))
			os.Exit(1)
		}
		log.Info("Rebalance finished",
			zap.String("cycle_id", report.CycleID),
			zap.String("status", string(report.Status)),
			zap.Int("trades", len(report.Trades)),
			zap.Any("updates", report.Updates),
		)
		return
	}

	// 6. Schedule
	sched := scheduler.New(log)
	if cfg.Rebalance.Schedule != "" {
		err := sched.AddJob(cfg.Rebalance.Schedule, "rebalance", func(ctx context.Context) error {
			_, err := svc.Run(ctx)
			return err
		})
		if err != nil {
			log.Fatal("Invalid rebalance schedule", zap.String("schedule", cfg.Rebalance.Schedule), zap.Error(err))
		}
	} else {
		log.Warn("No rebalance schedule configured, cycles run only when triggered over HTTP")
	}
	sched.Start()

	// 7. Init Web Server
	analyzer := usecase.NewCycleAnalyzer(store, log)
	server := web.NewServer(cfg.Server.Port, cfg.Server.AllowedOrigins, svc, store, analyzer, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	// 8. Wait for Shutdown
	<-ctx.Done()

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down web server", zap.Error(err))
	}
	sched.Stop()
}
