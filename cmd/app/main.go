package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"percolator_keeper/internal/app"
	"percolator_keeper/internal/domain"
	"percolator_keeper/internal/infra"
	"percolator_keeper/internal/infra/storage"
	"percolator_keeper/internal/service"

	"github.com/joho/godotenv"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Optional .env for local runs; env vars override config values
	_ = godotenv.Load()

	// 2. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("pprof server failed", slog.Any("error", err))
		}
	}()

	// 3. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	// 4. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Chain boundary clients
	registry := infra.NewChainRegistry(cfg)
	submitter := infra.NewRPCSubmitter(cfg)
	payer := domain.Address(cfg.Chain.KeeperKey)

	// 6. Price sources, tried in order
	var sources []domain.QuoteSource
	if cfg.Prices.PrimaryURL != "" {
		sources = append(sources, infra.NewCoinGeckoSource(cfg.Prices.PrimaryURL, cfg.Prices.TimeoutSec))
	}
	if cfg.Prices.SecondaryURL != "" {
		sources = append(sources, infra.NewCoinbaseSource(cfg.Prices.SecondaryURL, cfg.Prices.TimeoutSec))
	}

	// 7. Core services
	resolver := service.NewPriceResolverWithConfig(
		payer, sources, submitter, bootstrap.Hub, cfg.Crank.PricePushCooldownMS)
	scheduler := service.NewCrankSchedulerWithConfig(
		payer, registry, submitter, resolver, bootstrap.Hub,
		cfg.Crank.IntervalMS, cfg.Crank.AllowPanic)

	// 8. Event consumers: audit recorder + dashboard feed
	recorder := storage.NewRecorder(bootstrap.Storage, bootstrap.Hub)
	recorder.Start(ctx)
	defer recorder.Stop()

	feed := infra.NewFeed(bootstrap.Hub, cfg.Feed.ListenAddr)
	if err := feed.Start(ctx); err != nil {
		slog.Error("failed to start event feed", slog.Any("error", err))
	}
	defer feed.Stop()

	// 9. Crank loop
	scheduler.Start(ctx)
	defer scheduler.Stop()

	slog.InfoContext(ctx, "keeper fully operational, press Ctrl+C to exit",
		slog.String("rpc", cfg.Chain.RPCURL),
		slog.String("program", cfg.Chain.ProgramID),
	)

	// Wait for shutdown signal
	<-ctx.Done()

	slog.Info("shutting down gracefully...")
}
