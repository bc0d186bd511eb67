package app

import (
	"log/slog"

	"percolator_keeper/internal/event"
	"percolator_keeper/internal/infra"
	"percolator_keeper/internal/infra/storage"
)

// Bootstrap orchestrates the keeper startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Hub     *event.Hub
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB, hub)
func (b *Bootstrap) Initialize() error {
	slog.Info("Bootstrapping percolator keeper...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (audit trail)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("audit store initialized")

	// 4. Event hub
	b.Hub = event.NewHub()

	return nil
}
