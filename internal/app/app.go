package app

import (
	"context"
	"fmt"

	"github.com/studyreel/studyreel-backend/internal/platform/logger"
)

// App owns every long-lived dependency. Construction wires clients and
// services in order; Run blocks on the worker until the context is cancelled.
type App struct {
	Log      *logger.Logger
	Cfg      Config
	Clients  Clients
	Services Services
}

func New(log *logger.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	cfg := LoadConfig()

	clients, err := wireClients(log)
	if err != nil {
		return nil, fmt.Errorf("wire clients: %w", err)
	}

	services, err := wireServices(log, cfg, clients)
	if err != nil {
		clients.Close(log)
		return nil, fmt.Errorf("wire services: %w", err)
	}

	log.Info("Application wired", "worker_concurrency", cfg.WorkerConcurrency, "embedding_dim", cfg.EmbeddingDim)
	return &App{
		Log:      log,
		Cfg:      cfg,
		Clients:  clients,
		Services: services,
	}, nil
}

// Run consumes jobs until ctx is cancelled, then releases client resources.
func (a *App) Run(ctx context.Context) error {
	defer a.Clients.Close(a.Log)
	return a.Services.Worker.Run(ctx)
}
