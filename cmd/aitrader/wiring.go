package main

import (
	"context"
	"io"

	"go.uber.org/zap"

	"aitrader/internal/ai"
	"aitrader/internal/config"
	"aitrader/internal/exchange"
	"aitrader/internal/manager"
	"aitrader/internal/marketdata"
	"aitrader/internal/models"
	"aitrader/internal/notify"
	"aitrader/internal/repository"
	"aitrader/internal/simulation"
	"aitrader/internal/worker"
)

// workerDeps are the collaborators shared by every worker of one process.
type workerDeps struct {
	cfg       config.Config
	repo      repository.Repository
	market    *marketdata.Provider
	providers *ai.Registry
	exchanges *exchange.Registry
	notifier  *notify.Service
}

func newWorkerDeps(cfg config.Config, repo repository.Repository, logger *zap.Logger) *workerDeps {
	return &workerDeps{
		cfg:       cfg,
		repo:      repo,
		market:    marketdata.NewFromConfig(cfg.MarketData, logger),
		providers: ai.NewRegistryFromConfig(cfg.AI),
		// Live venues register here; none ship yet.
		exchanges: exchange.NewRegistry(),
		notifier:  notify.NewFromConfig(cfg.Notify, repo, logger),
	}
}

func (d *workerDeps) worker(simulationID string, logger *zap.Logger) *worker.Worker {
	return &worker.Worker{
		SimulationID: simulationID,
		Repo:         d.repo,
		Market:       d.market,
		Providers:    d.providers,
		Exchanges:    d.exchanges,
		NotifierFor: func(sim *models.Simulation, cfg simulation.Config) worker.Notifier {
			return d.notifier.ForSimulation(sim, cfg)
		},
		Logger:  logger,
		Options: worker.OptionsFromConfig(d.cfg),
	}
}

// inProcess runs a worker on pipes inside the server process.
func (d *workerDeps) inProcess(logger *zap.Logger) manager.WorkerFunc {
	return func(ctx context.Context, id string, stdin io.Reader, stdout io.Writer) error {
		log := logger.With(zap.String("component", "worker"), zap.String("simulation_id", id))
		return d.worker(id, log).Serve(ctx, stdin, stdout)
	}
}
