package cronrunner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"aitrader/internal/config"
	"aitrader/internal/repository"
)

type Summarizer interface {
	DailySummaries(ctx context.Context, sims repository.SimulationRepository) (int, error)
}

type Retrier interface {
	RetryFailed(ctx context.Context) (int, error)
}

type Sweeper interface {
	SweepHeartbeats(ctx context.Context) int
}

// Jobs are the periodic maintenance tasks of the server. Nil members are
// not scheduled.
type Jobs struct {
	Simulations repository.SimulationRepository
	Summaries   Summarizer
	Retries     Retrier
	Heartbeats  Sweeper
}

// Register schedules every configured job on r.
func Register(r *Runner, cfg config.CronConfig, jobs Jobs) error {
	logger := r.logger
	if jobs.Summaries != nil && jobs.Simulations != nil && cfg.DailySummary != "" {
		if _, err := r.Add(cfg.DailySummary, func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			defer cancel()
			n, err := jobs.Summaries.DailySummaries(ctx, jobs.Simulations)
			if err != nil {
				logger.Warn("cron daily summary failed", zap.Error(err))
				return
			}
			logger.Info("cron daily summary ok", zap.Int("simulations", n))
		}); err != nil {
			return err
		}
	}
	if jobs.Retries != nil && cfg.NotificationRetry != "" {
		if _, err := r.Add(cfg.NotificationRetry, func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
			defer cancel()
			n, err := jobs.Retries.RetryFailed(ctx)
			if err != nil {
				logger.Warn("cron notification retry failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("cron notification retry ok", zap.Int("attempted", n))
			}
		}); err != nil {
			return err
		}
	}
	if jobs.Heartbeats != nil && cfg.HeartbeatSweep != "" {
		if _, err := r.Add(cfg.HeartbeatSweep, func(ctx context.Context) {
			if n := jobs.Heartbeats.SweepHeartbeats(ctx); n > 0 {
				logger.Warn("cron heartbeat sweep killed workers", zap.Int("killed", n))
			}
		}); err != nil {
			return err
		}
	}
	return nil
}
