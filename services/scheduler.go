package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// AlertPruner deletes resolved alerts older than a cutoff.
type AlertPruner interface {
	PruneResolvedAlerts(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler runs the periodic maintenance jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under a standard cron spec or an @every descriptor.
func (s *Scheduler) Add(name, spec string, job func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := job(s.ctx); err != nil {
			s.logger.Error("Scheduled job failed",
				zap.String("job", name),
				zap.Error(err))
			return
		}
		s.logger.Debug("Scheduled job finished",
			zap.String("job", name),
			zap.Duration("duration", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.logger.Info("Scheduled job", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Start runs the jobs until ctx is done and waits for running jobs to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// WeatherRefreshJob refreshes the cached weather of city.
func WeatherRefreshJob(advisor *WeatherAdvisor, city string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		report, err := advisor.Refresh(ctx, city)
		if err != nil {
			return err
		}
		advisor.logger.Info("Weather refreshed",
			zap.String("city", report.City),
			zap.Float64("outside_temp", report.OutsideTemp),
			zap.String("condition", report.Condition),
			zap.String("source", string(report.Source)))
		return nil
	}
}

// AlertPruneJob deletes resolved alerts older than retention.
func AlertPruneJob(pruner AlertPruner, retention time.Duration, logger *zap.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		cutoff := time.Now().UTC().Add(-retention)
		n, err := pruner.PruneResolvedAlerts(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("prune alerts: %w", err)
		}
		if n > 0 {
			logger.Info("Pruned resolved alerts", zap.Int64("count", n), zap.Time("before", cutoff))
		}
		return nil
	}
}
