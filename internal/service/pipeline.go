package service

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/plume/internal/config"
	"github.com/ifuryst/plume/internal/service/publisher"
)

// Pipeline holds the wired scheduling and publishing components for one
// process.
type Pipeline struct {
	Posts     *GormPostStore
	Channels  *GormChannelStore
	Attempts  *MonitoringService
	Gateway   *publisher.Manager
	Metrics   *Metrics
	Runner    *JobRunner
	Source    *JobSource
	Scheduler *Scheduler
	Authoring *PostService
}

func NewPipeline(cfg *config.Config, db *gorm.DB, logger *zap.Logger, reg prometheus.Registerer) (*Pipeline, error) {
	gateway, err := NewGateway(&cfg.Publisher, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize publish gateway: %w", err)
	}

	p := &Pipeline{
		Posts:    NewPostStore(db),
		Channels: NewChannelStore(db),
		Attempts: NewMonitoringService(db, logger),
		Gateway:  gateway,
		Metrics:  NewMetrics(reg),
	}
	p.Runner = NewJobRunner(RunnerDeps{
		Posts:    p.Posts,
		Channels: p.Channels,
		Attempts: p.Attempts,
		Gateway:  p.Gateway,
		Metrics:  p.Metrics,
		Logger:   logger.Named("runner"),
	}, RunnerConfig{
		MaxAttempts:     cfg.Scheduler.MaxAttemptsValue(),
		RetryBackoff:    cfg.Scheduler.RetryBackoffDuration(),
		MaxRetryBackoff: cfg.Scheduler.MaxRetryBackoffDuration(),
	})
	p.Source = NewJobSource(p.Posts, cfg.Scheduler.BatchSize)
	p.Scheduler = NewScheduler(SchedulerConfig{
		Interval:    cfg.Scheduler.IntervalDuration(),
		Concurrency: cfg.Scheduler.Concurrency,
	}, p.Source, p.Runner, logger.Named("scheduler"), p.Metrics)
	p.Authoring = NewPostService(p.Posts, p.Attempts, logger)
	return p, nil
}
