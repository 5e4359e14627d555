package scheduler

import (
	"context"
	"fmt"
	"time"

	"market-analyst-bot/internal/logging"
	"market-analyst-bot/internal/pipeline"

	"github.com/robfig/cron/v3"
)

// Config holds the cron expressions and retention windows for maintenance.
type Config struct {
	JobPruneCron    string        `json:"job_prune_cron"`
	JobRetention    time.Duration `json:"job_retention"`
	HealthCheckCron string        `json:"health_check_cron"`
}

// DefaultConfig returns the default maintenance schedule.
func DefaultConfig() Config {
	return Config{
		JobPruneCron:    "0 15 * * * *", // hourly at :15
		JobRetention:    24 * time.Hour,
		HealthCheckCron: "0 */5 * * * *",
	}
}

// HealthChecker is anything with a liveness probe worth logging.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Scheduler runs background maintenance tasks.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *pipeline.JobStore
	db     HealthChecker
	config Config
	logger *logging.Logger
	ctx    context.Context
}

// New creates a Scheduler. db may be nil when the database is disabled.
func New(ctx context.Context, jobs *pipeline.JobStore, db HealthChecker, cfg Config, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		jobs:   jobs,
		db:     db,
		config: cfg,
		logger: logger.WithComponent("scheduler"),
		ctx:    ctx,
	}
}

// RegisterAll registers the maintenance tasks.
func (s *Scheduler) RegisterAll() error {
	if _, err := s.cron.AddFunc(s.config.JobPruneCron, s.pruneJobs); err != nil {
		return fmt.Errorf("register job prune task: %w", err)
	}
	if s.db != nil {
		if _, err := s.cron.AddFunc(s.config.HealthCheckCron, s.checkDatabase); err != nil {
			return fmt.Errorf("register health check task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) pruneJobs() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	pruned, err := s.jobs.PruneFinished(ctx, s.config.JobRetention)
	if err != nil {
		s.logger.Warn("job prune failed", "error", err)
		return
	}
	if pruned > 0 {
		s.logger.Info("pruned finished jobs", "count", pruned)
	}
}

func (s *Scheduler) checkDatabase() {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	if err := s.db.HealthCheck(ctx); err != nil {
		s.logger.Error("database health check failed", "error", err)
	}
}
