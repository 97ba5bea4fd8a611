// Package worker runs deferred work on a gocron scheduler.
//
// Idle-mode imports are queued as one-time jobs that start immediately,
// bounded by a concurrency limit. Periodic maintenance tasks share the same
// scheduler.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/JonMunkholm/csvimport/internal/core"
)

// Tags attached to scheduled jobs.
const (
	TagIdleImport  = "idle-import"
	TagMaintenance = "maintenance"
)

// Runner executes idle-mode runs. *core.Importer satisfies it.
type Runner interface {
	RunIdle(ctx context.Context, job core.IdleJob) error
}

// Config controls the scheduler.
type Config struct {
	Concurrency int           // parallel jobs, default 2
	JobTimeout  time.Duration // 0 means no timeout
	StopTimeout time.Duration // how long Shutdown waits, default 30s
	Logger      *slog.Logger
}

// Queue implements core.JobQueue.
type Queue struct {
	scheduler gocron.Scheduler
	runner    Runner
	timeout   time.Duration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a stopped queue. Call Start to begin running jobs.
func New(runner Runner, cfg Config) (*Queue, error) {
	if runner == nil {
		return nil, fmt.Errorf("worker: runner is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s, err := gocron.NewScheduler(
		gocron.WithLimitConcurrentJobs(uint(cfg.Concurrency), gocron.LimitModeWait),
		gocron.WithStopTimeout(cfg.StopTimeout),
		gocron.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("worker: create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		scheduler: s,
		runner:    runner,
		timeout:   cfg.JobTimeout,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Enqueue schedules an idle-mode run to start as soon as a slot is free.
func (q *Queue) Enqueue(ctx context.Context, job core.IdleJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := q.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		gocron.NewTask(q.runIdle, job),
		gocron.WithName("idle-import-"+job.RunID),
		gocron.WithTags(TagIdleImport),
		gocron.WithEventListeners(
			gocron.AfterJobRunsWithError(func(_ uuid.UUID, name string, err error) {
				q.logger.Error("idle import failed", "job", name, "run_id", job.RunID, "error", err)
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("enqueue idle import %s: %w", job.RunID, err)
	}

	q.logger.Debug("idle import queued", "run_id", job.RunID, "principal_id", job.PrincipalID)
	return nil
}

func (q *Queue) runIdle(job core.IdleJob) error {
	ctx := q.ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	return q.runner.RunIdle(ctx, job)
}

// Every runs fn now and then every interval until Shutdown.
func (q *Queue) Every(name string, interval time.Duration, fn func(ctx context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", name)
	}

	_, err := q.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() error { return fn(q.ctx) }),
		gocron.WithName(name),
		gocron.WithTags(TagMaintenance),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithEventListeners(
			gocron.AfterJobRunsWithError(func(_ uuid.UUID, name string, err error) {
				q.logger.Error("maintenance job failed", "job", name, "error", err)
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Start begins running jobs.
func (q *Queue) Start() {
	q.scheduler.Start()
	q.logger.Info("worker started")
}

// Shutdown waits for running jobs up to the stop timeout, then cancels
// whatever is still in flight.
func (q *Queue) Shutdown() error {
	err := q.scheduler.Shutdown()
	q.cancel()
	if err != nil {
		return fmt.Errorf("worker shutdown: %w", err)
	}
	q.logger.Info("worker stopped")
	return nil
}
