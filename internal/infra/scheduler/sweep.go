package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"course-progression-engine/internal/logger"
)

// PendingReconciler gives stale enrollments another pass.
type PendingReconciler interface {
	ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// SweepConfig tunes the enrollment sweep.
type SweepConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// EnrollmentSweep periodically resumes enrollments that never reached the
// synced state, e.g. because the request that started them gave up.
type EnrollmentSweep struct {
	sched      gocron.Scheduler
	reconciler PendingReconciler
	cfg        SweepConfig
	log        *logger.Logger
}

func NewEnrollmentSweep(r PendingReconciler, cfg SweepConfig, log *logger.Logger) (*EnrollmentSweep, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if log == nil {
		log = logger.Nop()
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &EnrollmentSweep{sched: sched, reconciler: r, cfg: cfg, log: log}, nil
}

// Run schedules the sweep and blocks until ctx is done.
func (s *EnrollmentSweep) Run(ctx context.Context) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(func() { s.RunOnce(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("enrollment-sweep"),
	)
	if err != nil {
		return err
	}
	s.sched.Start()
	s.log.Info("enrollment sweep started", "interval", s.cfg.Interval, "stale_after", s.cfg.StaleAfter)

	<-ctx.Done()
	return s.sched.Shutdown()
}

// RunOnce performs a single sweep.
func (s *EnrollmentSweep) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	synced, err := s.reconciler.ReconcilePending(ctx, s.cfg.StaleAfter, s.cfg.BatchSize)
	if err != nil {
		s.log.Error("enrollment sweep failed", "error", err)
		return
	}
	if synced > 0 {
		s.log.Info("enrollment sweep synced enrollments", "count", synced)
	}
}
