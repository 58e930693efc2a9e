// workers/queue_sweeper.go
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ranked-queue-service/services"

	"github.com/go-co-op/gocron/v2"
)

// Sweeper is the part of the ranked service the worker drives.
type Sweeper interface {
	SweepStaleQueues(ctx context.Context) (services.SweepReport, error)
}

// QueueSweeper periodically settles pools nobody submits to anymore.
type QueueSweeper struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger
	sched    gocron.Scheduler
	stopOnce sync.Once
}

func NewQueueSweeper(sweeper Sweeper, interval time.Duration, logger *slog.Logger) *QueueSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueSweeper{sweeper: sweeper, interval: interval, logger: logger}
}

// Start schedules the sweep. A zero interval leaves the worker off.
// The job stops when ctx is cancelled or Stop is called.
func (w *QueueSweeper) Start(ctx context.Context) error {
	if w.interval <= 0 {
		w.logger.Info("[SWEEPER] disabled")
		return nil
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func() { w.RunOnce(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("ranked-queue-sweep"),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	w.sched = sched
	sched.Start()
	w.logger.Info("[SWEEPER] started", "interval", w.interval)

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

// RunOnce performs a single sweep and logs the report.
func (w *QueueSweeper) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report, err := w.sweeper.SweepStaleQueues(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "[SWEEPER] sweep failed", "error", err,
			"checked", report.Checked, "resolved", report.Resolved, "cancelled", report.Cancelled)
		return
	}
	if report.Resolved > 0 || report.Cancelled > 0 {
		w.logger.InfoContext(ctx, "[SWEEPER] settled stale queues",
			"checked", report.Checked, "resolved", report.Resolved, "cancelled", report.Cancelled)
	}
}

func (w *QueueSweeper) Stop() {
	if w.sched == nil {
		return
	}
	w.stopOnce.Do(func() {
		if err := w.sched.Shutdown(); err != nil {
			w.logger.Warn("[SWEEPER] shutdown", "error", err)
		}
	})
}
