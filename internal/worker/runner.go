package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"credo/internal/model"
)

// Trigger topics for on-demand job runs. Queue-group subscribed: with
// multiple instances running, only one picks up each trigger.
const (
	TopicJobDistribute = "jobs.distribute"
	TopicJobReconcile  = "jobs.reconcile"

	jobQueueGroup = "credo_jobs"
)

// Jobs bundles the two batch jobs behind the service.Jobs interface.
type Jobs struct {
	Scheduler  *Scheduler
	Reconciler *Reconciler
}

func (j *Jobs) Distribute(ctx context.Context) (model.DistributionReport, error) {
	return j.Scheduler.Run(ctx)
}

func (j *Jobs) Reconcile(ctx context.Context) (model.ReconciliationReport, error) {
	return j.Reconciler.Run(ctx)
}

// Runner drives the batch jobs: a ticker fires the distribution on a
// recurring cadence, and NATS trigger topics allow manual or external runs.
// Implements the infrastructure Server interface.
type Runner struct {
	jobs     *Jobs
	natsConn *nats.Conn
	interval time.Duration
	subs     []*nats.Subscription
}

func NewRunner(jobs *Jobs, nc *nats.Conn, interval time.Duration) *Runner {
	return &Runner{jobs: jobs, natsConn: nc, interval: interval}
}

// Start subscribes to the trigger topics, starts the cadence ticker and
// blocks until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	s1, err := r.natsConn.QueueSubscribe(TopicJobDistribute, jobQueueGroup, func(m *nats.Msg) {
		r.distribute(ctx)
	})
	if err != nil {
		return err
	}
	r.subs = append(r.subs, s1)

	s2, err := r.natsConn.QueueSubscribe(TopicJobReconcile, jobQueueGroup, func(m *nats.Msg) {
		if _, err := r.jobs.Reconcile(ctx); err != nil {
			slog.Error("triggered reconciliation failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	r.subs = append(r.subs, s2)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("job runner is running", "distribute_interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("job runner shutting down, draining subscriptions...")
			for _, s := range r.subs {
				_ = s.Drain()
			}
			return nil
		case <-ticker.C:
			r.distribute(ctx)
		}
	}
}

func (r *Runner) distribute(ctx context.Context) {
	report, err := r.jobs.Distribute(ctx)
	if err != nil {
		slog.Error("credit distribution failed", "error", err)
		return
	}
	slog.Info("credit distribution report",
		"users", report.UsersCount,
		"processed", report.ProcessedCount,
		"errors", report.ErrorCount,
	)
}

func (r *Runner) Stop(ctx context.Context) error {
	for _, s := range r.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
