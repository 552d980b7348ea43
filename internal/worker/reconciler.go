package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"credo/internal/ledger"
	"credo/internal/model"
	"credo/internal/service"
)

// Reconciler reclaims value from expired, unprocessed earn entries across
// the whole user population, in fixed-size chunks. Each chunk is one
// transaction; a failed chunk is counted and logged, never aborting the run.
type Reconciler struct {
	store     service.JobStore
	chunkSize int
	now       func() time.Time
}

func NewReconciler(store service.JobStore, chunkSize int) *Reconciler {
	return &Reconciler{store: store, chunkSize: chunkSize, now: time.Now}
}

// Run executes one full reconciliation pass. Re-running is always safe: the
// processed marker guards every entry against double finalization.
func (r *Reconciler) Run(ctx context.Context) (model.ReconciliationReport, error) {
	var report model.ReconciliationReport
	now := r.now()

	ids, err := r.store.ReconcilableUserIDs(ctx, now)
	if err != nil {
		return report, fmt.Errorf("reconcilable user scan: %w", err)
	}
	report.UsersCount = len(ids)
	if len(ids) == 0 {
		return report, nil
	}

	for i, chunk := range ledger.Chunk(ids, r.chunkSize) {
		var res service.ChunkResult
		err := withChunkRetry(ctx, func(ctx context.Context) error {
			var err error
			res, err = r.store.ReconcileChunk(ctx, chunk, now)
			return err
		})
		if err != nil {
			report.ErrorCount += len(chunk)
			jobErrorsTotal.WithLabelValues("reconcile").Inc()
			slog.Error("reconcile chunk failed",
				"chunk", i, "users", len(chunk), "error", err)
			continue
		}
		report.ProcessedCount += res.Processed
		report.TotalExpiredCredits += res.ExpiredCredits
	}

	expiredCreditsTotal.Add(float64(report.TotalExpiredCredits))
	slog.Info("expiration reconciliation finished",
		"users", report.UsersCount,
		"processed", report.ProcessedCount,
		"errors", report.ErrorCount,
		"expired_credits", report.TotalExpiredCredits,
	)
	return report, nil
}
