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

// FreeGrant configures the periodic grant for users without a paid plan,
// who have no plan row to read amounts from. ExpireDays <= 0 means the
// granted credits never expire.
type FreeGrant struct {
	Credits    int64
	ExpireDays int
}

// Scheduler grants periodic credits to every eligible cohort member at most
// once per period. Safe to invoke repeatedly: eligibility is re-checked per
// user inside each chunk transaction.
type Scheduler struct {
	store      service.JobStore
	reconciler *Reconciler
	chunkSize  int
	free       FreeGrant
	now        func() time.Time
}

func NewScheduler(store service.JobStore, reconciler *Reconciler, chunkSize int, free FreeGrant) *Scheduler {
	return &Scheduler{
		store:      store,
		reconciler: reconciler,
		chunkSize:  chunkSize,
		free:       free,
		now:        time.Now,
	}
}

// grantGroup keys cohort members sharing identical grant parameters, so one
// plan's members are chunked and granted together.
type grantGroup struct {
	cohort     ledger.Cohort
	kind       model.Kind
	amount     int64
	expireDays int // 0 means no expiration
}

// Run executes one distribution pass: reconcile expirations first, load the
// population, classify, then grant cohort by cohort in chunked transactions.
func (s *Scheduler) Run(ctx context.Context) (model.DistributionReport, error) {
	var report model.DistributionReport

	// Stale expired value must not be counted while granting.
	if _, err := s.reconciler.Run(ctx); err != nil {
		return report, fmt.Errorf("pre-distribution reconciliation: %w", err)
	}

	population, err := s.store.DistributionPopulation(ctx)
	if err != nil {
		return report, fmt.Errorf("load distribution population: %w", err)
	}

	groups := make(map[grantGroup][]string)
	for _, m := range population {
		cohort := ledger.Classify(m)
		if cohort == ledger.CohortNone {
			continue
		}
		g := grantGroup{cohort: cohort, kind: cohort.GrantKind()}
		if cohort == ledger.CohortFree {
			g.amount = s.free.Credits
			g.expireDays = max(s.free.ExpireDays, 0)
		} else {
			g.amount = m.Plan.MonthlyCredits
			if m.Plan.CreditExpireDays != nil {
				g.expireDays = *m.Plan.CreditExpireDays
			}
		}
		if g.amount <= 0 {
			continue
		}
		groups[g] = append(groups[g], m.UserID)
		report.UsersCount++
	}

	now := s.now()
	for g, userIDs := range groups {
		var expireDays *int
		if g.expireDays > 0 {
			d := g.expireDays
			expireDays = &d
		}
		for i, chunk := range ledger.Chunk(userIDs, s.chunkSize) {
			var granted int
			err := withChunkRetry(ctx, func(ctx context.Context) error {
				var err error
				granted, err = s.store.GrantChunk(ctx, chunk, g.kind, g.amount, expireDays, now)
				return err
			})
			if err != nil {
				report.ErrorCount += len(chunk)
				jobErrorsTotal.WithLabelValues("distribute").Inc()
				slog.Error("grant chunk failed",
					"cohort", g.cohort, "chunk", i, "users", len(chunk), "error", err)
				continue
			}
			report.ProcessedCount += granted
			grantsTotal.WithLabelValues(string(g.cohort)).Add(float64(granted))
		}
	}

	slog.Info("credit distribution finished",
		"users", report.UsersCount,
		"processed", report.ProcessedCount,
		"errors", report.ErrorCount,
	)
	return report, nil
}
