package service

import (
	"context"
	"time"

	"credo/internal/model"
)

// CreditService defines the single-user ledger operations. All transport
// layers depend on this interface, not on the concrete repository.
type CreditService interface {
	// AddCredits creates one earn entry and applies it to the balance as one
	// atomic unit. Rejects non-positive amounts and expire windows before any
	// mutation.
	AddCredits(ctx context.Context, req model.AddCreditsRequest) error
	// ConsumeCredits debits the balance oldest-expiring-first. All-or-nothing:
	// an insufficient balance leaves every row untouched.
	ConsumeCredits(ctx context.Context, req model.ConsumeCreditsRequest) error
	// GetBalance returns the cached balance, 0 for unknown users. Degrades to
	// 0 instead of failing so display paths never break.
	GetBalance(ctx context.Context, userID string) (int64, error)
	// HasEnoughCredits is the caller-side sufficiency pre-check.
	// ConsumeCredits re-validates under lock regardless.
	HasEnoughCredits(ctx context.Context, userID string, required int64) (bool, error)
	// CanGrantByKind reports whether no entry of the kind exists for the user
	// within the period containing at. Gates every periodic grant.
	CanGrantByKind(ctx context.Context, userID string, kind model.Kind, at time.Time) (bool, error)
}

// ChunkResult summarises one reconciliation chunk transaction.
type ChunkResult struct {
	Processed      int
	ExpiredCredits int64
}

// JobStore is the storage surface the batch jobs run on. Each method that
// mutates does so in one transaction per call.
type JobStore interface {
	// ReconcilableUserIDs is the cheap existence scan: ids of users holding at
	// least one expired, unprocessed earn entry.
	ReconcilableUserIDs(ctx context.Context, now time.Time) ([]string, error)
	// ReconcileChunk finalizes every reconcilable entry for the given users:
	// zeroes remaining value, stamps the processed marker exactly once, debits
	// balances floored at zero and appends one expire entry per affected user.
	ReconcileChunk(ctx context.Context, userIDs []string, now time.Time) (ChunkResult, error)
	// DistributionPopulation loads all non-banned users with the plan of their
	// most recent active or trialing payment, in a single join.
	DistributionPopulation(ctx context.Context) ([]model.PopulationMember, error)
	// GrantChunk issues the periodic grant to every listed user that still
	// passes the per-kind period check, re-evaluated inside the transaction.
	// Returns how many users were actually granted.
	GrantChunk(ctx context.Context, userIDs []string, kind model.Kind, amount int64, expireDays *int, now time.Time) (int, error)
}

// Jobs is the trigger surface for the batch jobs, used by the HTTP and NATS
// transports and the ticker. Both runs are idempotent within a period and
// swallow chunk-level errors into their reports.
type Jobs interface {
	Distribute(ctx context.Context) (model.DistributionReport, error)
	Reconcile(ctx context.Context) (model.ReconciliationReport, error)
}
