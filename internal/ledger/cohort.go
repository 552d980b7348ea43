package ledger

import "credo/internal/model"

// Cohort buckets the user population for periodic distribution.
type Cohort string

const (
	// CohortFree: no active or trialing payment at all.
	CohortFree Cohort = "free"
	// CohortLifetime: active payment on a lifetime plan with credits enabled.
	CohortLifetime Cohort = "lifetime"
	// CohortAnnual: active payment on a paid, yearly-billed subscription with
	// credits enabled.
	CohortAnnual Cohort = "annual"
	// CohortNone: excluded from scheduled distribution. Monthly subscribers
	// land here; their credits arrive through the per-renewal event path.
	CohortNone Cohort = "none"
)

// Classify assigns a population member to exactly one cohort.
func Classify(m model.PopulationMember) Cohort {
	p := m.Plan
	if p == nil {
		return CohortFree
	}
	if !p.CreditsEnabled {
		return CohortNone
	}
	switch p.Interval {
	case model.IntervalLifetime:
		return CohortLifetime
	case model.IntervalYear:
		if !p.IsFree {
			return CohortAnnual
		}
	}
	return CohortNone
}

// GrantKind returns the ledger entry kind a cohort's periodic grant is
// recorded under. The kind doubles as the idempotency scope.
func (c Cohort) GrantKind() model.Kind {
	switch c {
	case CohortLifetime:
		return model.KindLifetimeMonthly
	case CohortAnnual:
		return model.KindSubscriptionRenewal
	default:
		return model.KindMonthlyRefresh
	}
}
