package model

import "time"

// Kind classifies a ledger entry. Earn kinds add value and carry a remaining
// amount; usage and expire are log-only debits.
type Kind string

const (
	KindMonthlyRefresh      Kind = "monthly_refresh"
	KindRegisterGift        Kind = "register_gift"
	KindPurchase            Kind = "purchase"
	KindSubscriptionRenewal Kind = "subscription_renewal"
	KindLifetimeMonthly     Kind = "lifetime_monthly"
	KindUsage               Kind = "usage"
	KindExpire              Kind = "expire"
)

// IsEarn reports whether entries of this kind add credits.
func (k Kind) IsEarn() bool {
	switch k {
	case KindMonthlyRefresh, KindRegisterGift, KindPurchase, KindSubscriptionRenewal, KindLifetimeMonthly:
		return true
	}
	return false
}

// Balance is the materialized per-user aggregate. It is never the source of
// truth: outside an in-flight transaction it must equal the sum of remaining
// amounts over unexpired earn entries.
type Balance struct {
	UserID         string    `json:"user_id"`
	CurrentCredits int64     `json:"current_credits"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LedgerEntry is one earn or spend event. Entries are never deleted; earn
// entries are mutated only to decrement RemainingAmount and to stamp
// ExpirationProcessedAt once.
type LedgerEntry struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"user_id"`
	Kind                  Kind       `json:"kind"`
	Amount                int64      `json:"amount"`
	RemainingAmount       *int64     `json:"remaining_amount,omitempty"`
	Description           string     `json:"description"`
	ExternalReference     *string    `json:"external_reference,omitempty"`
	ExpirationDate        *time.Time `json:"expiration_date,omitempty"`
	ExpirationProcessedAt *time.Time `json:"expiration_processed_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

type AddCreditsRequest struct {
	UserID            string  `json:"user_id"`
	Amount            int64   `json:"amount"`
	Kind              Kind    `json:"kind"`
	Description       string  `json:"description"`
	ExpireDays        *int    `json:"expire_days,omitempty"`
	ExternalReference *string `json:"external_reference,omitempty"`
}

type ConsumeCreditsRequest struct {
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

const (
	IntervalMonth    = "month"
	IntervalYear     = "year"
	IntervalLifetime = "lifetime"
)

// Plan describes a billing plan as seen by the distribution scheduler.
type Plan struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Interval         string `json:"interval"` // month, year or lifetime
	IsFree           bool   `json:"is_free"`
	CreditsEnabled   bool   `json:"credits_enabled"`
	MonthlyCredits   int64  `json:"monthly_credits"`
	CreditExpireDays *int   `json:"credit_expire_days,omitempty"`
}

// PopulationMember is one row of the scheduler's population load: a
// non-banned user joined with the plan of their most recent active or
// trialing payment. Plan is nil for users with no such payment.
type PopulationMember struct {
	UserID string
	Plan   *Plan
}

// DistributionReport aggregates one scheduler run across all cohorts and chunks.
type DistributionReport struct {
	UsersCount     int `json:"users_count"`
	ProcessedCount int `json:"processed_count"`
	ErrorCount     int `json:"error_count"`
}

// ReconciliationReport aggregates one expiration reconciler run.
type ReconciliationReport struct {
	UsersCount          int   `json:"users_count"`
	ProcessedCount      int   `json:"processed_count"`
	ErrorCount          int   `json:"error_count"`
	TotalExpiredCredits int64 `json:"total_expired_credits"`
}

// CreditEvent is published on the bus after a committed ledger mutation.
type CreditEvent struct {
	UserID      string    `json:"user_id"`
	Kind        Kind      `json:"kind"`
	Amount      int64     `json:"amount"`
	Balance     int64     `json:"balance"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
