// Package ledger holds the database-free rules of the credit engine:
// FIFO-by-expiration consumption planning, cohort classification and the
// idempotency period policy. The repository and workers feed it rows and
// apply its decisions inside their transactions.
package ledger

import (
	"errors"
	"sort"
	"time"

	"credo/internal/model"
)

var (
	ErrInvalidAmount       = errors.New("amount must be a positive integer")
	ErrInvalidExpireDays   = errors.New("expire days must be a positive integer")
	ErrNotEarnKind         = errors.New("kind does not add credits")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// Deduction is one step of a consumption plan: take Amount from the entry.
type Deduction struct {
	EntryID string
	Amount  int64
}

// PlanConsumption allocates amount across the user's earn entries,
// oldest-expiring first: ascending expiration date with non-expiring entries
// last, ties broken by creation time. Entries that are expired at now, carry
// no remaining value or are not earn kinds are skipped. Returns
// ErrInsufficientCredits when the entries cannot cover the amount; in that
// case no plan is returned and nothing should be applied.
func PlanConsumption(entries []model.LedgerEntry, amount int64, now time.Time) ([]Deduction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	candidates := make([]model.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Kind.IsEarn() || e.RemainingAmount == nil || *e.RemainingAmount <= 0 {
			continue
		}
		if e.ExpirationDate != nil && !e.ExpirationDate.After(now) {
			continue
		}
		candidates = append(candidates, e)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].ExpirationDate, candidates[j].ExpirationDate
		switch {
		case a == nil && b == nil:
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		default:
			return a.Before(*b)
		}
	})

	remaining := amount
	plan := make([]Deduction, 0, len(candidates))
	for _, e := range candidates {
		if remaining == 0 {
			break
		}
		take := min(*e.RemainingAmount, remaining)
		plan = append(plan, Deduction{EntryID: e.ID, Amount: take})
		remaining -= take
	}
	if remaining > 0 {
		return nil, ErrInsufficientCredits
	}
	return plan, nil
}

// Chunk splits ids into consecutive groups of at most size elements.
// A non-positive size yields a single chunk.
func Chunk(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]string{ids}
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
