package ledger

import (
	"time"

	"credo/internal/model"
)

// Reconcilable reports whether the reconciler must finalize this entry: its
// expiration has passed and it carries no processed stamp yet. Entries
// already consumed down to zero still qualify so they receive their stamp
// exactly once, contributing nothing, which keeps repeat scans cheap.
func Reconcilable(e model.LedgerEntry, now time.Time) bool {
	return e.ExpirationProcessedAt == nil &&
		e.RemainingAmount != nil &&
		e.ExpirationDate != nil &&
		e.ExpirationDate.Before(now)
}
