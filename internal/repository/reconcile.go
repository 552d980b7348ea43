package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"credo/internal/ledger"
	"credo/internal/model"
	"credo/internal/service"
)

// ReconcilableUserIDs is the existence scan preceding a reconciler run. The
// SQL predicate mirrors ledger.Reconcilable, which is authoritative during
// finalization; the scan only has to be a superset-free prefilter.
func (r *LedgerRepo) ReconcilableUserIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT user_id FROM ledger_entries
		WHERE expiration_processed_at IS NULL
		  AND remaining_amount IS NOT NULL
		  AND expiration_date IS NOT NULL
		  AND expiration_date < $1`, now)
	if err != nil {
		return nil, fmt.Errorf("scan reconcilable users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan reconcilable user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReconcileChunk finalizes all reconcilable entries for the given users in
// one transaction. Per user: remaining value is captured and zeroed, the
// processed marker is stamped, the balance is debited floored at zero, and
// one expire entry records the loss.
func (r *LedgerRepo) ReconcileChunk(ctx context.Context, userIDs []string, now time.Time) (service.ChunkResult, error) {
	var res service.ChunkResult
	if len(userIDs) == 0 {
		return res, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin reconcile chunk: %w", err)
	}
	defer tx.Rollback(ctx)

	expiredByUser := make(map[string]int64, len(userIDs))
	for _, userID := range userIDs {
		expired, err := r.finalizeExpired(ctx, tx, userID, now)
		if err != nil {
			return service.ChunkResult{}, err
		}
		expiredByUser[userID] = expired
		res.Processed++
		res.ExpiredCredits += expired
	}

	if err := tx.Commit(ctx); err != nil {
		return service.ChunkResult{}, fmt.Errorf("commit reconcile chunk: %w", err)
	}

	r.cache.Invalidate(ctx, userIDs...)
	for userID, expired := range expiredByUser {
		if expired > 0 {
			r.publish(TopicCreditsExpired, model.CreditEvent{
				UserID:      userID,
				Kind:        model.KindExpire,
				Amount:      -expired,
				Description: "credits expired",
				CreatedAt:   now,
			})
		}
	}
	return res, nil
}

// finalizeExpired runs steps 1-4 of the reconciliation for a single user
// inside the caller's transaction and returns the reclaimed total. The
// user's unstamped dated entries are locked, filtered through
// ledger.Reconcilable, then stamped in one statement. Already-drained
// expired entries are stamped too, contributing nothing.
func (r *LedgerRepo) finalizeExpired(ctx context.Context, tx pgx.Tx, userID string, now time.Time) (int64, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, remaining_amount, expiration_date, expiration_processed_at
		FROM ledger_entries
		WHERE user_id = $1
		  AND expiration_processed_at IS NULL
		  AND expiration_date IS NOT NULL
		FOR UPDATE`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("lock expiring entries for %s: %w", userID, err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.ID, &e.RemainingAmount, &e.ExpirationDate, &e.ExpirationProcessedAt); err != nil {
			return 0, fmt.Errorf("scan expiring entry for %s: %w", userID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var (
		ids   []string
		total int64
	)
	for _, e := range entries {
		if !ledger.Reconcilable(e, now) {
			continue
		}
		ids = append(ids, e.ID)
		total += *e.RemainingAmount
	}
	if len(ids) == 0 {
		return 0, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE ledger_entries
		SET remaining_amount = 0, expiration_processed_at = $2, updated_at = $2
		WHERE id = ANY($1::uuid[])`,
		ids, now,
	)
	if err != nil {
		return 0, fmt.Errorf("finalize expired entries for %s: %w", userID, err)
	}
	if total == 0 {
		return 0, nil
	}

	// Floored at zero to guard against drift between entries and balance.
	_, err = tx.Exec(ctx, `
		UPDATE balances
		SET current_credits = GREATEST(0, current_credits - $2), updated_at = $3
		WHERE user_id = $1`,
		userID, total, now,
	)
	if err != nil {
		return 0, fmt.Errorf("debit expired balance for %s: %w", userID, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_entries
			(id, user_id, kind, amount, remaining_amount, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULL, $5, $6, $6)`,
		uuid.NewString(), userID, model.KindExpire, -total, "credits expired", now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert expire entry for %s: %w", userID, err)
	}
	return total, nil
}
