package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"credo/internal/ledger"
	"credo/internal/model"
)

// Re-exported domain sentinels so callers can errors.Is against the
// repository without importing the domain package.
var (
	ErrInvalidAmount       = ledger.ErrInvalidAmount
	ErrInvalidExpireDays   = ledger.ErrInvalidExpireDays
	ErrNotEarnKind         = ledger.ErrNotEarnKind
	ErrInsufficientCredits = ledger.ErrInsufficientCredits
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so per-user reads
// can run inside or outside a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// LedgerRepo is the authoritative read/write surface over the balances and
// ledger_entries tables. Postgres rows are the source of truth; Redis only
// caches balance reads.
type LedgerRepo struct {
	db     *pgxpool.Pool
	cache  *BalanceCache
	bus    MessageBus
	period ledger.Period
	now    func() time.Time
}

func NewLedgerRepo(db *pgxpool.Pool, cache *BalanceCache, bus MessageBus, period ledger.Period) *LedgerRepo {
	return &LedgerRepo{
		db:     db,
		cache:  cache,
		bus:    bus,
		period: period,
		now:    time.Now,
	}
}

// AddCredits creates one earn entry and upserts the balance in a single
// transaction. Readers never observe one without the other.
func (r *LedgerRepo) AddCredits(ctx context.Context, req model.AddCreditsRequest) error {
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}
	if req.ExpireDays != nil && *req.ExpireDays <= 0 {
		return ErrInvalidExpireDays
	}
	if !req.Kind.IsEarn() {
		return ErrNotEarnKind
	}

	now := r.now()
	var expiresAt *time.Time
	if req.ExpireDays != nil {
		t := now.Add(time.Duration(*req.ExpireDays) * 24 * time.Hour)
		expiresAt = &t
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin add credits: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_entries
			(id, user_id, kind, amount, remaining_amount, description,
			 external_reference, expiration_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4, $5, $6, $7, $8, $8)`,
		uuid.NewString(), req.UserID, req.Kind, req.Amount,
		req.Description, req.ExternalReference, expiresAt, now,
	)
	if err != nil {
		return fmt.Errorf("insert earn entry: %w", err)
	}

	var newBalance int64
	err = tx.QueryRow(ctx, `
		INSERT INTO balances (user_id, current_credits, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
			SET current_credits = balances.current_credits + EXCLUDED.current_credits,
			    updated_at      = EXCLUDED.updated_at
		RETURNING current_credits`,
		req.UserID, req.Amount, now,
	).Scan(&newBalance)
	if err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit add credits: %w", err)
	}

	r.cache.Invalidate(ctx, req.UserID)
	r.publish(TopicCreditsAdded, model.CreditEvent{
		UserID:      req.UserID,
		Kind:        req.Kind,
		Amount:      req.Amount,
		Balance:     newBalance,
		Description: req.Description,
		CreatedAt:   now,
	})
	return nil
}

// ConsumeCredits debits oldest-expiring entries first. The balance row is
// locked before the sufficiency re-check, so concurrent consumes for one
// user serialize and cannot jointly overdraw.
func (r *LedgerRepo) ConsumeCredits(ctx context.Context, req model.ConsumeCreditsRequest) error {
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}
	now := r.now()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin consume credits: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT current_credits FROM balances WHERE user_id = $1 FOR UPDATE`,
		req.UserID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrInsufficientCredits
	}
	if err != nil {
		return fmt.Errorf("lock balance: %w", err)
	}
	if balance < req.Amount {
		return ErrInsufficientCredits
	}

	entries, err := r.consumableEntries(ctx, tx, req.UserID, now)
	if err != nil {
		return err
	}
	plan, err := ledger.PlanConsumption(entries, req.Amount, now)
	if err != nil {
		return err
	}

	for _, d := range plan {
		tag, err := tx.Exec(ctx, `
			UPDATE ledger_entries
			SET remaining_amount = remaining_amount - $2, updated_at = $3
			WHERE id = $1 AND remaining_amount >= $2`,
			d.EntryID, d.Amount, now,
		)
		if err != nil {
			return fmt.Errorf("deduct entry %s: %w", d.EntryID, err)
		}
		// The entries are locked, so a miss means the plan and the rows
		// disagree; roll the whole consume back rather than underdeduct.
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("deduct entry %s: remaining amount below planned deduction %d", d.EntryID, d.Amount)
		}
	}

	var newBalance int64
	err = tx.QueryRow(ctx, `
		UPDATE balances
		SET current_credits = current_credits - $2, updated_at = $3
		WHERE user_id = $1
		RETURNING current_credits`,
		req.UserID, req.Amount, now,
	).Scan(&newBalance)
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_entries
			(id, user_id, kind, amount, remaining_amount, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULL, $5, $6, $6)`,
		uuid.NewString(), req.UserID, model.KindUsage, -req.Amount, req.Description, now,
	)
	if err != nil {
		return fmt.Errorf("insert usage entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit consume credits: %w", err)
	}

	r.cache.Invalidate(ctx, req.UserID)
	r.publish(TopicCreditsConsumed, model.CreditEvent{
		UserID:      req.UserID,
		Kind:        model.KindUsage,
		Amount:      -req.Amount,
		Balance:     newBalance,
		Description: req.Description,
		CreatedAt:   now,
	})
	return nil
}

// consumableEntries loads and locks the user's unexpired earn entries with
// remaining value, in consumption order.
func (r *LedgerRepo) consumableEntries(ctx context.Context, q querier, userID string, now time.Time) ([]model.LedgerEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, kind, amount, remaining_amount, expiration_date, created_at
		FROM ledger_entries
		WHERE user_id = $1
		  AND remaining_amount > 0
		  AND kind NOT IN ($2, $3)
		  AND (expiration_date IS NULL OR expiration_date > $4)
		ORDER BY expiration_date ASC NULLS LAST, created_at ASC
		FOR UPDATE`,
		userID, model.KindUsage, model.KindExpire, now,
	)
	if err != nil {
		return nil, fmt.Errorf("select consumable entries: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		e.UserID = userID
		if err := rows.Scan(&e.ID, &e.Kind, &e.Amount, &e.RemainingAmount, &e.ExpirationDate, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan consumable entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetBalance serves reads from the cache, warming it from Postgres on a
// miss. Storage failures degrade to 0 with a warning instead of breaking
// display paths.
func (r *LedgerRepo) GetBalance(ctx context.Context, userID string) (int64, error) {
	if bal, ok := r.cache.Get(ctx, userID); ok {
		return bal, nil
	}

	bal, err := r.balanceFromDB(ctx, userID)
	if err != nil {
		slog.Warn("balance read degraded to zero", "user_id", userID, "error", err)
		return 0, nil
	}
	r.cache.Set(ctx, userID, bal)
	return bal, nil
}

// HasEnoughCredits is advisory only; ConsumeCredits re-validates under lock.
func (r *LedgerRepo) HasEnoughCredits(ctx context.Context, userID string, required int64) (bool, error) {
	bal, err := r.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return bal >= required, nil
}

func (r *LedgerRepo) balanceFromDB(ctx context.Context, userID string) (int64, error) {
	var bal int64
	err := r.db.QueryRow(ctx,
		`SELECT current_credits FROM balances WHERE user_id = $1`, userID,
	).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return bal, nil
}

// CanGrantByKind reports whether the user has no entry of the kind inside
// the period containing at. Recent candidates are compared against the
// injected period policy in Go rather than with SQL date math.
func (r *LedgerRepo) CanGrantByKind(ctx context.Context, userID string, kind model.Kind, at time.Time) (bool, error) {
	return r.canGrantByKind(ctx, r.db, userID, kind, at)
}

func (r *LedgerRepo) canGrantByKind(ctx context.Context, q querier, userID string, kind model.Kind, at time.Time) (bool, error) {
	rows, err := q.Query(ctx, `
		SELECT created_at FROM ledger_entries
		WHERE user_id = $1 AND kind = $2 AND created_at >= $3`,
		userID, kind, at.Add(-ledger.PeriodLookback),
	)
	if err != nil {
		return false, fmt.Errorf("select grant history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var createdAt time.Time
		if err := rows.Scan(&createdAt); err != nil {
			return false, fmt.Errorf("scan grant history: %w", err)
		}
		if ledger.InSamePeriod(r.period, createdAt, at) {
			return false, nil
		}
	}
	return true, rows.Err()
}

// publish pushes a committed event onto the bus. Delivery is best-effort:
// the ledger mutation already committed, so failures only get logged.
func (r *LedgerRepo) publish(topic string, event model.CreditEvent) {
	if r.bus == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal credit event", "topic", topic, "error", err)
		return
	}
	if err := r.bus.Publish(topic, data); err != nil {
		slog.Error("publish credit event", "topic", topic, "user_id", event.UserID, "error", err)
	}
}
