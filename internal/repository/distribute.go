package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"credo/internal/model"
)

// grantDescriptions label the periodic entries by kind.
var grantDescriptions = map[model.Kind]string{
	model.KindMonthlyRefresh:      "monthly credit refresh",
	model.KindLifetimeMonthly:     "lifetime plan monthly credits",
	model.KindSubscriptionRenewal: "annual subscription monthly credits",
}

// DistributionPopulation loads every non-banned user joined with the plan of
// their most recent active or trialing payment. One query, not N.
func (r *LedgerRepo) DistributionPopulation(ctx context.Context) ([]model.PopulationMember, error) {
	rows, err := r.db.Query(ctx, `
		SELECT u.id,
		       pl.id, pl.name, pl.interval, pl.is_free, pl.credits_enabled,
		       pl.monthly_credits, pl.credit_expire_days
		FROM users u
		LEFT JOIN LATERAL (
			SELECT plan_id
			FROM payments
			WHERE user_id = u.id AND status IN ('active', 'trialing')
			ORDER BY created_at DESC
			LIMIT 1
		) pay ON true
		LEFT JOIN plans pl ON pl.id = pay.plan_id
		WHERE u.banned = false`)
	if err != nil {
		return nil, fmt.Errorf("select distribution population: %w", err)
	}
	defer rows.Close()

	var members []model.PopulationMember
	for rows.Next() {
		var (
			m              model.PopulationMember
			planID, name   *string
			interval       *string
			isFree         *bool
			creditsEnabled *bool
			monthlyCredits *int64
			expireDays     *int
		)
		err := rows.Scan(&m.UserID, &planID, &name, &interval, &isFree,
			&creditsEnabled, &monthlyCredits, &expireDays)
		if err != nil {
			return nil, fmt.Errorf("scan population member: %w", err)
		}
		if planID != nil {
			m.Plan = &model.Plan{
				ID:               *planID,
				Name:             *name,
				Interval:         *interval,
				IsFree:           *isFree,
				CreditsEnabled:   *creditsEnabled,
				MonthlyCredits:   *monthlyCredits,
				CreditExpireDays: expireDays,
			}
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GrantChunk issues one periodic grant per eligible user, in one
// transaction. Eligibility is re-checked per user inside the transaction so
// overlapping scheduler runs cannot double-grant within a period.
func (r *LedgerRepo) GrantChunk(ctx context.Context, userIDs []string, kind model.Kind, amount int64, expireDays *int, now time.Time) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if len(userIDs) == 0 {
		return 0, nil
	}

	var expiresAt *time.Time
	if expireDays != nil {
		if *expireDays <= 0 {
			return 0, ErrInvalidExpireDays
		}
		t := now.Add(time.Duration(*expireDays) * 24 * time.Hour)
		expiresAt = &t
	}
	description := grantDescriptions[kind]
	if description == "" {
		description = string(kind)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin grant chunk: %w", err)
	}
	defer tx.Rollback(ctx)

	granted := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		ok, err := r.canGrantByKind(ctx, tx, userID, kind, now)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO ledger_entries
				(id, user_id, kind, amount, remaining_amount, description,
				 expiration_date, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4, $5, $6, $7, $7)`,
			uuid.NewString(), userID, kind, amount, description, expiresAt, now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert grant entry for %s: %w", userID, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO balances (user_id, current_credits, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO UPDATE
				SET current_credits = balances.current_credits + EXCLUDED.current_credits,
				    updated_at      = EXCLUDED.updated_at`,
			userID, amount, now,
		)
		if err != nil {
			return 0, fmt.Errorf("upsert granted balance for %s: %w", userID, err)
		}
		granted = append(granted, userID)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit grant chunk: %w", err)
	}

	r.cache.Invalidate(ctx, granted...)
	for _, userID := range granted {
		r.publish(TopicCreditsAdded, model.CreditEvent{
			UserID:      userID,
			Kind:        kind,
			Amount:      amount,
			Description: description,
			CreatedAt:   now,
		})
	}
	return len(granted), nil
}
