package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"credo/internal/model"
	"credo/internal/service"
)

type grantCall struct {
	userIDs    []string
	kind       model.Kind
	amount     int64
	expireDays *int
}

// mockStore is a scriptable service.JobStore.
type mockStore struct {
	calls []string

	reconcilable    []string
	reconcilableErr error
	expiredPerUser  int64
	failReconcile   map[string]bool // fails the chunk containing this user id

	population     []model.PopulationMember
	populationErr  error
	grantCalls     []grantCall
	alreadyGranted map[string]bool
	failGrant      map[string]bool
}

func (m *mockStore) ReconcilableUserIDs(ctx context.Context, now time.Time) ([]string, error) {
	m.calls = append(m.calls, "scan")
	return m.reconcilable, m.reconcilableErr
}

func (m *mockStore) ReconcileChunk(ctx context.Context, userIDs []string, now time.Time) (service.ChunkResult, error) {
	m.calls = append(m.calls, "reconcile")
	for _, id := range userIDs {
		if m.failReconcile[id] {
			return service.ChunkResult{}, errors.New("chunk blew up")
		}
	}
	return service.ChunkResult{
		Processed:      len(userIDs),
		ExpiredCredits: m.expiredPerUser * int64(len(userIDs)),
	}, nil
}

func (m *mockStore) DistributionPopulation(ctx context.Context) ([]model.PopulationMember, error) {
	m.calls = append(m.calls, "population")
	return m.population, m.populationErr
}

func (m *mockStore) GrantChunk(ctx context.Context, userIDs []string, kind model.Kind, amount int64, expireDays *int, now time.Time) (int, error) {
	m.calls = append(m.calls, "grant")
	for _, id := range userIDs {
		if m.failGrant[id] {
			return 0, errors.New("chunk blew up")
		}
	}
	m.grantCalls = append(m.grantCalls, grantCall{userIDs: userIDs, kind: kind, amount: amount, expireDays: expireDays})
	granted := 0
	for _, id := range userIDs {
		if !m.alreadyGranted[id] {
			granted++
		}
	}
	return granted, nil
}

func userIDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = prefix + string(rune('a'+i))
	}
	return ids
}

func TestReconciler_ChunksAndAggregates(t *testing.T) {
	store := &mockStore{
		reconcilable:   userIDs("u", 5),
		expiredPerUser: 7,
	}
	rec := NewReconciler(store, 2)

	report, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.UsersCount != 5 || report.ProcessedCount != 5 || report.ErrorCount != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.TotalExpiredCredits != 35 {
		t.Errorf("expired total = %d, want 35", report.TotalExpiredCredits)
	}

	chunks := 0
	for _, c := range store.calls {
		if c == "reconcile" {
			chunks++
		}
	}
	if chunks != 3 {
		t.Errorf("expected 3 chunk transactions for 5 users at size 2, got %d", chunks)
	}
}

func TestReconciler_ChunkFailureIsIsolated(t *testing.T) {
	store := &mockStore{
		reconcilable:   userIDs("u", 6),
		expiredPerUser: 1,
		failReconcile:  map[string]bool{"uc": true}, // second chunk of size 2
	}
	rec := NewReconciler(store, 2)

	report, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("a failed chunk must not abort the run: %v", err)
	}
	if report.ErrorCount != 2 {
		t.Errorf("error count = %d, want 2", report.ErrorCount)
	}
	if report.ProcessedCount != 4 {
		t.Errorf("processed = %d, want 4", report.ProcessedCount)
	}
	if report.TotalExpiredCredits != 4 {
		t.Errorf("expired total = %d, want 4", report.TotalExpiredCredits)
	}
}

func TestReconciler_EmptyScan(t *testing.T) {
	store := &mockStore{}
	rec := NewReconciler(store, 100)

	report, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.UsersCount != 0 || report.ProcessedCount != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	for _, c := range store.calls {
		if c == "reconcile" {
			t.Error("no chunk transaction expected for an empty scan")
		}
	}
}

func expireDaysOf(n int) *int { return &n }

func TestScheduler_CohortsAndGrantParameters(t *testing.T) {
	store := &mockStore{
		population: []model.PopulationMember{
			{UserID: "free1"},
			{UserID: "free2"},
			{UserID: "life1", Plan: &model.Plan{
				Interval: model.IntervalLifetime, CreditsEnabled: true,
				MonthlyCredits: 500, CreditExpireDays: expireDaysOf(60),
			}},
			{UserID: "annual1", Plan: &model.Plan{
				Interval: model.IntervalYear, CreditsEnabled: true,
				MonthlyCredits: 200, CreditExpireDays: expireDaysOf(45),
			}},
			{UserID: "monthly1", Plan: &model.Plan{
				Interval: model.IntervalMonth, CreditsEnabled: true, MonthlyCredits: 100,
			}},
		},
	}
	sched := NewScheduler(store, NewReconciler(store, 100), 100, FreeGrant{Credits: 30, ExpireDays: 30})

	report, err := sched.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Monthly subscriber is excluded from the job entirely.
	if report.UsersCount != 4 {
		t.Errorf("users count = %d, want 4", report.UsersCount)
	}
	if report.ProcessedCount != 4 || report.ErrorCount != 0 {
		t.Errorf("unexpected report: %+v", report)
	}

	byKind := map[model.Kind]grantCall{}
	for _, c := range store.grantCalls {
		byKind[c.kind] = c
	}
	free, ok := byKind[model.KindMonthlyRefresh]
	if !ok || free.amount != 30 || free.expireDays == nil || *free.expireDays != 30 || len(free.userIDs) != 2 {
		t.Errorf("unexpected free grant: %+v", free)
	}
	life, ok := byKind[model.KindLifetimeMonthly]
	if !ok || life.amount != 500 || life.expireDays == nil || *life.expireDays != 60 {
		t.Errorf("unexpected lifetime grant: %+v", life)
	}
	annual, ok := byKind[model.KindSubscriptionRenewal]
	if !ok || annual.amount != 200 || annual.expireDays == nil || *annual.expireDays != 45 {
		t.Errorf("unexpected annual grant: %+v", annual)
	}
	for _, c := range store.grantCalls {
		for _, id := range c.userIDs {
			if id == "monthly1" {
				t.Error("monthly subscriber must not receive a scheduled grant")
			}
		}
	}
}

func TestScheduler_ReconcilesBeforeGranting(t *testing.T) {
	store := &mockStore{
		reconcilable: []string{"u1"},
		population:   []model.PopulationMember{{UserID: "u1"}},
	}
	sched := NewScheduler(store, NewReconciler(store, 100), 100, FreeGrant{Credits: 30})

	if _, err := sched.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sawReconcile := false
	for _, c := range store.calls {
		if c == "reconcile" {
			sawReconcile = true
		}
		if c == "grant" && !sawReconcile {
			t.Fatal("granting started before the expiration reconciliation")
		}
	}
	if !sawReconcile {
		t.Error("expected a reconciliation pass before distribution")
	}
}

func TestScheduler_AlreadyGrantedNotCountedAgain(t *testing.T) {
	store := &mockStore{
		population: []model.PopulationMember{
			{UserID: "fresh"},
			{UserID: "granted"},
		},
		alreadyGranted: map[string]bool{"granted": true},
	}
	sched := NewScheduler(store, NewReconciler(store, 100), 100, FreeGrant{Credits: 30})

	report, err := sched.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.UsersCount != 2 {
		t.Errorf("users count = %d, want 2", report.UsersCount)
	}
	if report.ProcessedCount != 1 {
		t.Errorf("processed = %d, want 1 (second run in the same period grants nothing)", report.ProcessedCount)
	}
}

func TestScheduler_GrantChunkFailureIsCounted(t *testing.T) {
	store := &mockStore{
		population: []model.PopulationMember{
			{UserID: "a"}, {UserID: "b"}, {UserID: "c"}, {UserID: "d"},
		},
		failGrant: map[string]bool{"c": true},
	}
	sched := NewScheduler(store, NewReconciler(store, 100), 2, FreeGrant{Credits: 30})

	report, err := sched.Run(context.Background())
	if err != nil {
		t.Fatalf("a failed chunk must not abort the run: %v", err)
	}
	if report.ErrorCount != 2 {
		t.Errorf("error count = %d, want 2", report.ErrorCount)
	}
	if report.ProcessedCount != 2 {
		t.Errorf("processed = %d, want 2", report.ProcessedCount)
	}
}

func TestScheduler_PopulationLoadFailureAborts(t *testing.T) {
	store := &mockStore{populationErr: errors.New("db down")}
	sched := NewScheduler(store, NewReconciler(store, 100), 100, FreeGrant{Credits: 30})

	if _, err := sched.Run(context.Background()); err == nil {
		t.Fatal("expected an error when the population cannot be loaded")
	}
}
