package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"credo/internal/model"
	"credo/internal/repository"
)

type mockService struct {
	balance    int64
	addErr     error
	consumeErr error

	addReq     *model.AddCreditsRequest
	consumeReq *model.ConsumeCreditsRequest
}

func (m *mockService) AddCredits(ctx context.Context, req model.AddCreditsRequest) error {
	m.addReq = &req
	return m.addErr
}

func (m *mockService) ConsumeCredits(ctx context.Context, req model.ConsumeCreditsRequest) error {
	m.consumeReq = &req
	return m.consumeErr
}

func (m *mockService) GetBalance(ctx context.Context, userID string) (int64, error) {
	return m.balance, nil
}

func (m *mockService) HasEnoughCredits(ctx context.Context, userID string, required int64) (bool, error) {
	return m.balance >= required, nil
}

func (m *mockService) CanGrantByKind(ctx context.Context, userID string, kind model.Kind, at time.Time) (bool, error) {
	return true, nil
}

type mockJobs struct {
	distributed bool
	reconciled  bool
}

func (m *mockJobs) Distribute(ctx context.Context) (model.DistributionReport, error) {
	m.distributed = true
	return model.DistributionReport{UsersCount: 10, ProcessedCount: 8, ErrorCount: 2}, nil
}

func (m *mockJobs) Reconcile(ctx context.Context) (model.ReconciliationReport, error) {
	m.reconciled = true
	return model.ReconciliationReport{UsersCount: 3, ProcessedCount: 3, TotalExpiredCredits: 120}, nil
}

func newTestMux(svc *mockService, jobs *mockJobs) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(svc, jobs).Register(mux)
	return mux
}

func TestGetBalance(t *testing.T) {
	mux := newTestMux(&mockService{balance: 90}, &mockJobs{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/balance?user_id=u1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Balance int64 `json:"balance"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Balance != 90 {
		t.Errorf("balance = %d, want 90", body.Balance)
	}
}

func TestGetBalance_MissingUser(t *testing.T) {
	mux := newTestMux(&mockService{}, &mockJobs{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/balance", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHasEnoughCredits(t *testing.T) {
	mux := newTestMux(&mockService{balance: 50}, &mockJobs{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/balance/sufficient?user_id=u1&amount=60", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Sufficient bool `json:"sufficient"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Sufficient {
		t.Error("expected sufficient=false for 60 against a balance of 50")
	}
}

func TestAddCredits(t *testing.T) {
	svc := &mockService{}
	mux := newTestMux(svc, &mockJobs{})

	body := `{"user_id":"u1","amount":50,"kind":"register_gift","description":"welcome","expire_days":30}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/credits/add", strings.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if svc.addReq == nil || svc.addReq.Amount != 50 || svc.addReq.Kind != model.KindRegisterGift {
		t.Errorf("unexpected request passed to service: %+v", svc.addReq)
	}
	if svc.addReq.ExpireDays == nil || *svc.addReq.ExpireDays != 30 {
		t.Errorf("expire days not forwarded: %+v", svc.addReq.ExpireDays)
	}
}

func TestAddCredits_InvalidAmount(t *testing.T) {
	svc := &mockService{addErr: repository.ErrInvalidAmount}
	mux := newTestMux(svc, &mockJobs{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/credits/add",
		strings.NewReader(`{"user_id":"u1","amount":-5,"kind":"purchase"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestConsumeCredits_Insufficient(t *testing.T) {
	svc := &mockService{consumeErr: repository.ErrInsufficientCredits}
	mux := newTestMux(svc, &mockJobs{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/credits/consume",
		strings.NewReader(`{"user_id":"u1","amount":1000,"description":"feature X"}`)))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestJobTriggers(t *testing.T) {
	jobs := &mockJobs{}
	mux := newTestMux(&mockService{}, jobs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/distribute", nil))
	if rec.Code != http.StatusOK || !jobs.distributed {
		t.Errorf("distribute trigger failed: status %d", rec.Code)
	}
	var dist model.DistributionReport
	if err := json.NewDecoder(rec.Body).Decode(&dist); err != nil {
		t.Fatalf("decode distribution report: %v", err)
	}
	if dist.ProcessedCount != 8 || dist.ErrorCount != 2 {
		t.Errorf("unexpected distribution report: %+v", dist)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/reconcile", nil))
	if rec.Code != http.StatusOK || !jobs.reconciled {
		t.Errorf("reconcile trigger failed: status %d", rec.Code)
	}
	var rep model.ReconciliationReport
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode reconciliation report: %v", err)
	}
	if rep.TotalExpiredCredits != 120 {
		t.Errorf("unexpected reconciliation report: %+v", rep)
	}
}
