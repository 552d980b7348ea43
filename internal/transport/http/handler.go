package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"credo/internal/model"
	"credo/internal/repository"
	"credo/internal/service"
)

type Handler struct {
	svc  service.CreditService
	jobs service.Jobs
}

func NewHandler(svc service.CreditService, jobs service.Jobs) *Handler {
	return &Handler{svc: svc, jobs: jobs}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /balance", h.GetBalance)
	mux.HandleFunc("GET /balance/sufficient", h.HasEnoughCredits)
	mux.HandleFunc("POST /credits/add", h.AddCredits)
	mux.HandleFunc("POST /credits/consume", h.ConsumeCredits)
	mux.HandleFunc("POST /jobs/distribute", h.Distribute)
	mux.HandleFunc("POST /jobs/reconcile", h.Reconcile)
	mux.Handle("GET /metrics", promhttp.Handler())
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.respondError(w, http.StatusBadRequest, "missing_params")
		return
	}
	bal, err := h.svc.GetBalance(r.Context(), userID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": bal})
}

func (h *Handler) HasEnoughCredits(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	required, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if userID == "" || err != nil || required <= 0 {
		h.respondError(w, http.StatusBadRequest, "missing_params")
		return
	}
	ok, err := h.svc.HasEnoughCredits(r.Context(), userID, required)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "sufficient": ok})
}

func (h *Handler) AddCredits(w http.ResponseWriter, r *http.Request) {
	var req model.AddCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := h.svc.AddCredits(r.Context(), req); err != nil {
		h.respondError(w, statusForError(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (h *Handler) ConsumeCredits(w http.ResponseWriter, r *http.Request) {
	var req model.ConsumeCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := h.svc.ConsumeCredits(r.Context(), req); err != nil {
		h.respondError(w, statusForError(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) Distribute(w http.ResponseWriter, r *http.Request) {
	report, err := h.jobs.Distribute(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.jobs.Reconcile(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

// statusForError maps domain rejections to client errors. An insufficient
// balance is an expected outcome, not a server fault.
func statusForError(err error) int {
	switch {
	case errors.Is(err, repository.ErrInsufficientCredits):
		return http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrInvalidAmount),
		errors.Is(err, repository.ErrInvalidExpireDays),
		errors.Is(err, repository.ErrNotEarnKind):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
