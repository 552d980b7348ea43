package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"credo/internal/model"
	"credo/internal/service"
)

// Command topics. Queue-group subscribed so that with multiple instances,
// each command is handled once.
const (
	TopicCmdAddCredits     = "commands.add_credits"
	TopicCmdConsumeCredits = "commands.consume_credits"

	commandQueueGroup = "credo_ledger"
)

// Handler subscribes to NATS command topics and delegates to the credit service.
type Handler struct {
	svc  service.CreditService
	nc   *nats.Conn
	subs []*nats.Subscription
}

func NewHandler(svc service.CreditService, nc *nats.Conn) *Handler {
	return &Handler{svc: svc, nc: nc}
}

// Start subscribes to command topics and blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	s1, err := h.nc.QueueSubscribe(TopicCmdAddCredits, commandQueueGroup, func(m *nats.Msg) {
		var req model.AddCreditsRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			slog.Error("nats: failed to unmarshal add credits command", "error", err)
			return
		}
		if err := h.svc.AddCredits(ctx, req); err != nil {
			slog.Error("nats: add credits failed", "error", err, "user_id", req.UserID, "kind", req.Kind)
		}
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s1)

	s2, err := h.nc.QueueSubscribe(TopicCmdConsumeCredits, commandQueueGroup, func(m *nats.Msg) {
		var req model.ConsumeCreditsRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			slog.Error("nats: failed to unmarshal consume credits command", "error", err)
			return
		}
		if err := h.svc.ConsumeCredits(ctx, req); err != nil {
			slog.Error("nats: consume credits failed", "error", err, "user_id", req.UserID)
		}
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s2)

	slog.Info("NATS command handler is running")

	<-ctx.Done()
	slog.Info("NATS command handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
