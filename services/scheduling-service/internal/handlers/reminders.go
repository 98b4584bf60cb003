package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/reminders"
)

type ReminderRunner interface {
	Dispatch(ctx context.Context, now time.Time) (reminders.Summary, error)
}

// ReminderHandler exposes the reminder batch to an external cron caller.
type ReminderHandler struct {
	runner ReminderRunner
	secret httpx.SharedSecret
	logger *slog.Logger
	now    func() time.Time
}

func NewReminderHandler(runner ReminderRunner, secret httpx.SharedSecret, logger *slog.Logger) *ReminderHandler {
	return &ReminderHandler{runner: runner, secret: secret, logger: logger, now: time.Now}
}

func (h *ReminderHandler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/v1/cron/reminders", httpx.RequireBearer(h.secret)(http.HandlerFunc(h.Run)))
}

func (h *ReminderHandler) Run(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.Dispatch(r.Context(), h.now())
	if err != nil {
		h.logger.Error("reminder batch failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"err", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "reminder dispatch failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
