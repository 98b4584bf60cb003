package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/scheduling"
)

type errorResponse struct {
	Error    string        `json:"error"`
	Field    string        `json:"field,omitempty"`
	Conflict *conflictBody `json:"conflict,omitempty"`
}

type conflictBody struct {
	Source    string `json:"source"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and reported as a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		conflict *scheduling.ConflictError
		invalid  *scheduling.ValidationError
		state    *scheduling.InvalidStateError
	)
	switch {
	case errors.As(err, &conflict):
		c := conflict.Conflict
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: err.Error(),
			Conflict: &conflictBody{
				Source:    string(c.Source),
				StartTime: formatTime(c.Start),
				EndTime:   formatTime(c.End),
				Reason:    c.Reason,
			},
		})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: invalid.Message, Field: invalid.Field})
	case errors.As(err, &state):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, scheduling.ErrSyntheticEntry):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, scheduling.ErrInvalidToken):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: scheduling.ErrInvalidToken.Error()})
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	default:
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"err", err,
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// tenantOrReject reads the tenant header and writes a 400 when it is missing.
func tenantOrReject(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := httpx.TenantID(r)
	if tenantID == "" {
		badRequest(w, "missing "+httpx.TenantHeader+" header")
		return "", false
	}
	return tenantID, true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339, strings.TrimSpace(raw))
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		badRequest(w, "invalid json body")
		return false
	}
	return true
}
