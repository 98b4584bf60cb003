package handlers

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/recurrence"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/scheduling"
)

// Scheduler is the part of scheduling.Service the HTTP layer drives.
type Scheduler interface {
	CreateAppointment(ctx context.Context, req scheduling.CreateRequest) (scheduling.CreateResult, error)
	CreateRecurringSeries(ctx context.Context, req scheduling.CreateRequest) (scheduling.CreateResult, error)
	MoveAppointment(ctx context.Context, tenantID, id string, start, end time.Time) (model.Appointment, error)
	UpdateStatus(ctx context.Context, tenantID, id string, next model.Status) (model.Appointment, error)
	UpdateSeries(ctx context.Context, tenantID, id string, scope scheduling.Scope, upd scheduling.SeriesUpdate) (scheduling.SeriesResult, error)
	DeleteSeries(ctx context.Context, tenantID, id string, scope scheduling.Scope) (scheduling.SeriesResult, error)
	ConfirmByToken(ctx context.Context, raw string) (model.Appointment, error)
	CheckAvailability(ctx context.Context, req availability.CheckRequest) (availability.Result, error)
	FreeSlots(ctx context.Context, req availability.SlotRequest) ([]availability.Interval, error)
	CalendarView(ctx context.Context, tenantID, providerID string, start, end time.Time) ([]scheduling.CalendarEntry, error)
	CreateBlock(ctx context.Context, block model.AvailabilityBlock) (model.AvailabilityBlock, error)
	DeleteBlock(ctx context.Context, tenantID, id string) error
	ListBlocks(ctx context.Context, tenantID string, scope model.BlockScope, start, end time.Time) ([]model.AvailabilityBlock, error)
}

type AppointmentHandler struct {
	svc    Scheduler
	logger *slog.Logger
}

func NewAppointmentHandler(svc Scheduler, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, logger: logger}
}

func (h *AppointmentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/appointments", h.Create)
	mux.HandleFunc("POST /api/v1/appointments/series", h.CreateSeries)
	mux.HandleFunc("POST /api/v1/appointments/{id}/move", h.Move)
	mux.HandleFunc("POST /api/v1/appointments/{id}/status", h.UpdateStatus)
	mux.HandleFunc("PATCH /api/v1/appointments/{id}/series", h.UpdateSeries)
	mux.HandleFunc("DELETE /api/v1/appointments/{id}", h.Delete)
	mux.HandleFunc("GET /api/v1/public/confirm", h.ConfirmPage)
	mux.HandleFunc("POST /api/v1/public/confirm", h.Confirm)
}

type createAppointmentRequest struct {
	PatientID      string           `json:"patient_id"`
	ServiceID      string           `json:"service_id"`
	ProviderID     string           `json:"provider_id"`
	StartTime      string           `json:"start_time"`
	EndTime        string           `json:"end_time"`
	Notes          string           `json:"notes"`
	RecurrenceRule *recurrence.Rule `json:"recurrence_rule"`
}

type appointmentResponse struct {
	AppointmentID   string           `json:"appointment_id"`
	PatientID       string           `json:"patient_id"`
	ServiceID       string           `json:"service_id,omitempty"`
	ProviderID      string           `json:"provider_id,omitempty"`
	StartTime       string           `json:"start_time"`
	EndTime         string           `json:"end_time"`
	Status          string           `json:"status"`
	IsRecurring     bool             `json:"is_recurring"`
	ParentID        string           `json:"parent_id,omitempty"`
	RecurrenceRule  *recurrence.Rule `json:"recurrence_rule,omitempty"`
	ExternalEventID string           `json:"external_event_id,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	CreatedAt       string           `json:"created_at,omitempty"`
}

type skippedItem struct {
	StartTime string `json:"start_time"`
	Reason    string `json:"reason"`
}

type createAppointmentResponse struct {
	Appointment appointmentResponse   `json:"appointment"`
	Occurrences []appointmentResponse `json:"occurrences,omitempty"`
	Requested   int                   `json:"requested"`
	Created     int                   `json:"created"`
	Skipped     []skippedItem         `json:"skipped,omitempty"`
}

type moveRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type seriesUpdateRequest struct {
	Scope        string  `json:"scope"`
	Status       *string `json:"status"`
	Notes        *string `json:"notes"`
	ShiftMinutes int     `json:"shift_minutes"`
}

type seriesResponse struct {
	Scope          string   `json:"scope"`
	Affected       int      `json:"affected"`
	Skipped        int      `json:"skipped"`
	AppointmentIDs []string `json:"appointment_ids"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	return appointmentResponse{
		AppointmentID:   a.ID,
		PatientID:       a.PatientID,
		ServiceID:       a.ServiceID,
		ProviderID:      a.ProviderID,
		StartTime:       formatTime(a.Start),
		EndTime:         formatTime(a.End),
		Status:          string(a.Status),
		IsRecurring:     a.IsRecurring,
		ParentID:        a.ParentID,
		RecurrenceRule:  a.Rule,
		ExternalEventID: a.ExternalEventID,
		Notes:           a.Notes,
		CreatedAt:       formatTime(a.CreatedAt),
	}
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, h.svc.CreateAppointment)
}

func (h *AppointmentHandler) CreateSeries(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, h.svc.CreateRecurringSeries)
}

func (h *AppointmentHandler) create(w http.ResponseWriter, r *http.Request, run func(context.Context, scheduling.CreateRequest) (scheduling.CreateResult, error)) {
	tenantID, ok := tenantOrReject(w, r)
	if !ok {
		return
	}
	var req createAppointmentRequest
	if !decode(w, r, &req) {
		return
	}
	start, err := parseTime(req.StartTime)
	if err != nil {
		badRequest(w, "invalid start_time")
		return
	}
	end, err := parseTime(req.EndTime)
	if err != nil {
		badRequest(w, "invalid end_time")
		return
	}

	result, err := run(r.Context(), scheduling.CreateRequest{
		TenantID:   tenantID,
		PatientID:  strings.TrimSpace(req.PatientID),
		ServiceID:  strings.TrimSpace(req.ServiceID),
		ProviderID: strings.TrimSpace(req.ProviderID),
		Start:      start,
		End:        end,
		Notes:      req.Notes,
		Rule:       req.RecurrenceRule,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp := createAppointmentResponse{
		Appointment: toAppointmentResponse(result.Appointment),
		Requested:   result.Requested,
		Created:     result.Created,
	}
	if result.Appointment.IsRecurring {
		for _, occ := range result.Occurrences {
			resp.Occurrences = append(resp.Occurrences, toAppointmentResponse(occ))
		}
	}
	for _, s := range result.Skipped {
		resp.Skipped = append(resp.Skipped, skippedItem{StartTime: formatTime(s.Start), Reason: s.Reason})
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *AppointmentHandler) Move(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrReject(w, r)
	if !ok {
		return
	}
	var req moveRequest
	if !decode(w, r, &req) {
		return
	}
	start, err := parseTime(req.StartTime)
	if err != nil {
		badRequest(w, "invalid start_time")
		return
	}
	end, err := parseTime(req.EndTime)
	if err != nil {
		badRequest(w, "invalid end_time")
		return
	}
	appt, err := h.svc.MoveAppointment(r.Context(), tenantID, r.PathValue("id"), start, end)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrReject(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	next, ok := model.ParseStatus(req.Status)
	if !ok {
		badRequest(w, "invalid status")
		return
	}
	appt, err := h.svc.UpdateStatus(r.Context(), tenantID, r.PathValue("id"), next)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) UpdateSeries(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrReject(w, r)
	if !ok {
		return
	}
	var req seriesUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	scope, ok := scheduling.ParseScope(req.Scope)
	if !ok {
		badRequest(w, "invalid scope")
		return
	}
	upd := scheduling.SeriesUpdate{
		Notes: req.Notes,
		Shift: time.Duration(req.ShiftMinutes) * time.Minute,
	}
	if req.Status != nil {
		next, ok := model.ParseStatus(*req.Status)
		if !ok {
			badRequest(w, "invalid status")
			return
		}
		upd.Status = &next
	}
	result, err := h.svc.UpdateSeries(r.Context(), tenantID, r.PathValue("id"), scope, upd)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSeriesResponse(result))
}

func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrReject(w, r)
	if !ok {
		return
	}
	scope, ok := scheduling.ParseScope(r.URL.Query().Get("scope"))
	if !ok {
		badRequest(w, "invalid scope")
		return
	}
	result, err := h.svc.DeleteSeries(r.Context(), tenantID, r.PathValue("id"), scope)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSeriesResponse(result))
}

var confirmPage = template.Must(template.New("confirm").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><meta name="robots" content="noindex"><title>Confirm appointment</title></head>
<body>
<form method="post" action="/api/v1/public/confirm">
<input type="hidden" name="token" value="{{.}}">
<button type="submit">Confirm appointment</button>
</form>
</body>
</html>
`))

// ConfirmPage is the target of reminder links. It changes nothing; the form
// posts the token back to Confirm.
func (h *AppointmentHandler) ConfirmPage(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("token"))
	if raw == "" {
		badRequest(w, "missing token")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := confirmPage.Execute(w, raw); err != nil {
		h.logger.Error("render confirm page failed", "err", err)
	}
}

// Confirm is public: the signed token names the tenant and appointment. The
// token comes from the form body or the query string.
func (h *AppointmentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.FormValue("token"))
	if raw == "" {
		badRequest(w, "missing token")
		return
	}
	appt, err := h.svc.ConfirmByToken(r.Context(), raw)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"appointment_id": appt.ID,
		"status":         string(appt.Status),
		"start_time":     formatTime(appt.Start),
	})
}

func toSeriesResponse(result scheduling.SeriesResult) seriesResponse {
	ids := result.IDs
	if ids == nil {
		ids = []string{}
	}
	return seriesResponse{
		Scope:          string(result.Scope),
		Affected:       result.Affected,
		Skipped:        result.Skipped,
		AppointmentIDs: ids,
	}
}
