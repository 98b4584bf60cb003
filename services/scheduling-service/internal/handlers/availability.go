package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/scheduling"
)

func (h *AppointmentHandler) RegisterAvailability(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/availability/check", h.Check)
	mux.HandleFunc("GET /api/v1/availability/slots", h.Slots)
	mux.HandleFunc("GET /api/v1/availability/blocks", h.ListBlocks)
	mux.HandleFunc("POST /api/v1/availability/blocks", h.CreateBlock)
	mux.HandleFunc("DELETE /api/v1/availability/blocks/{id}", h.DeleteBlock)
	mux.HandleFunc("GET /api/v1/calendar", h.Calendar)
}

type checkResponse struct {
	Available bool          `json:"available"`
	Conflict  *conflictBody `json:"conflict,omitempty"`
	Message   string        `json:"message,omitempty"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type blockRequest struct {
	ProviderID string `json:"provider_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Reason     string `json:"reason"`
}

type blockResponse struct {
	BlockID    string `json:"block_id"`
	EntryID    string `json:"entry_id"`
	Scope      string `json:"scope"`
	ProviderID string `json:"provider_id,omitempty"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Reason     string `json:"reason,omitempty"`
}

type calendarEntryResponse struct {
	ID          string               `json:"id"`
	Kind        string               `json:"kind"`
	StartTime   string               `json:"start_time"`
	EndTime     string               `json:"end_time"`
	Title       string               `json:"title,omitempty"`
	ProviderID  string               `json:"provider_id,omitempty"`
	Appointment *appointmentResponse `json:"appointment,omitempty"`
}

// window reads a required [startKey, endKey) pair of RFC3339 query values.
func window(w http.ResponseWriter, r *http.Request, startKey, endKey string) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	start, err := parseTime(q.Get(startKey))
	if err != nil {
		badRequest(w, "invalid "+startKey)
		return time.Time{}, time.Time{}, false
	}
	end, err := parseTime(q.Get(endKey))
	if err != nil {
		badRequest(w, "invalid "+endKey)
		return time.Time{}, time.Time{}, false
	}
	if !end.After(start) {
		badRequest(w, endKey+" must be after "+startKey)
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (h *AppointmentHandler) Check(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrReject(w, r)
	if !ok {
		return
	}
	start, end, ok := window(w, r, "start_time", "end_time")
	if !ok {
		return
	}
	q := r.URL.Query()
	req := availability.CheckRequest{
		TenantID:   tenantID,
		ProviderID: strings.TrimSpace(q.Get("provider_id")),
		Start:      start,
		End:        end,
	}
	if id := strings.TrimSpace(q.Get("exclude_id")); id != "" {
		req.Exclude = []availability.Excluded{{ID: id}}
	}
	res, err := h.svc.CheckAvailability(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := checkResponse{Available: res.Available}
	if res.Conflict != nil {
		resp.Message = res.Conflict.Message()
		resp.Conflict = &conflictBody{
			Source:    string(res.Conflict.Source),
			StartTime: formatTime(res.Conflict.Start),
			EndTime:   formatTime(res.Conflict.End),
			Reason:    res.Conflict.Reason,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AppointmentHandler) Slots(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrReject(w, r)
	if !ok {
		return
	}
	from, to, ok := window(w, r, "from", "to")
	if !ok {
		return
	}
	q := r.URL.Query()
	providerID := strings.TrimSpace(q.Get("provider_id"))
	if providerID == "" {
		badRequest(w, "missing provider_id")
		return
	}
	minutes, err := strconv.Atoi(q.Get("duration_minutes"))
	if err != nil || minutes <= 0 {
		badRequest(w, "invalid duration_minutes")
		return
	}
	step := 0
	if raw := q.Get("step_minutes"); raw != "" {
		step, err = strconv.Atoi(raw)
		if err != nil || step < 0 {
			badRequest(w, "invalid step_minutes")
			return
		}
	}

	slots, err := h.svc.FreeSlots(r.Context(), availability.SlotRequest{
		TenantID:   tenantID,
		ProviderID: providerID,
		From:       from,
		To:         to,
		Duration:   time.Duration(minutes) * time.Minute,
		Step:       time.Duration(step) * time.Minute,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		resp = append(resp, slotItem{StartTime: formatTime(s.Start), EndTime: formatTime(s.End)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": resp})
}

func (h *AppointmentHandler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrReject(w, r)
	if !ok {
		return
	}
	var req blockRequest
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
	block, err := h.svc.CreateBlock(r.Context(), model.AvailabilityBlock{
		TenantID: tenantID,
		Scope:    scopeFor(req.ProviderID),
		Start:    start,
		End:      end,
		Reason:   strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBlockResponse(block))
}

func (h *AppointmentHandler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrReject(w, r)
	if !ok {
		return
	}
	start, end, ok := window(w, r, "start", "end")
	if !ok {
		return
	}
	blocks, err := h.svc.ListBlocks(r.Context(), tenantID, scopeFor(r.URL.Query().Get("provider_id")), start, end)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := make([]blockResponse, 0, len(blocks))
	for _, b := range blocks {
		resp = append(resp, toBlockResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": resp})
}

func (h *AppointmentHandler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrReject(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteBlock(r.Context(), tenantID, r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AppointmentHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrReject(w, r)
	if !ok {
		return
	}
	start, end, ok := window(w, r, "start", "end")
	if !ok {
		return
	}
	entries, err := h.svc.CalendarView(r.Context(), tenantID, strings.TrimSpace(r.URL.Query().Get("provider_id")), start, end)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := make([]calendarEntryResponse, 0, len(entries))
	for _, e := range entries {
		item := calendarEntryResponse{
			ID:         e.ID,
			Kind:       string(e.Kind),
			StartTime:  formatTime(e.Start),
			EndTime:    formatTime(e.End),
			Title:      e.Title,
			ProviderID: e.ProviderID,
		}
		if e.Appointment != nil {
			appt := toAppointmentResponse(*e.Appointment)
			item.Appointment = &appt
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": resp})
}

func scopeFor(providerID string) model.BlockScope {
	if p := strings.TrimSpace(providerID); p != "" {
		return model.ForProvider(p)
	}
	return model.TenantWide()
}

func toBlockResponse(b model.AvailabilityBlock) blockResponse {
	return blockResponse{
		BlockID:    b.ID,
		EntryID:    scheduling.BlockEntryID(b.ID),
		Scope:      b.Scope.Kind.String(),
		ProviderID: b.Scope.ProviderID,
		StartTime:  formatTime(b.Start),
		EndTime:    formatTime(b.End),
		Reason:     b.Reason,
	}
}
