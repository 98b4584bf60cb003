// Package scheduling creates, moves and transitions appointments and applies
// series-scoped mutations, guarding every time change with availability.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/clinicsched/libs/token"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/calendar"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/recurrence"
)

// Store persists appointments. Implementations return model.ErrNotFound for
// missing rows and model.ErrOverlap when a provider range constraint fires.
type Store interface {
	availability.AppointmentSource
	Get(ctx context.Context, tenantID, id string) (model.Appointment, error)
	Insert(ctx context.Context, appt model.Appointment) (model.Appointment, error)
	UpdateTimes(ctx context.Context, tenantID, id string, start, end time.Time) (model.Appointment, error)
	ApplyChanges(ctx context.Context, tenantID string, changes []model.AppointmentChange) error
	Delete(ctx context.Context, tenantID string, ids []string) (int, error)
	// ListSeries returns the parent and every child of seriesID ordered by start.
	ListSeries(ctx context.Context, tenantID, seriesID string) ([]model.Appointment, error)
	// ListRange returns appointments overlapping [start, end), optionally for one provider.
	ListRange(ctx context.Context, tenantID, providerID string, start, end time.Time) ([]model.Appointment, error)
	SetExternalEventID(ctx context.Context, tenantID, id, eventID string) error
}

type BlockStore interface {
	availability.BlockSource
	CreateBlock(ctx context.Context, block model.AvailabilityBlock) (model.AvailabilityBlock, error)
	DeleteBlock(ctx context.Context, tenantID, id string) error
}

type Service struct {
	store         Store
	blocks        BlockStore
	guard         *availability.Guard
	calendar      calendar.Provider
	tokens        *token.Signer
	logger        *slog.Logger
	exportTimeout time.Duration
	now           func() time.Time
	newID         func() string
}

type Config struct {
	ExportTimeout time.Duration
}

func NewService(store Store, blocks BlockStore, guard *availability.Guard, cal calendar.Provider, tokens *token.Signer, logger *slog.Logger, cfg Config) *Service {
	if cal == nil {
		cal = calendar.Disabled{}
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = 3 * time.Second
	}
	return &Service{
		store:         store,
		blocks:        blocks,
		guard:         guard,
		calendar:      cal,
		tokens:        tokens,
		logger:        logger,
		exportTimeout: cfg.ExportTimeout,
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

type CreateRequest struct {
	TenantID   string
	PatientID  string
	ServiceID  string
	ProviderID string
	Start      time.Time
	End        time.Time
	Notes      string
	Rule       *recurrence.Rule
}

type SkippedOccurrence struct {
	Start  time.Time
	Reason string
}

// CreateResult describes what landed. For a series, Appointment is the parent
// and Occurrences holds every created row including the parent.
type CreateResult struct {
	Appointment model.Appointment
	Occurrences []model.Appointment
	Requested   int
	Created     int
	Skipped     []SkippedOccurrence
}

// CreateAppointment books one appointment, or a whole series when req.Rule is
// set. A conflict on the first occurrence fails the call with nothing
// written. Later occurrences are checked and inserted one by one; those that
// conflict or fail are skipped without undoing the rest.
func (s *Service) CreateAppointment(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if err := validateCreate(req); err != nil {
		return CreateResult{}, err
	}

	starts := []time.Time{req.Start}
	if req.Rule != nil {
		expanded, err := recurrence.Expand(req.Start, *req.Rule)
		if err != nil {
			return CreateResult{}, &ValidationError{Field: "recurrence_rule", Message: err.Error()}
		}
		starts = expanded
	}
	duration := req.End.Sub(req.Start)

	first := s.newAppointment(req, req.Start, duration, "")
	if err := s.ensureAvailable(ctx, first); err != nil {
		return CreateResult{}, err
	}
	parent, err := s.insert(ctx, first)
	if err != nil {
		return CreateResult{}, err
	}

	result := CreateResult{
		Appointment: parent,
		Occurrences: []model.Appointment{parent},
		Requested:   len(starts),
		Created:     1,
	}
	for _, start := range starts[1:] {
		child, err := s.createChild(ctx, s.newAppointment(req, start, duration, parent.ID))
		if err != nil {
			reason := err.Error()
			var ce *ConflictError
			if !errors.As(err, &ce) {
				s.logger.Error("series occurrence insert failed", "tenant_id", req.TenantID, "parent_id", parent.ID, "start", start, "err", err)
				reason = "could not be saved"
			}
			result.Skipped = append(result.Skipped, SkippedOccurrence{Start: start, Reason: reason})
			continue
		}
		result.Occurrences = append(result.Occurrences, child)
		result.Created++
	}
	if len(result.Skipped) > 0 {
		s.logger.Warn("recurring series partially created",
			"tenant_id", req.TenantID,
			"parent_id", parent.ID,
			"requested", result.Requested,
			"created", result.Created,
		)
	}
	return result, nil
}

// CreateRecurringSeries is CreateAppointment with a required rule.
func (s *Service) CreateRecurringSeries(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if req.Rule == nil {
		return CreateResult{}, invalid("recurrence_rule", "required")
	}
	return s.CreateAppointment(ctx, req)
}

func (s *Service) createChild(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	if err := s.ensureAvailable(ctx, appt); err != nil {
		return model.Appointment{}, err
	}
	return s.insert(ctx, appt)
}

// MoveAppointment changes the times of exactly one appointment.
func (s *Service) MoveAppointment(ctx context.Context, tenantID, id string, start, end time.Time) (model.Appointment, error) {
	if IsSynthetic(id) {
		return model.Appointment{}, ErrSyntheticEntry
	}
	if !end.After(start) {
		return model.Appointment{}, invalid("end_time", "must be after start_time")
	}
	appt, err := s.get(ctx, tenantID, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status.Terminal() {
		return model.Appointment{}, &InvalidStateError{AppointmentID: id, Status: appt.Status, Action: "moved"}
	}

	current := availability.Interval{Start: appt.Start, End: appt.End}
	appt.Start, appt.End = start, end
	if err := s.ensureAvailable(ctx, appt, availability.Excluded{ID: id, Span: current}); err != nil {
		return model.Appointment{}, err
	}
	updated, err := s.store.UpdateTimes(ctx, tenantID, id, start, end)
	if err != nil {
		return model.Appointment{}, s.mapWriteError(appt, err)
	}
	return updated, nil
}

// UpdateStatus applies one status transition to one appointment.
func (s *Service) UpdateStatus(ctx context.Context, tenantID, id string, next model.Status) (model.Appointment, error) {
	if _, err := s.UpdateSeries(ctx, tenantID, id, ScopeThisOnly, SeriesUpdate{Status: &next}); err != nil {
		return model.Appointment{}, err
	}
	return s.get(ctx, tenantID, id)
}

// ConfirmByToken confirms the pending appointment named by a signed
// confirmation token. Confirming twice is not an error.
func (s *Service) ConfirmByToken(ctx context.Context, raw string) (model.Appointment, error) {
	if !s.tokens.Configured() {
		return model.Appointment{}, ErrInvalidToken
	}
	claims, err := s.tokens.Verify(strings.TrimSpace(raw))
	if err != nil {
		return model.Appointment{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	appt, err := s.get(ctx, claims.TenantID, claims.AppointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.ConfirmationToken != "" && appt.ConfirmationToken != raw {
		return model.Appointment{}, ErrInvalidToken
	}
	switch appt.Status {
	case model.StatusConfirmed:
		return appt, nil
	case model.StatusPending:
		confirmed := model.StatusConfirmed
		if err := s.store.ApplyChanges(ctx, appt.TenantID, []model.AppointmentChange{{ID: appt.ID, Status: &confirmed}}); err != nil {
			return model.Appointment{}, fmt.Errorf("confirm appointment: %w", err)
		}
		appt.Status = confirmed
		return appt, nil
	default:
		return model.Appointment{}, &InvalidStateError{AppointmentID: appt.ID, Status: appt.Status, Action: "confirmed"}
	}
}

// CheckAvailability exposes the guard to callers that want to test a slot.
func (s *Service) CheckAvailability(ctx context.Context, req availability.CheckRequest) (availability.Result, error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return availability.Result{}, invalid("tenant_id", "required")
	}
	if !req.End.After(req.Start) {
		return availability.Result{}, invalid("end_time", "must be after start_time")
	}
	return s.guard.Check(ctx, req)
}

func (s *Service) FreeSlots(ctx context.Context, req availability.SlotRequest) ([]availability.Interval, error) {
	if req.Duration <= 0 {
		return nil, invalid("duration", "must be positive")
	}
	if !req.To.After(req.From) {
		return nil, invalid("to", "must be after from")
	}
	return s.guard.FreeSlots(ctx, req, s.now())
}

func (s *Service) newAppointment(req CreateRequest, start time.Time, duration time.Duration, parentID string) model.Appointment {
	appt := model.Appointment{
		ID:          s.newID(),
		TenantID:    req.TenantID,
		PatientID:   req.PatientID,
		ServiceID:   req.ServiceID,
		ProviderID:  req.ProviderID,
		Start:       start,
		End:         start.Add(duration),
		Status:      model.StatusPending,
		IsRecurring: req.Rule != nil,
		ParentID:    parentID,
		Notes:       req.Notes,
	}
	if req.Rule != nil {
		rule := *req.Rule
		appt.Rule = &rule
	}
	if s.tokens.Configured() {
		tok, err := s.tokens.Sign(appt.TenantID, appt.ID, appt.End)
		if err != nil {
			s.logger.Warn("confirmation token not issued", "appointment_id", appt.ID, "err", err)
		} else {
			appt.ConfirmationToken = tok
		}
	}
	return appt
}

// ensureAvailable checks appt's window, ignoring the appointments in moving
// at their current windows.
func (s *Service) ensureAvailable(ctx context.Context, appt model.Appointment, moving ...availability.Excluded) error {
	req := availability.CheckRequest{
		TenantID:   appt.TenantID,
		ProviderID: appt.ProviderID,
		Start:      appt.Start,
		End:        appt.End,
		Exclude:    moving,
	}
	res, err := s.guard.Check(ctx, req)
	if err != nil {
		return fmt.Errorf("check availability: %w", err)
	}
	if !res.Available {
		return &ConflictError{Conflict: *res.Conflict}
	}
	return nil
}

func (s *Service) insert(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	created, err := s.store.Insert(ctx, appt)
	if err != nil {
		return model.Appointment{}, s.mapWriteError(appt, err)
	}
	return s.export(ctx, created), nil
}

// export pushes appt to the provider's calendar. Failures are logged only.
func (s *Service) export(ctx context.Context, appt model.Appointment) model.Appointment {
	if appt.ProviderID == "" {
		return appt
	}
	ctx, cancel := context.WithTimeout(ctx, s.exportTimeout)
	defer cancel()

	eventID, ok, err := s.calendar.ExportAppointment(ctx, appt.ProviderID, appt)
	if err != nil {
		s.logger.Warn("calendar export failed", "appointment_id", appt.ID, "provider_id", appt.ProviderID, "err", err)
		return appt
	}
	if !ok {
		return appt
	}
	if err := s.store.SetExternalEventID(ctx, appt.TenantID, appt.ID, eventID); err != nil {
		s.logger.Warn("store external event id failed", "appointment_id", appt.ID, "err", err)
		return appt
	}
	appt.ExternalEventID = eventID
	return appt
}

func (s *Service) get(ctx context.Context, tenantID, id string) (model.Appointment, error) {
	appt, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
		}
		return model.Appointment{}, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

func (s *Service) mapWriteError(appt model.Appointment, err error) error {
	if errors.Is(err, model.ErrOverlap) {
		return &ConflictError{Conflict: availability.Conflict{
			Source: availability.SourceAppointment,
			Start:  appt.Start,
			End:    appt.End,
			Reason: "provider already booked",
		}}
	}
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("appointment %s: %w", appt.ID, model.ErrNotFound)
	}
	return fmt.Errorf("save appointment: %w", err)
}

func validateCreate(req CreateRequest) error {
	switch {
	case strings.TrimSpace(req.TenantID) == "":
		return invalid("tenant_id", "required")
	case strings.TrimSpace(req.PatientID) == "":
		return invalid("patient_id", "required")
	case strings.TrimSpace(req.ServiceID) == "":
		return invalid("service_id", "required")
	case req.Start.IsZero() || req.End.IsZero():
		return invalid("start_time", "start_time and end_time are required")
	case !req.End.After(req.Start):
		return invalid("end_time", "must be after start_time")
	}
	return nil
}
