package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/recurrence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseRequest() CreateRequest {
	return CreateRequest{
		TenantID:   "clinic-a",
		PatientID:  "pat-1",
		ServiceID:  "svc-1",
		ProviderID: "dr-1",
		Start:      at(3, 10),
		End:        at(3, 11),
	}
}

func TestCreateAppointment_Single(t *testing.T) {
	f := newFixture()
	res, err := f.svc.CreateAppointment(context.Background(), baseRequest())
	require.NoError(t, err)

	appt := res.Appointment
	assert.Equal(t, model.StatusPending, appt.Status)
	assert.False(t, appt.IsRecurring)
	assert.Equal(t, 1, res.Requested)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, "evt-"+appt.ID, appt.ExternalEventID)

	claims, err := f.tokens.Verify(appt.ConfirmationToken)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, claims.AppointmentID)
	assert.Equal(t, "clinic-a", claims.TenantID)
}

func TestCreateAppointment_ConflictWritesNothing(t *testing.T) {
	f := newFixture()
	f.blocks.blocks = []model.AvailabilityBlock{{
		ID: "b1", TenantID: "clinic-a", Scope: model.TenantWide(),
		Start: at(3, 10).Add(30 * time.Minute), End: at(3, 12), Reason: "team training",
	}}

	_, err := f.svc.CreateAppointment(context.Background(), baseRequest())
	var ce *ConflictError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, availability.SourceTenantBlock, ce.Conflict.Source)
	assert.Contains(t, ce.Error(), "team training")
	assert.Zero(t, f.store.count())
	assert.Empty(t, f.cal.exported)
}

func TestCreateAppointment_Validation(t *testing.T) {
	f := newFixture()

	req := baseRequest()
	req.End = req.Start
	_, err := f.svc.CreateAppointment(context.Background(), req)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))

	req = baseRequest()
	req.Rule = &recurrence.Rule{Frequency: recurrence.Weekly, Interval: 0}
	_, err = f.svc.CreateAppointment(context.Background(), req)
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "recurrence_rule", ve.Field)

	req = baseRequest()
	req.Rule = &recurrence.Rule{Frequency: recurrence.Weekly, Interval: 1, DaysOfWeek: []int{}}
	_, err = f.svc.CreateAppointment(context.Background(), req)
	require.True(t, errors.As(err, &ve))

	_, err = f.svc.CreateRecurringSeries(context.Background(), baseRequest())
	require.True(t, errors.As(err, &ve))
	assert.Zero(t, f.store.count())
}

func TestCreateRecurringSeries_PartialSuccess(t *testing.T) {
	f := newFixture()
	f.blocks.blocks = []model.AvailabilityBlock{{
		ID: "b1", TenantID: "clinic-a", Scope: model.ForProvider("dr-1"),
		Start: at(5, 0), End: at(6, 0), Reason: "conference",
	}}
	f.store.failOn[at(6, 10)] = errBoom

	req := baseRequest()
	five := 5
	req.Rule = &recurrence.Rule{Frequency: recurrence.Daily, Interval: 1, Occurrences: &five}

	res, err := f.svc.CreateRecurringSeries(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Requested)
	assert.Equal(t, 3, res.Created)
	require.Len(t, res.Skipped, 2)
	assert.True(t, res.Skipped[0].Start.Equal(at(5, 10)))
	assert.Contains(t, res.Skipped[0].Reason, "conference")
	assert.True(t, res.Skipped[1].Start.Equal(at(6, 10)))
	assert.Equal(t, "could not be saved", res.Skipped[1].Reason)

	parent := res.Appointment
	require.NotNil(t, parent.Rule)
	assert.True(t, parent.IsRecurring)
	assert.Empty(t, parent.ParentID)
	for _, occ := range res.Occurrences[1:] {
		assert.Equal(t, parent.ID, occ.ParentID)
		require.NotNil(t, occ.Rule)
		assert.Equal(t, *parent.Rule, *occ.Rule)
		assert.Equal(t, time.Hour, occ.Duration())
	}
	assert.Equal(t, 3, f.store.count())
}

func TestCreateAppointment_ExclusionViolationIsConflict(t *testing.T) {
	f := newFixture()
	f.store.failOn[at(3, 10)] = model.ErrOverlap
	_, err := f.svc.CreateAppointment(context.Background(), baseRequest())
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, availability.SourceAppointment, ce.Conflict.Source)
}

func TestCreateAppointment_ExportFailureIsSilent(t *testing.T) {
	f := newFixture()
	f.cal.exportErr = errBoom
	res, err := f.svc.CreateAppointment(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Empty(t, res.Appointment.ExternalEventID)
	assert.Equal(t, 1, f.store.count())
}

func TestMoveAppointment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first, err := f.svc.CreateAppointment(ctx, baseRequest())
	require.NoError(t, err)
	other := baseRequest()
	other.Start, other.End = at(3, 13), at(3, 14)
	second, err := f.svc.CreateAppointment(ctx, other)
	require.NoError(t, err)

	// The external calendar now reports the first appointment's exported event.
	f.cal.busy = []model.BusyInterval{{Start: at(3, 10), End: at(3, 11)}}

	moved, err := f.svc.MoveAppointment(ctx, "clinic-a", first.Appointment.ID, at(3, 10).Add(30*time.Minute), at(3, 11).Add(30*time.Minute))
	require.NoError(t, err, "overlapping only its own prior slot is allowed")
	assert.True(t, moved.Start.Equal(at(3, 10).Add(30*time.Minute)))

	_, err = f.svc.MoveAppointment(ctx, "clinic-a", first.Appointment.ID, at(3, 13).Add(30*time.Minute), at(3, 14).Add(30*time.Minute))
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, second.Appointment.ID, ce.Conflict.RefID)
	unchanged, _ := f.store.Get(ctx, "clinic-a", first.Appointment.ID)
	assert.True(t, unchanged.Start.Equal(at(3, 10).Add(30*time.Minute)))

	_, err = f.svc.MoveAppointment(ctx, "clinic-a", BlockEntryID("b1"), at(4, 9), at(4, 10))
	assert.ErrorIs(t, err, ErrSyntheticEntry)
	_, err = f.svc.MoveAppointment(ctx, "clinic-a", ExternalEntryID("dr-1", 0), at(4, 9), at(4, 10))
	assert.ErrorIs(t, err, ErrSyntheticEntry)

	_, err = f.svc.MoveAppointment(ctx, "clinic-a", "missing", at(4, 9), at(4, 10))
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.UpdateStatus(ctx, "clinic-a", second.Appointment.ID, model.StatusCancelled)
	require.NoError(t, err)
	_, err = f.svc.MoveAppointment(ctx, "clinic-a", second.Appointment.ID, at(4, 9), at(4, 10))
	var se *InvalidStateError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, model.StatusCancelled, se.Status)
}

func TestUpdateStatus_StateMachine(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res, err := f.svc.CreateAppointment(ctx, baseRequest())
	require.NoError(t, err)
	id := res.Appointment.ID

	_, err = f.svc.UpdateStatus(ctx, "clinic-a", id, model.StatusCompleted)
	var se *InvalidStateError
	require.True(t, errors.As(err, &se), "pending cannot jump to completed")

	appt, err := f.svc.UpdateStatus(ctx, "clinic-a", id, model.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, appt.Status)

	appt, err = f.svc.UpdateStatus(ctx, "clinic-a", id, model.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, appt.Status)

	_, err = f.svc.UpdateStatus(ctx, "clinic-a", id, model.StatusCancelled)
	require.True(t, errors.As(err, &se), "completed is terminal")

	_, err = f.svc.UpdateStatus(ctx, "clinic-a", id, model.Status("archived"))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
}

func TestConfirmByToken(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res, err := f.svc.CreateAppointment(ctx, baseRequest())
	require.NoError(t, err)
	tok := res.Appointment.ConfirmationToken

	appt, err := f.svc.ConfirmByToken(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, appt.Status)

	appt, err = f.svc.ConfirmByToken(ctx, tok)
	require.NoError(t, err, "confirming twice is idempotent")
	assert.Equal(t, model.StatusConfirmed, appt.Status)

	_, err = f.svc.ConfirmByToken(ctx, tok+"x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := f.svc.CreateAppointment(ctx, CreateRequest{
		TenantID: "clinic-a", PatientID: "pat-2", ServiceID: "svc-1", Start: at(4, 9), End: at(4, 10),
	})
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, "clinic-a", other.Appointment.ID, model.StatusCancelled)
	require.NoError(t, err)
	_, err = f.svc.ConfirmByToken(ctx, other.Appointment.ConfirmationToken)
	var se *InvalidStateError
	require.True(t, errors.As(err, &se))
}

func TestCheckAvailabilityAndFreeSlots(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.CreateAppointment(ctx, baseRequest())
	require.NoError(t, err)

	res, err := f.svc.CheckAvailability(ctx, availability.CheckRequest{TenantID: "clinic-a", ProviderID: "dr-1", Start: at(3, 11), End: at(3, 12)})
	require.NoError(t, err)
	assert.True(t, res.Available, "touching the existing booking is free")

	res, err = f.svc.CheckAvailability(ctx, availability.CheckRequest{TenantID: "clinic-a", ProviderID: "dr-1", Start: at(3, 9), End: at(3, 12)})
	require.NoError(t, err)
	assert.False(t, res.Available)

	_, err = f.svc.CheckAvailability(ctx, availability.CheckRequest{TenantID: "clinic-a", Start: at(3, 12), End: at(3, 11)})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))

	f.svc.now = func() time.Time { return at(1, 0) }
	slots, err := f.svc.FreeSlots(ctx, availability.SlotRequest{TenantID: "clinic-a", ProviderID: "dr-1", From: at(3, 9), To: at(3, 12), Duration: time.Hour})
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.True(t, slots[0].Start.Equal(at(3, 9)))
	assert.True(t, slots[1].Start.Equal(at(3, 11)))
}
