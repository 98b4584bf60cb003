package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/recurrence"
)

const appointmentColumns = `
	id::text, tenant_id, patient_id, service_id, COALESCE(provider_id, ''),
	start_time, end_time, status, is_recurring, recurrence_rule,
	COALESCE(parent_id::text, ''), confirmation_token, external_event_id, notes, created_at`

// aliasedAppointmentColumns is appointmentColumns for queries that alias
// appointments as a.
const aliasedAppointmentColumns = `
	a.id::text, a.tenant_id, a.patient_id, a.service_id, COALESCE(a.provider_id, ''),
	a.start_time, a.end_time, a.status, a.is_recurring, a.recurrence_rule,
	COALESCE(a.parent_id::text, ''), a.confirmation_token, a.external_event_id, a.notes, a.created_at`

type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, events *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: events}
}

// appointmentEvent is the payload of every scheduling.appointment.* event.
type appointmentEvent struct {
	AppointmentID string    `json:"appointment_id"`
	TenantID      string    `json:"tenant_id"`
	PatientID     string    `json:"patient_id"`
	ProviderID    string    `json:"provider_id,omitempty"`
	ServiceID     string    `json:"service_id,omitempty"`
	SeriesID      string    `json:"series_id,omitempty"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Status        string    `json:"status"`
}

func newAppointmentEvent(eventType string, appt model.Appointment) (outbox.Event, error) {
	return outbox.NewEvent(appt.TenantID, "appointment", appt.ID, eventType, appointmentEvent{
		AppointmentID: appt.ID,
		TenantID:      appt.TenantID,
		PatientID:     appt.PatientID,
		ProviderID:    appt.ProviderID,
		ServiceID:     appt.ServiceID,
		SeriesID:      appt.SeriesID(),
		Start:         appt.Start.UTC(),
		End:           appt.End.UTC(),
		Status:        string(appt.Status),
	})
}

func (r *AppointmentRepository) emit(ctx context.Context, tx pgx.Tx, eventType string, appt model.Appointment) error {
	evt, err := newAppointmentEvent(eventType, appt)
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, tx, evt)
}

func (r *AppointmentRepository) Insert(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	var rule []byte
	if appt.Rule != nil {
		raw, err := json.Marshal(appt.Rule)
		if err != nil {
			return model.Appointment{}, fmt.Errorf("encode recurrence rule: %w", err)
		}
		rule = raw
	}

	var created model.Appointment
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO appointments
				(id, tenant_id, patient_id, service_id, provider_id, start_time, end_time, status,
				 is_recurring, recurrence_rule, parent_id, confirmation_token, notes)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, NULLIF($11, '')::uuid, $12, $13)
			RETURNING `+appointmentColumns,
			appt.ID, appt.TenantID, appt.PatientID, appt.ServiceID, appt.ProviderID, appt.Start, appt.End,
			appt.Status, appt.IsRecurring, rule, appt.ParentID, appt.ConfirmationToken, appt.Notes)
		var err error
		created, err = scanAppointment(row)
		if err != nil {
			return err
		}
		return r.emit(ctx, tx, outbox.AppointmentCreated, created)
	})
	if err != nil {
		return model.Appointment{}, mapError("insert appointment", err)
	}
	return created, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, tenantID, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND id::text = $2
	`, tenantID, id)
	appt, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, mapError("get appointment", err)
	}
	return appt, nil
}

func (r *AppointmentRepository) UpdateTimes(ctx context.Context, tenantID, id string, start, end time.Time) (model.Appointment, error) {
	var updated model.Appointment
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET start_time = $3, end_time = $4, updated_at = now()
			WHERE tenant_id = $1 AND id::text = $2
			RETURNING `+appointmentColumns,
			tenantID, id, start, end)
		var err error
		updated, err = scanAppointment(row)
		if err != nil {
			return err
		}
		return r.emit(ctx, tx, outbox.AppointmentMoved, updated)
	})
	if err != nil {
		return model.Appointment{}, mapError("move appointment", err)
	}
	return updated, nil
}

// ApplyChanges writes every change in one transaction. A missing row or a
// constraint violation on any of them rolls back all of them. The overlap
// constraint is checked at commit so rows of a shifted series may pass
// through each other's old slots.
func (r *AppointmentRepository) ApplyChanges(ctx context.Context, tenantID string, changes []model.AppointmentChange) error {
	if len(changes) == 0 {
		return nil
	}
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SET CONSTRAINTS appointments_provider_no_overlap DEFERRED`); err != nil {
			return err
		}
		for _, c := range changes {
			var status *string
			if c.Status != nil {
				s := string(*c.Status)
				status = &s
			}
			row := tx.QueryRow(ctx, `
				UPDATE appointments
				SET status = COALESCE($3, status),
					notes = COALESCE($4, notes),
					start_time = COALESCE($5, start_time),
					end_time = COALESCE($6, end_time),
					updated_at = now()
				WHERE tenant_id = $1 AND id::text = $2
				RETURNING `+appointmentColumns,
				tenantID, c.ID, status, c.Notes, c.Start, c.End)
			updated, err := scanAppointment(row)
			if err != nil {
				if db.IsNotFound(err) {
					return fmt.Errorf("appointment %s: %w", c.ID, model.ErrNotFound)
				}
				return err
			}
			eventType := outbox.AppointmentUpdated
			if c.Start != nil || c.End != nil {
				eventType = outbox.AppointmentMoved
			}
			if err := r.emit(ctx, tx, eventType, updated); err != nil {
				return err
			}
		}
		return nil
	})
	return mapError("apply appointment changes", err)
}

func (r *AppointmentRepository) Delete(ctx context.Context, tenantID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			DELETE FROM appointments
			WHERE tenant_id = $1 AND id::text = ANY($2)
			RETURNING `+appointmentColumns,
			tenantID, ids)
		if err != nil {
			return err
		}
		removed, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Appointment, error) {
			return scanAppointment(row)
		})
		if err != nil {
			return err
		}
		for _, appt := range removed {
			if err := r.emit(ctx, tx, outbox.AppointmentDeleted, appt); err != nil {
				return err
			}
		}
		deleted = len(removed)
		return nil
	})
	if err != nil {
		return 0, mapError("delete appointments", err)
	}
	return deleted, nil
}

func (r *AppointmentRepository) ListSeries(ctx context.Context, tenantID, seriesID string) ([]model.Appointment, error) {
	return r.list(ctx, "list series", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND (id::text = $2 OR parent_id::text = $2)
		ORDER BY start_time ASC
	`, tenantID, seriesID)
}

func (r *AppointmentRepository) ListRange(ctx context.Context, tenantID, providerID string, start, end time.Time) ([]model.Appointment, error) {
	return r.list(ctx, "list appointments", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
			AND ($2 = '' OR provider_id = $2)
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, tenantID, providerID, start, end)
}

func (r *AppointmentRepository) ListProviderAppointments(ctx context.Context, tenantID, providerID string, start, end time.Time) ([]model.Appointment, error) {
	return r.list(ctx, "list provider appointments", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
			AND provider_id = $2
			AND status IN ('pending', 'confirmed')
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, tenantID, providerID, start, end)
}

func (r *AppointmentRepository) SetExternalEventID(ctx context.Context, tenantID, id, eventID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments SET external_event_id = $3, updated_at = now()
		WHERE tenant_id = $1 AND id::text = $2
	`, tenantID, id, eventID)
	if err != nil {
		return mapError("set external event id", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *AppointmentRepository) list(ctx context.Context, op, query string, args ...any) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	appts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Appointment, error) {
		return scanAppointment(row)
	})
	if err != nil {
		return nil, mapError(op, err)
	}
	return appts, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		appt   model.Appointment
		status string
		rule   []byte
	)
	if err := row.Scan(
		&appt.ID,
		&appt.TenantID,
		&appt.PatientID,
		&appt.ServiceID,
		&appt.ProviderID,
		&appt.Start,
		&appt.End,
		&status,
		&appt.IsRecurring,
		&rule,
		&appt.ParentID,
		&appt.ConfirmationToken,
		&appt.ExternalEventID,
		&appt.Notes,
		&appt.CreatedAt,
	); err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	if len(rule) > 0 {
		var parsed recurrence.Rule
		if err := json.Unmarshal(rule, &parsed); err != nil {
			return model.Appointment{}, fmt.Errorf("decode recurrence rule of %s: %w", appt.ID, err)
		}
		appt.Rule = &parsed
	}
	return appt, nil
}
