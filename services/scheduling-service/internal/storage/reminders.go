package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

type ReminderRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewReminderRepository(pool *db.Pool, events *outbox.Repository) *ReminderRepository {
	return &ReminderRepository{pool: pool, outbox: events}
}

func (r *ReminderRepository) ListSettings(ctx context.Context) ([]model.ReminderSettings, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT tenant_id, tenant_name, timezone, lead_hours, send_start_hour, send_end_hour,
			messaging_enabled, email_enabled
		FROM reminder_settings
		ORDER BY tenant_id ASC
	`)
	if err != nil {
		return nil, mapError("list reminder settings", err)
	}
	settings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ReminderSettings, error) {
		var (
			st    model.ReminderSettings
			leads []int32
		)
		err := row.Scan(&st.TenantID, &st.TenantName, &st.Timezone, &leads, &st.SendStartHour, &st.SendEndHour,
			&st.MessagingEnabled, &st.EmailEnabled)
		for _, h := range leads {
			st.LeadHours = append(st.LeadHours, int(h))
		}
		return st, err
	})
	if err != nil {
		return nil, mapError("list reminder settings", err)
	}
	return settings, nil
}

func (r *ReminderRepository) ListTemplates(ctx context.Context, tenantID string) (map[model.Channel]model.ReminderTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT tenant_id, channel, subject, body
		FROM reminder_templates
		WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, mapError("list reminder templates", err)
	}
	tpls, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ReminderTemplate, error) {
		var (
			tpl     model.ReminderTemplate
			channel string
		)
		err := row.Scan(&tpl.TenantID, &channel, &tpl.Subject, &tpl.Body)
		tpl.Channel = model.Channel(channel)
		return tpl, err
	})
	if err != nil {
		return nil, mapError("list reminder templates", err)
	}
	out := make(map[model.Channel]model.ReminderTemplate, len(tpls))
	for _, tpl := range tpls {
		out[tpl.Channel] = tpl
	}
	return out, nil
}

const dueAppointmentsQuery = `
	SELECT ` + aliasedAppointmentColumns + `,
		COALESCE(p.name, ''), COALESCE(p.phone, ''), COALESCE(p.email, ''),
		COALESCE(p.reminders_enabled, true), COALESCE(s.name, '')
	FROM appointments a
	LEFT JOIN patients p ON p.tenant_id = a.tenant_id AND p.id = a.patient_id
	LEFT JOIN services s ON s.tenant_id = a.tenant_id AND s.id = a.service_id
	WHERE a.tenant_id = $1
		AND a.status = 'confirmed'
		AND a.start_time >= $2
		AND a.start_time <= $3
	ORDER BY a.start_time ASC, a.id ASC
`

// DueAppointments returns confirmed appointments starting in [from, to], both
// ends included, with the patient and service details a reminder needs.
func (r *ReminderRepository) DueAppointments(ctx context.Context, tenantID string, from, to time.Time) ([]model.DueAppointment, error) {
	rows, err := r.pool.Query(ctx, dueAppointmentsQuery, tenantID, from, to)
	if err != nil {
		return nil, mapError("list due appointments", err)
	}
	due, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.DueAppointment, error) {
		var d model.DueAppointment
		appt, err := scanAppointment(dueRow{row: row, extra: []any{
			&d.PatientName, &d.PatientPhone, &d.PatientEmail, &d.RemindersEnabled, &d.ServiceName,
		}})
		d.Appointment = appt
		return d, err
	})
	if err != nil {
		return nil, mapError("list due appointments", err)
	}
	return due, nil
}

func (r *ReminderRepository) HasLog(ctx context.Context, appointmentID string, leadHours int, channel model.Channel, status model.LogStatus) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reminder_logs
			WHERE appointment_id::text = $1 AND lead_hours = $2 AND channel = $3 AND status = $4
		)
	`, appointmentID, leadHours, string(channel), string(status)).Scan(&exists)
	if err != nil {
		return false, mapError("check reminder log", err)
	}
	return exists, nil
}

type reminderEvent struct {
	AppointmentID string `json:"appointment_id"`
	TenantID      string `json:"tenant_id"`
	LeadHours     int    `json:"lead_hours"`
	Channel       string `json:"channel"`
	Error         string `json:"error,omitempty"`
}

// AppendLog inserts the log row and, for sent and failed rows, the matching
// outbox event. A second sent row for the same key returns model.ErrDuplicate.
func (r *ReminderRepository) AppendLog(ctx context.Context, entry model.ReminderLog) error {
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO reminder_logs (tenant_id, appointment_id, lead_hours, channel, status, error)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, entry.TenantID, entry.AppointmentID, entry.LeadHours, string(entry.Channel), string(entry.Status), entry.Error); err != nil {
			return err
		}

		var eventType string
		switch entry.Status {
		case model.LogSent:
			eventType = outbox.ReminderSent
		case model.LogFailed:
			eventType = outbox.ReminderFailed
		default:
			return nil
		}
		evt, err := outbox.NewEvent(entry.TenantID, "appointment", entry.AppointmentID, eventType, reminderEvent{
			AppointmentID: entry.AppointmentID,
			TenantID:      entry.TenantID,
			LeadHours:     entry.LeadHours,
			Channel:       string(entry.Channel),
			Error:         entry.Error,
		})
		if err != nil {
			return err
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
	return mapError("append reminder log", err)
}

// dueRow appends the joined patient/service columns after the appointment
// columns so scanAppointment can be reused.
type dueRow struct {
	row   pgx.Row
	extra []any
}

func (d dueRow) Scan(dest ...any) error {
	return d.row.Scan(append(dest, d.extra...)...)
}
