package reminders

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/runtime"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/channels"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/lock"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu        sync.Mutex
	settings  []model.ReminderSettings
	templates map[string]map[model.Channel]model.ReminderTemplate
	appts     []model.DueAppointment
	logs      []model.ReminderLog
	dueCalls  int
	dueErr    error
}

func (m *memStore) ListSettings(context.Context) ([]model.ReminderSettings, error) {
	return m.settings, nil
}

func (m *memStore) ListTemplates(_ context.Context, tenantID string) (map[model.Channel]model.ReminderTemplate, error) {
	return m.templates[tenantID], nil
}

func (m *memStore) DueAppointments(_ context.Context, tenantID string, from, to time.Time) ([]model.DueAppointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dueCalls++
	if m.dueErr != nil {
		return nil, m.dueErr
	}
	var out []model.DueAppointment
	for _, a := range m.appts {
		if a.TenantID == tenantID && a.Status == model.StatusConfirmed && !a.Start.Before(from) && !a.Start.After(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) HasLog(_ context.Context, appointmentID string, lead int, ch model.Channel, status model.LogStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs {
		if l.AppointmentID == appointmentID && l.LeadHours == lead && l.Channel == ch && l.Status == status {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) AppendLog(_ context.Context, entry model.ReminderLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.Status == model.LogSent {
		for _, l := range m.logs {
			if l.Status == model.LogSent && l.AppointmentID == entry.AppointmentID && l.LeadHours == entry.LeadHours && l.Channel == entry.Channel {
				return model.ErrDuplicate
			}
		}
	}
	m.logs = append(m.logs, entry)
	return nil
}

func (m *memStore) logsWith(status model.LogStatus) []model.ReminderLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ReminderLog
	for _, l := range m.logs {
		if l.Status == status {
			out = append(out, l)
		}
	}
	return out
}

type recordingSender struct {
	mu   sync.Mutex
	id   string
	err  error
	sent []channels.Message
}

func (s *recordingSender) ProviderID() string { return s.id }

func (s *recordingSender) Send(_ context.Context, msg channels.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

var now = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

func settings(tenantID string) model.ReminderSettings {
	return model.ReminderSettings{
		TenantID:         tenantID,
		TenantName:       "Riverside Clinic",
		Timezone:         "UTC",
		LeadHours:        []int{24},
		SendStartHour:    9,
		SendEndHour:      20,
		MessagingEnabled: true,
		EmailEnabled:     true,
	}
}

func dueAppointment(id, tenantID string, start time.Time) model.DueAppointment {
	return model.DueAppointment{
		Appointment: model.Appointment{
			ID:                id,
			TenantID:          tenantID,
			Start:             start,
			End:               start.Add(time.Hour),
			Status:            model.StatusConfirmed,
			ConfirmationToken: "tok-" + id,
		},
		PatientName:      "Ana Silva",
		PatientPhone:     "+15550100",
		PatientEmail:     "ana@example.com",
		RemindersEnabled: true,
		ServiceName:      "Physiotherapy",
	}
}

type harness struct {
	store     *memStore
	messaging *recordingSender
	email     *recordingSender
	d         *Dispatcher
}

func newHarness(store *memStore) *harness {
	h := &harness{
		store:     store,
		messaging: &recordingSender{id: "messaging-test"},
		email:     &recordingSender{id: "email-test"},
	}
	h.d = NewDispatcher(store, map[model.Channel]channels.Sender{
		model.ChannelMessaging: h.messaging,
		model.ChannelEmail:     h.email,
	}, lock.NewLocal(), runtime.NopLogger(), Config{ConfirmBaseURL: "https://clinic.example/confirm", Concurrency: 4})
	return h
}

func TestDispatch_SendsOnePerChannel(t *testing.T) {
	store := &memStore{
		settings: []model.ReminderSettings{settings("clinic-a")},
		appts:    []model.DueAppointment{dueAppointment("appt-1", "clinic-a", now.Add(24*time.Hour+5*time.Minute))},
	}
	h := newHarness(store)

	summary, err := h.d.Dispatch(context.Background(), now)
	require.NoError(t, err)
	assert.True(t, summary.Success)
	assert.Equal(t, 2, summary.RemindersSent)

	sent := store.logsWith(model.LogSent)
	require.Len(t, sent, 2)
	assert.Equal(t, model.ChannelMessaging, sent[0].Channel)
	assert.Equal(t, model.ChannelEmail, sent[1].Channel)
	assert.Len(t, store.logs, 2)

	require.Len(t, h.messaging.sent, 1)
	sms := h.messaging.sent[0]
	assert.Equal(t, "+15550100", sms.To)
	assert.Contains(t, sms.Body, "Ana Silva")
	assert.Contains(t, sms.Body, "Tuesday, March 4, 2025")
	assert.Contains(t, sms.Body, "10:05")
	assert.True(t, strings.HasSuffix(sms.Body, "https://clinic.example/confirm?token=tok-appt-1"))

	require.Len(t, h.email.sent, 1)
	mail := h.email.sent[0]
	assert.Equal(t, "ana@example.com", mail.To)
	assert.Contains(t, mail.Subject, "Physiotherapy")
	assert.Contains(t, mail.Body, "<br>")
	assert.NotContains(t, mail.Body, "\n")
}

func TestDispatch_DueWindowIncludesBothEdges(t *testing.T) {
	store := &memStore{
		settings: []model.ReminderSettings{settings("clinic-a")},
		appts: []model.DueAppointment{
			dueAppointment("early-edge", "clinic-a", now.Add(24*time.Hour-30*time.Minute)),
			dueAppointment("late-edge", "clinic-a", now.Add(24*time.Hour+30*time.Minute)),
			dueAppointment("too-late", "clinic-a", now.Add(24*time.Hour+31*time.Minute)),
		},
	}
	h := newHarness(store)

	summary, err := h.d.Dispatch(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.RemindersSent)
	for _, r := range summary.Results {
		assert.NotEqual(t, "too-late", r.AppointmentID)
	}
}

func TestDispatch_RerunSendsNothingTwice(t *testing.T) {
	store := &memStore{
		settings: []model.ReminderSettings{settings("clinic-a")},
		appts:    []model.DueAppointment{dueAppointment("appt-1", "clinic-a", now.Add(24*time.Hour+5*time.Minute))},
	}
	h := newHarness(store)

	_, err := h.d.Dispatch(context.Background(), now)
	require.NoError(t, err)
	summary, err := h.d.Dispatch(context.Background(), now.Add(10*time.Minute))
	require.NoError(t, err)

	assert.Zero(t, summary.RemindersSent)
	assert.Len(t, store.logsWith(model.LogSent), 2)
	assert.Len(t, h.messaging.sent, 1)
	assert.Len(t, h.email.sent, 1)
}

func TestDispatch_OutsideSendWindowIssuesNoQueries(t *testing.T) {
	store := &memStore{
		settings: []model.ReminderSettings{settings("clinic-a")},
		appts:    []model.DueAppointment{dueAppointment("appt-1", "clinic-a", now.Add(24*time.Hour+5*time.Minute))},
	}
	h := newHarness(store)

	late := time.Date(2025, 3, 3, 22, 0, 0, 0, time.UTC)
	summary, err := h.d.Dispatch(context.Background(), late)
	require.NoError(t, err)
	assert.Zero(t, store.dueCalls)
	assert.Empty(t, store.logs)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, reasonOutsideWindow, summary.Results[0].Reason)
}

func TestDispatch_SendWindowUsesTenantTimezone(t *testing.T) {
	st := settings("clinic-a")
	st.Timezone = "Asia/Tokyo"
	if _, err := st.Location(); err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	store := &memStore{settings: []model.ReminderSettings{st}}
	h := newHarness(store)

	// 10:00 UTC is 19:00 in Tokyo, inside [9,20); 12:00 UTC is 21:00, outside.
	_, err := h.d.Dispatch(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, store.dueCalls)

	_, err = h.d.Dispatch(context.Background(), now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, store.dueCalls)
}

func TestDispatch_DisabledPatientSkipsOncePerLead(t *testing.T) {
	st := settings("clinic-a")
	st.LeadHours = []int{24, 48}
	appt := dueAppointment("appt-1", "clinic-a", now.Add(48*time.Hour+5*time.Minute))
	appt.RemindersEnabled = false
	store := &memStore{settings: []model.ReminderSettings{st}, appts: []model.DueAppointment{appt}}
	h := newHarness(store)

	for _, at := range []time.Time{now, now.Add(10 * time.Minute), now.Add(24 * time.Hour), now.Add(24*time.Hour + 10*time.Minute)} {
		_, err := h.d.Dispatch(context.Background(), at)
		require.NoError(t, err)
	}

	skipped := store.logsWith(model.LogSkipped)
	require.Len(t, skipped, 2)
	assert.Equal(t, 48, skipped[0].LeadHours)
	assert.Equal(t, 24, skipped[1].LeadHours)
	for _, l := range skipped {
		assert.Equal(t, "disabled", l.Error)
		assert.Empty(t, l.Channel)
	}
	assert.Empty(t, h.messaging.sent)
	assert.Empty(t, h.email.sent)
	assert.Len(t, store.logs, 2)
}

func TestDispatch_ChannelFailureIsIsolated(t *testing.T) {
	store := &memStore{
		settings: []model.ReminderSettings{settings("clinic-a")},
		appts: []model.DueAppointment{
			dueAppointment("appt-1", "clinic-a", now.Add(24*time.Hour+5*time.Minute)),
			dueAppointment("appt-2", "clinic-a", now.Add(24*time.Hour+15*time.Minute)),
		},
	}
	h := newHarness(store)
	h.messaging.err = &channels.DispatchError{Provider: "messaging-test", Err: errors.New("gateway timeout")}

	summary, err := h.d.Dispatch(context.Background(), now)
	require.NoError(t, err)
	assert.True(t, summary.Success)
	assert.Equal(t, 2, summary.RemindersSent, "email still goes out for both")

	failed := store.logsWith(model.LogFailed)
	require.Len(t, failed, 2)
	assert.Contains(t, failed[0].Error, "gateway timeout")
	assert.Len(t, h.email.sent, 2)

	// Failed rows do not block a retry once the provider recovers.
	h.messaging.err = nil
	summary, err = h.d.Dispatch(context.Background(), now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.RemindersSent)
	assert.Len(t, store.logsWith(model.LogSent), 4)
}

func TestDispatch_MissingRecipientAndDisabledChannel(t *testing.T) {
	st := settings("clinic-a")
	st.MessagingEnabled = false
	appt := dueAppointment("appt-1", "clinic-a", now.Add(24*time.Hour))
	appt.PatientEmail = ""
	store := &memStore{settings: []model.ReminderSettings{st}, appts: []model.DueAppointment{appt}}
	h := newHarness(store)

	summary, err := h.d.Dispatch(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, summary.RemindersSent)
	require.Len(t, store.logs, 1)
	assert.Equal(t, model.LogSkipped, store.logs[0].Status)
	assert.Equal(t, "no recipient", store.logs[0].Error)
	assert.Equal(t, model.ChannelEmail, store.logs[0].Channel)
	assert.Empty(t, h.messaging.sent)

	_, err = h.d.Dispatch(context.Background(), now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Len(t, store.logs, 1)
}

func TestDispatch_HeldLockSkipsKey(t *testing.T) {
	store := &memStore{
		settings: []model.ReminderSettings{settings("clinic-a")},
		appts:    []model.DueAppointment{dueAppointment("appt-1", "clinic-a", now.Add(24*time.Hour))},
	}
	locker := lock.NewLocal()
	_, ok, _ := locker.Acquire(context.Background(), "reminder:appt-1:24:email", time.Minute)
	require.True(t, ok)

	messaging := &recordingSender{id: "m"}
	email := &recordingSender{id: "e"}
	d := NewDispatcher(store, map[model.Channel]channels.Sender{
		model.ChannelMessaging: messaging,
		model.ChannelEmail:     email,
	}, locker, runtime.NopLogger(), Config{})

	summary, err := d.Dispatch(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RemindersSent)
	assert.Empty(t, email.sent)
	require.Len(t, summary.Results, 2)
	assert.Equal(t, reasonInProgress, summary.Results[1].Reason)
}

func TestDispatch_StoreFailureAborts(t *testing.T) {
	store := &memStore{
		settings: []model.ReminderSettings{settings("clinic-a"), settings("clinic-b")},
		dueErr:   errors.New("connection refused"),
	}
	h := newHarness(store)

	_, err := h.d.Dispatch(context.Background(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestDispatch_ResultsInTenantOrder(t *testing.T) {
	var all []model.DueAppointment
	var ss []model.ReminderSettings
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		ss = append(ss, settings(id))
		all = append(all, dueAppointment("appt-"+id, id, now.Add(24*time.Hour)))
	}
	store := &memStore{settings: ss, appts: all}
	h := newHarness(store)

	summary, err := h.d.Dispatch(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 10, summary.RemindersSent)
	require.Len(t, summary.Results, 10)
	for i, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		assert.Equal(t, id, summary.Results[2*i].TenantID)
		assert.Equal(t, id, summary.Results[2*i+1].TenantID)
	}
}

func TestDispatch_TenantTemplateOverridesDefault(t *testing.T) {
	st := settings("clinic-a")
	st.EmailEnabled = false
	store := &memStore{
		settings: []model.ReminderSettings{st},
		appts:    []model.DueAppointment{dueAppointment("appt-1", "clinic-a", now.Add(24*time.Hour))},
		templates: map[string]map[model.Channel]model.ReminderTemplate{
			"clinic-a": {model.ChannelMessaging: {Channel: model.ChannelMessaging, Body: "{clinic_name}: {service_name} in {lead_hours}h {unknown}"}},
		},
	}
	h := newHarness(store)
	h.d.cfg.ConfirmBaseURL = ""

	_, err := h.d.Dispatch(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, h.messaging.sent, 1)
	assert.Equal(t, "Riverside Clinic: Physiotherapy in 24h {unknown}", h.messaging.sent[0].Body)
}
