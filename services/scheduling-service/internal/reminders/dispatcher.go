// Package reminders runs the reminder batch: for every tenant inside its send
// window, find confirmed appointments due for each lead time and deliver one
// reminder per enabled channel, at most once per (appointment, lead, channel).
package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/channels"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/lock"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/templates"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	reasonDisabled      = "disabled"
	reasonNoRecipient   = "no recipient"
	reasonNoProvider    = "channel not configured"
	reasonOutsideWindow = "outside send window"
	reasonInProgress    = "in progress elsewhere"
	reasonAlreadySent   = "already sent"
)

// Store is everything the dispatcher reads and writes. AppendLog returns
// model.ErrDuplicate when a sent row for the same key already exists.
type Store interface {
	ListSettings(ctx context.Context) ([]model.ReminderSettings, error)
	ListTemplates(ctx context.Context, tenantID string) (map[model.Channel]model.ReminderTemplate, error)
	DueAppointments(ctx context.Context, tenantID string, from, to time.Time) ([]model.DueAppointment, error)
	HasLog(ctx context.Context, appointmentID string, leadHours int, channel model.Channel, status model.LogStatus) (bool, error)
	AppendLog(ctx context.Context, entry model.ReminderLog) error
}

type Config struct {
	ConfirmBaseURL string
	SendTimeout    time.Duration
	LockTTL        time.Duration
	Concurrency    int
	// Window is the half-width of the due window around now+lead.
	Window time.Duration
}

type Dispatcher struct {
	store   Store
	senders map[model.Channel]channels.Sender
	locker  lock.Locker
	logger  *slog.Logger
	tracer  trace.Tracer
	cfg     Config
}

func NewDispatcher(store Store, senders map[model.Channel]channels.Sender, locker lock.Locker, logger *slog.Logger, cfg Config) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Minute
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Dispatcher{
		store:   store,
		senders: senders,
		locker:  locker,
		logger:  logger,
		tracer:  otel.Tracer("clinicsched/reminders"),
		cfg:     cfg,
	}
}

type Result struct {
	TenantID      string `json:"tenant_id"`
	AppointmentID string `json:"appointment_id,omitempty"`
	LeadHours     int    `json:"lead_hours,omitempty"`
	Channel       string `json:"channel,omitempty"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	Error         string `json:"error,omitempty"`
}

type Summary struct {
	Success       bool     `json:"success"`
	RemindersSent int      `json:"reminders_sent"`
	Results       []Result `json:"results"`
}

// Dispatch runs one batch as of now. Delivery failures are recorded and
// reported in the summary; only store failures abort the run. Running it
// again over the same data sends nothing twice.
func (d *Dispatcher) Dispatch(ctx context.Context, now time.Time) (Summary, error) {
	ctx, span := d.tracer.Start(ctx, "reminders.dispatch")
	defer span.End()

	settings, err := d.store.ListSettings(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "list settings failed")
		return Summary{}, fmt.Errorf("list reminder settings: %w", err)
	}

	perTenant := make([][]Result, len(settings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i, st := range settings {
		g.Go(func() error {
			results, err := d.dispatchTenant(gctx, st, now)
			if err != nil {
				return fmt.Errorf("tenant %s: %w", st.TenantID, err)
			}
			perTenant[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch aborted")
		return Summary{}, err
	}

	summary := Summary{Success: true, Results: []Result{}}
	for _, results := range perTenant {
		for _, r := range results {
			if r.Status == string(model.LogSent) {
				summary.RemindersSent++
			}
			summary.Results = append(summary.Results, r)
		}
	}
	span.SetAttributes(
		attribute.Int("reminders.tenants", len(settings)),
		attribute.Int("reminders.sent", summary.RemindersSent),
	)
	return summary, nil
}

func (d *Dispatcher) dispatchTenant(ctx context.Context, st model.ReminderSettings, now time.Time) ([]Result, error) {
	ctx, span := d.tracer.Start(ctx, "reminders.tenant", trace.WithAttributes(attribute.String("tenant_id", st.TenantID)))
	defer span.End()

	loc, err := st.Location()
	if err != nil {
		d.logger.Warn("tenant skipped: bad timezone", "tenant_id", st.TenantID, "err", err)
		return []Result{{TenantID: st.TenantID, Status: string(model.LogSkipped), Reason: "invalid timezone"}}, nil
	}
	if !st.InSendWindow(now.In(loc).Hour()) {
		return []Result{{TenantID: st.TenantID, Status: string(model.LogSkipped), Reason: reasonOutsideWindow}}, nil
	}

	tpls, err := d.store.ListTemplates(ctx, st.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	var results []Result
	for _, lead := range st.LeadHours {
		if lead <= 0 {
			continue
		}
		target := now.Add(time.Duration(lead) * time.Hour)
		due, err := d.store.DueAppointments(ctx, st.TenantID, target.Add(-d.cfg.Window), target.Add(d.cfg.Window))
		if err != nil {
			return nil, fmt.Errorf("due appointments for lead %dh: %w", lead, err)
		}
		for _, appt := range due {
			rs, err := d.dispatchAppointment(ctx, st, tpls, loc, appt, lead)
			if err != nil {
				return nil, err
			}
			results = append(results, rs...)
		}
	}
	return results, nil
}

func (d *Dispatcher) dispatchAppointment(ctx context.Context, st model.ReminderSettings, tpls map[model.Channel]model.ReminderTemplate, loc *time.Location, appt model.DueAppointment, lead int) ([]Result, error) {
	if !appt.RemindersEnabled {
		r, err := d.skipOnce(ctx, appt, lead, "", reasonDisabled)
		if err != nil || r == nil {
			return nil, err
		}
		return []Result{*r}, nil
	}

	var results []Result
	for _, ch := range model.Channels {
		if !st.ChannelEnabled(ch) {
			continue
		}
		r, err := d.dispatchChannel(ctx, st, tpls, loc, appt, lead, ch)
		if err != nil {
			return nil, err
		}
		if r != nil {
			results = append(results, *r)
		}
	}
	return results, nil
}

// dispatchChannel handles one dedup key. A nil result means the key was
// already done and there is nothing to report.
func (d *Dispatcher) dispatchChannel(ctx context.Context, st model.ReminderSettings, tpls map[model.Channel]model.ReminderTemplate, loc *time.Location, appt model.DueAppointment, lead int, ch model.Channel) (*Result, error) {
	key := "reminder:" + appt.ID + ":" + strconv.Itoa(lead) + ":" + string(ch)
	release, ok, err := d.locker.Acquire(ctx, key, d.cfg.LockTTL)
	if err != nil {
		d.logger.Warn("reminder lock unavailable; relying on log index", "key", key, "err", err)
		release, ok = func() {}, true
	}
	if !ok {
		return &Result{TenantID: appt.TenantID, AppointmentID: appt.ID, LeadHours: lead, Channel: string(ch), Status: string(model.LogSkipped), Reason: reasonInProgress}, nil
	}
	defer release()

	sent, err := d.store.HasLog(ctx, appt.ID, lead, ch, model.LogSent)
	if err != nil {
		return nil, fmt.Errorf("check reminder log: %w", err)
	}
	if sent {
		return nil, nil
	}

	to := appt.Recipient(ch)
	if to == "" {
		return d.skipOnce(ctx, appt, lead, ch, reasonNoRecipient)
	}
	sender, ok := d.senders[ch]
	if !ok || sender == nil {
		return d.skipOnce(ctx, appt, lead, ch, reasonNoProvider)
	}

	tpl := templates.Resolve(st.TenantID, ch, tpls)
	vars := templates.Vars(appt, st.TenantName, lead, loc)
	msg := templates.Build(ch, tpl, vars, templates.ConfirmLink(d.cfg.ConfirmBaseURL, appt.ConfirmationToken))

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	sendErr := sender.Send(sendCtx, channels.Message{To: to, Subject: msg.Subject, Body: msg.Body})
	cancel()

	entry := model.ReminderLog{
		TenantID:      appt.TenantID,
		AppointmentID: appt.ID,
		LeadHours:     lead,
		Channel:       ch,
		Status:        model.LogSent,
	}
	if sendErr != nil {
		entry.Status = model.LogFailed
		entry.Error = sendErr.Error()
		d.logger.Warn("reminder delivery failed",
			"tenant_id", appt.TenantID,
			"appointment_id", appt.ID,
			"lead_hours", lead,
			"channel", ch,
			"err", sendErr,
		)
	}
	if err := d.store.AppendLog(ctx, entry); err != nil {
		if errors.Is(err, model.ErrDuplicate) {
			return &Result{TenantID: appt.TenantID, AppointmentID: appt.ID, LeadHours: lead, Channel: string(ch), Status: string(model.LogSkipped), Reason: reasonAlreadySent}, nil
		}
		return nil, fmt.Errorf("append reminder log: %w", err)
	}
	return &Result{
		TenantID:      appt.TenantID,
		AppointmentID: appt.ID,
		LeadHours:     lead,
		Channel:       string(ch),
		Status:        string(entry.Status),
		Error:         entry.Error,
	}, nil
}

// skipOnce records a skipped row for the key unless one already exists.
func (d *Dispatcher) skipOnce(ctx context.Context, appt model.DueAppointment, lead int, ch model.Channel, reason string) (*Result, error) {
	exists, err := d.store.HasLog(ctx, appt.ID, lead, ch, model.LogSkipped)
	if err != nil {
		return nil, fmt.Errorf("check reminder log: %w", err)
	}
	if exists {
		return nil, nil
	}
	if err := d.store.AppendLog(ctx, model.ReminderLog{
		TenantID:      appt.TenantID,
		AppointmentID: appt.ID,
		LeadHours:     lead,
		Channel:       ch,
		Status:        model.LogSkipped,
		Error:         reason,
	}); err != nil && !errors.Is(err, model.ErrDuplicate) {
		return nil, fmt.Errorf("append reminder log: %w", err)
	}
	return &Result{
		TenantID:      appt.TenantID,
		AppointmentID: appt.ID,
		LeadHours:     lead,
		Channel:       string(ch),
		Status:        string(model.LogSkipped),
		Reason:        reason,
	}, nil
}
