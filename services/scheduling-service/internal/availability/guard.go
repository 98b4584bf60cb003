// Package availability decides whether a time window is free for a tenant or
// provider, and lists free slots.
package availability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

type Source string

const (
	SourceTenantBlock      Source = "tenant_block"
	SourceProviderBlock    Source = "provider_block"
	SourceAppointment      Source = "appointment"
	SourceExternalCalendar Source = "external_calendar"
)

type BlockSource interface {
	ListBlocks(ctx context.Context, tenantID string, scope model.BlockScope, start, end time.Time) ([]model.AvailabilityBlock, error)
}

// AppointmentSource lists pending and confirmed appointments of a provider
// overlapping [start, end).
type AppointmentSource interface {
	ListProviderAppointments(ctx context.Context, tenantID, providerID string, start, end time.Time) ([]model.Appointment, error)
}

type BusySource interface {
	FetchBusyIntervals(ctx context.Context, providerID string, start, end time.Time) ([]model.BusyInterval, error)
}

type Interval struct {
	Start time.Time
	End   time.Time
}

type CheckRequest struct {
	TenantID   string
	ProviderID string
	Start      time.Time
	End        time.Time
	// Exclude lists appointments being moved by the same write. They are
	// left out of the appointment search, and an external busy interval
	// equal to one of their current windows is their own exported event.
	Exclude []Excluded
}

type Excluded struct {
	ID   string
	Span Interval
}

type Conflict struct {
	Source Source
	Start  time.Time
	End    time.Time
	Reason string
	RefID  string
}

func (c Conflict) Message() string {
	what := "an existing booking"
	switch c.Source {
	case SourceTenantBlock:
		what = "a clinic-wide block"
	case SourceProviderBlock:
		what = "a provider block"
	case SourceExternalCalendar:
		what = "the provider's external calendar"
	}
	msg := fmt.Sprintf("requested time overlaps %s (%s - %s)", what,
		c.Start.UTC().Format(time.RFC3339), c.End.UTC().Format(time.RFC3339))
	if c.Reason != "" {
		msg += ": " + c.Reason
	}
	return msg
}

type Result struct {
	Available bool
	Conflict  *Conflict
}

type Guard struct {
	blocks      BlockSource
	appts       AppointmentSource
	busy        BusySource
	busyTimeout time.Duration
	logger      *slog.Logger
}

type GuardConfig struct {
	BusyTimeout time.Duration
}

// NewGuard wires the guard. appts and busy may be nil.
func NewGuard(blocks BlockSource, appts AppointmentSource, busy BusySource, logger *slog.Logger, cfg GuardConfig) *Guard {
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 3 * time.Second
	}
	return &Guard{
		blocks:      blocks,
		appts:       appts,
		busy:        busy,
		busyTimeout: cfg.BusyTimeout,
		logger:      logger,
	}
}

// Check returns the first conflict found, in order: tenant blocks, provider
// blocks, the provider's active appointments, external busy time. Errors
// from the external calendar count as no conflicts; store errors are
// returned.
func (g *Guard) Check(ctx context.Context, req CheckRequest) (Result, error) {
	if !req.End.After(req.Start) {
		return Result{}, fmt.Errorf("availability window end must be after start")
	}

	scopes := []model.BlockScope{model.TenantWide()}
	if req.ProviderID != "" {
		scopes = append(scopes, model.ForProvider(req.ProviderID))
	}
	for _, scope := range scopes {
		blocks, err := g.blocks.ListBlocks(ctx, req.TenantID, scope, req.Start, req.End)
		if err != nil {
			return Result{}, fmt.Errorf("list %s blocks: %w", scope.Kind, err)
		}
		for _, b := range blocks {
			if model.Overlaps(req.Start, req.End, b.Start, b.End) {
				return conflict(Conflict{Source: blockSource(scope), Start: b.Start, End: b.End, Reason: b.Reason, RefID: b.ID}), nil
			}
		}
	}

	if req.ProviderID == "" {
		return Result{Available: true}, nil
	}

	excluded := make(map[string]bool, len(req.Exclude))
	for _, e := range req.Exclude {
		excluded[e.ID] = true
	}

	if g.appts != nil {
		appts, err := g.appts.ListProviderAppointments(ctx, req.TenantID, req.ProviderID, req.Start, req.End)
		if err != nil {
			return Result{}, fmt.Errorf("list provider appointments: %w", err)
		}
		for _, a := range appts {
			if excluded[a.ID] || !a.Active() {
				continue
			}
			if model.Overlaps(req.Start, req.End, a.Start, a.End) {
				return conflict(Conflict{Source: SourceAppointment, Start: a.Start, End: a.End, Reason: "provider already booked", RefID: a.ID}), nil
			}
		}
	}

	for _, b := range g.fetchBusy(ctx, req.ProviderID, req.Start, req.End) {
		if ownEvent(b, req.Exclude) {
			continue
		}
		if model.Overlaps(req.Start, req.End, b.Start, b.End) {
			return conflict(Conflict{Source: SourceExternalCalendar, Start: b.Start, End: b.End, Reason: "busy in external calendar"}), nil
		}
	}
	return Result{Available: true}, nil
}

// fetchBusy never fails: a slow or failing calendar contributes nothing.
func (g *Guard) fetchBusy(ctx context.Context, providerID string, start, end time.Time) []model.BusyInterval {
	if g.busy == nil || providerID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.busyTimeout)
	defer cancel()
	busy, err := g.busy.FetchBusyIntervals(ctx, providerID, start, end)
	if err != nil {
		g.logger.Warn("external busy fetch failed; ignoring", "provider_id", providerID, "err", err)
		return nil
	}
	return busy
}

func ownEvent(b model.BusyInterval, moving []Excluded) bool {
	for _, e := range moving {
		if !e.Span.Start.IsZero() && b.Start.Equal(e.Span.Start) && b.End.Equal(e.Span.End) {
			return true
		}
	}
	return false
}

func blockSource(scope model.BlockScope) Source {
	switch scope.Kind {
	case model.ProviderScope:
		return SourceProviderBlock
	default:
		return SourceTenantBlock
	}
}

func conflict(c Conflict) Result {
	return Result{Available: false, Conflict: &c}
}
