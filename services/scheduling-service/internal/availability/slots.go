package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// AvailableSlots returns slot start times within [windowStart, windowEnd) where a booking of
// length duration would not overlap any of the busy intervals.
//
// All times are expected to be in the same location (timezone).
func AvailableSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) || windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !overlapsAny(t, t.Add(duration), busy) {
			slots = append(slots, t)
		}
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if model.Overlaps(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}

type SlotRequest struct {
	TenantID   string
	ProviderID string
	From       time.Time
	To         time.Time
	Duration   time.Duration
	Step       time.Duration
}

// FreeSlots gathers every busy interval the guard knows about for the
// provider over [From, To) and returns the slots left free.
func (g *Guard) FreeSlots(ctx context.Context, req SlotRequest, now time.Time) ([]Interval, error) {
	if req.Step <= 0 {
		req.Step = req.Duration
	}
	busy, err := g.busyIntervals(ctx, req.TenantID, req.ProviderID, req.From, req.To)
	if err != nil {
		return nil, err
	}
	starts := AvailableSlots(req.From, req.To, req.Duration, req.Step, busy, now)
	out := make([]Interval, 0, len(starts))
	for _, s := range starts {
		out = append(out, Interval{Start: s, End: s.Add(req.Duration)})
	}
	return out, nil
}

func (g *Guard) busyIntervals(ctx context.Context, tenantID, providerID string, from, to time.Time) ([]Interval, error) {
	var busy []Interval
	scopes := []model.BlockScope{model.TenantWide()}
	if providerID != "" {
		scopes = append(scopes, model.ForProvider(providerID))
	}
	for _, scope := range scopes {
		blocks, err := g.blocks.ListBlocks(ctx, tenantID, scope, from, to)
		if err != nil {
			return nil, fmt.Errorf("list %s blocks: %w", scope.Kind, err)
		}
		for _, b := range blocks {
			busy = append(busy, Interval{Start: b.Start, End: b.End})
		}
	}
	if providerID == "" {
		return busy, nil
	}
	if g.appts != nil {
		appts, err := g.appts.ListProviderAppointments(ctx, tenantID, providerID, from, to)
		if err != nil {
			return nil, fmt.Errorf("list provider appointments: %w", err)
		}
		for _, a := range appts {
			if a.Active() {
				busy = append(busy, Interval{Start: a.Start, End: a.End})
			}
		}
	}
	for _, b := range g.fetchBusy(ctx, providerID, from, to) {
		busy = append(busy, Interval{Start: b.Start, End: b.End})
	}
	return busy, nil
}
