package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// SeriesUpdate is applied to every row a scope selects. Zero fields are left
// alone; Shift moves both start and end.
type SeriesUpdate struct {
	Status *model.Status
	Notes  *string
	Shift  time.Duration
}

func (u SeriesUpdate) empty() bool {
	return u.Status == nil && u.Notes == nil && u.Shift == 0
}

type SeriesResult struct {
	Scope    Scope
	Affected int
	Skipped  int
	IDs      []string
}

// UpdateSeries applies upd to the rows selected by scope. Rows the update
// cannot apply to (an invalid status transition, or a shift of a terminal
// row) are skipped and counted; with ScopeThisOnly that is an
// InvalidStateError instead. Every shifted row is checked for availability
// before anything is written, and all changes are written atomically.
func (s *Service) UpdateSeries(ctx context.Context, tenantID, id string, scope Scope, upd SeriesUpdate) (SeriesResult, error) {
	if IsSynthetic(id) {
		return SeriesResult{}, ErrSyntheticEntry
	}
	if upd.empty() {
		return SeriesResult{}, invalid("", "nothing to update")
	}
	if upd.Status != nil {
		if _, ok := model.ParseStatus(string(*upd.Status)); !ok {
			return SeriesResult{}, invalid("status", "unknown status %q", *upd.Status)
		}
	}
	rows, err := s.selectScope(ctx, tenantID, id, scope)
	if err != nil {
		return SeriesResult{}, err
	}

	result := SeriesResult{Scope: scope}
	changes := make([]model.AppointmentChange, 0, len(rows))
	var (
		shifted []model.Appointment
		moving  []availability.Excluded
	)
	for _, row := range rows {
		if action, ok := applicable(row, upd); !ok {
			if scope == ScopeThisOnly {
				return SeriesResult{}, &InvalidStateError{AppointmentID: row.ID, Status: row.Status, Action: action}
			}
			result.Skipped++
			continue
		}
		change := model.AppointmentChange{ID: row.ID, Status: upd.Status, Notes: upd.Notes}
		if upd.Shift != 0 {
			moved := row
			moved.Start, moved.End = row.Start.Add(upd.Shift), row.End.Add(upd.Shift)
			change.Start, change.End = &moved.Start, &moved.End
			shifted = append(shifted, moved)
			moving = append(moving, availability.Excluded{ID: row.ID, Span: availability.Interval{Start: row.Start, End: row.End}})
		}
		changes = append(changes, change)
		result.IDs = append(result.IDs, row.ID)
	}

	// Rows shifted together may pass through each other's current slots.
	for _, moved := range shifted {
		if err := s.ensureAvailable(ctx, moved, moving...); err != nil {
			return SeriesResult{}, err
		}
	}

	if len(changes) == 0 {
		return result, nil
	}
	if err := s.store.ApplyChanges(ctx, tenantID, changes); err != nil {
		return SeriesResult{}, s.mapWriteError(rows[0], err)
	}
	result.Affected = len(changes)
	return result, nil
}

// DeleteSeries removes the rows selected by scope. Removing the parent alone
// leaves its children in place, still grouped under the parent's id.
func (s *Service) DeleteSeries(ctx context.Context, tenantID, id string, scope Scope) (SeriesResult, error) {
	if IsSynthetic(id) {
		return SeriesResult{}, ErrSyntheticEntry
	}
	rows, err := s.selectScope(ctx, tenantID, id, scope)
	if err != nil {
		return SeriesResult{}, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	n, err := s.store.Delete(ctx, tenantID, ids)
	if err != nil {
		return SeriesResult{}, fmt.Errorf("delete appointments: %w", err)
	}
	return SeriesResult{Scope: scope, Affected: n, IDs: ids}, nil
}

// selectScope resolves scope relative to the target row:
// this_only is the row itself; this_and_future is every series member
// starting at or after the target's current start; all is the whole series.
func (s *Service) selectScope(ctx context.Context, tenantID, id string, scope Scope) ([]model.Appointment, error) {
	if _, ok := ParseScope(string(scope)); !ok || scope == "" {
		return nil, invalid("scope", "unknown scope %q", scope)
	}
	target, err := s.get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	seriesID := target.SeriesID()
	if scope == ScopeThisOnly || seriesID == "" {
		return []model.Appointment{target}, nil
	}

	members, err := s.store.ListSeries(ctx, tenantID, seriesID)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	if scope == ScopeAll {
		return members, nil
	}
	out := make([]model.Appointment, 0, len(members))
	for _, m := range members {
		if !m.Start.Before(target.Start) {
			out = append(out, m)
		}
	}
	return out, nil
}

// applicable reports whether upd can be applied to row, and otherwise the
// action that was refused.
func applicable(row model.Appointment, upd SeriesUpdate) (string, bool) {
	if upd.Status != nil && !row.Status.CanTransition(*upd.Status) {
		return "set to " + string(*upd.Status), false
	}
	if upd.Shift != 0 && row.Status.Terminal() {
		return "moved", false
	}
	return "", true
}
