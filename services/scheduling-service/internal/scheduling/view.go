package scheduling

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

type EntryKind string

const (
	EntryAppointment EntryKind = "appointment"
	EntryBlock       EntryKind = "block"
	EntryExternal    EntryKind = "external"
)

// CalendarEntry is one item of the calendar view. Only appointment entries
// carry a real appointment id; the others use synthetic ids.
type CalendarEntry struct {
	ID          string
	Kind        EntryKind
	Start       time.Time
	End         time.Time
	Title       string
	ProviderID  string
	Appointment *model.Appointment
}

// CalendarView merges appointments, blocks and (best-effort) external busy
// time for [start, end), ordered by start.
func (s *Service) CalendarView(ctx context.Context, tenantID, providerID string, start, end time.Time) ([]CalendarEntry, error) {
	if !end.After(start) {
		return nil, invalid("to", "must be after from")
	}
	appts, err := s.store.ListRange(ctx, tenantID, providerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	entries := make([]CalendarEntry, 0, len(appts))
	exported := map[[2]int64]bool{}
	for i := range appts {
		a := appts[i]
		entries = append(entries, CalendarEntry{
			ID:          a.ID,
			Kind:        EntryAppointment,
			Start:       a.Start,
			End:         a.End,
			Title:       string(a.Status),
			ProviderID:  a.ProviderID,
			Appointment: &a,
		})
		if a.ExternalEventID != "" {
			exported[[2]int64{a.Start.Unix(), a.End.Unix()}] = true
		}
	}

	scopes := []model.BlockScope{model.TenantWide()}
	if providerID != "" {
		scopes = append(scopes, model.ForProvider(providerID))
	}
	for _, scope := range scopes {
		blocks, err := s.blocks.ListBlocks(ctx, tenantID, scope, start, end)
		if err != nil {
			return nil, fmt.Errorf("list blocks: %w", err)
		}
		for _, b := range blocks {
			entries = append(entries, CalendarEntry{
				ID:         BlockEntryID(b.ID),
				Kind:       EntryBlock,
				Start:      b.Start,
				End:        b.End,
				Title:      b.Reason,
				ProviderID: b.Scope.ProviderID,
			})
		}
	}

	if providerID != "" {
		ctx, cancel := context.WithTimeout(ctx, s.exportTimeout)
		busy, err := s.calendar.FetchBusyIntervals(ctx, providerID, start, end)
		cancel()
		if err != nil {
			s.logger.Warn("external busy fetch failed; calendar view without it", "provider_id", providerID, "err", err)
			busy = nil
		}
		for i, b := range busy {
			if exported[[2]int64{b.Start.Unix(), b.End.Unix()}] {
				continue
			}
			entries = append(entries, CalendarEntry{
				ID:         ExternalEntryID(providerID, i),
				Kind:       EntryExternal,
				Start:      b.Start,
				End:        b.End,
				Title:      "Busy",
				ProviderID: providerID,
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Start.Before(entries[j].Start) })
	return entries, nil
}

func (s *Service) CreateBlock(ctx context.Context, block model.AvailabilityBlock) (model.AvailabilityBlock, error) {
	switch {
	case strings.TrimSpace(block.TenantID) == "":
		return model.AvailabilityBlock{}, invalid("tenant_id", "required")
	case !block.End.After(block.Start):
		return model.AvailabilityBlock{}, invalid("end_time", "must be after start_time")
	case block.Scope.Kind == model.ProviderScope && strings.TrimSpace(block.Scope.ProviderID) == "":
		return model.AvailabilityBlock{}, invalid("provider_id", "required for a provider block")
	}
	block.ID = s.newID()
	created, err := s.blocks.CreateBlock(ctx, block)
	if err != nil {
		return model.AvailabilityBlock{}, fmt.Errorf("create block: %w", err)
	}
	return created, nil
}

// DeleteBlock accepts either the block id or its calendar entry id.
func (s *Service) DeleteBlock(ctx context.Context, tenantID, id string) error {
	id = strings.TrimPrefix(id, blockEntryPrefix)
	if err := s.blocks.DeleteBlock(ctx, tenantID, id); err != nil {
		return fmt.Errorf("delete block %s: %w", id, err)
	}
	return nil
}

func (s *Service) ListBlocks(ctx context.Context, tenantID string, scope model.BlockScope, start, end time.Time) ([]model.AvailabilityBlock, error) {
	if !end.After(start) {
		return nil, invalid("to", "must be after from")
	}
	return s.blocks.ListBlocks(ctx, tenantID, scope, start, end)
}
