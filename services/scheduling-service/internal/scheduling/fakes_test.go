package scheduling

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/runtime"
	"github.com/md-rashed-zaman/clinicsched/libs/token"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/calendar"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

type memStore struct {
	mu        sync.Mutex
	rows      map[string]model.Appointment
	order     []string
	failOn    map[time.Time]error
	applied   [][]model.AppointmentChange
	exclusive bool
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]model.Appointment{}, failOn: map[time.Time]error{}}
}

func (m *memStore) ListProviderAppointments(_ context.Context, tenantID, providerID string, start, end time.Time) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, id := range m.order {
		a := m.rows[id]
		if a.TenantID == tenantID && a.ProviderID == providerID && a.Active() && model.Overlaps(a.Start, a.End, start, end) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) Get(_ context.Context, tenantID, id string) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok || a.TenantID != tenantID {
		return model.Appointment{}, model.ErrNotFound
	}
	return a, nil
}

func (m *memStore) Insert(_ context.Context, appt model.Appointment) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[appt.Start]; err != nil {
		return model.Appointment{}, err
	}
	if m.exclusive {
		for _, a := range m.rows {
			if a.ProviderID == appt.ProviderID && a.Active() && model.Overlaps(a.Start, a.End, appt.Start, appt.End) {
				return model.Appointment{}, model.ErrOverlap
			}
		}
	}
	appt.CreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.rows[appt.ID] = appt
	m.order = append(m.order, appt.ID)
	return appt, nil
}

func (m *memStore) UpdateTimes(_ context.Context, tenantID, id string, start, end time.Time) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok || a.TenantID != tenantID {
		return model.Appointment{}, model.ErrNotFound
	}
	a.Start, a.End = start, end
	m.rows[id] = a
	return a, nil
}

func (m *memStore) ApplyChanges(_ context.Context, tenantID string, changes []model.AppointmentChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range changes {
		if a, ok := m.rows[c.ID]; !ok || a.TenantID != tenantID {
			return model.ErrNotFound
		}
	}
	for _, c := range changes {
		a := m.rows[c.ID]
		if c.Status != nil {
			a.Status = *c.Status
		}
		if c.Notes != nil {
			a.Notes = *c.Notes
		}
		if c.Start != nil {
			a.Start = *c.Start
		}
		if c.End != nil {
			a.End = *c.End
		}
		m.rows[c.ID] = a
	}
	m.applied = append(m.applied, changes)
	return nil
}

func (m *memStore) Delete(_ context.Context, tenantID string, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		if a, ok := m.rows[id]; ok && a.TenantID == tenantID {
			delete(m.rows, id)
			n++
		}
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if _, ok := m.rows[id]; ok {
			kept = append(kept, id)
		}
	}
	m.order = kept
	return n, nil
}

func (m *memStore) ListSeries(_ context.Context, tenantID, seriesID string) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, a := range m.rows {
		if a.TenantID == tenantID && (a.ID == seriesID || a.ParentID == seriesID) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *memStore) ListRange(_ context.Context, tenantID, providerID string, start, end time.Time) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, id := range m.order {
		a := m.rows[id]
		if a.TenantID == tenantID && (providerID == "" || a.ProviderID == providerID) && model.Overlaps(a.Start, a.End, start, end) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) SetExternalEventID(_ context.Context, _ string, id, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.rows[id]
	a.ExternalEventID = eventID
	m.rows[id] = a
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memBlocks struct {
	blocks []model.AvailabilityBlock
}

func (b *memBlocks) ListBlocks(_ context.Context, tenantID string, scope model.BlockScope, start, end time.Time) ([]model.AvailabilityBlock, error) {
	var out []model.AvailabilityBlock
	for _, blk := range b.blocks {
		if blk.TenantID == tenantID && blk.Scope == scope && model.Overlaps(blk.Start, blk.End, start, end) {
			out = append(out, blk)
		}
	}
	return out, nil
}

func (b *memBlocks) CreateBlock(_ context.Context, block model.AvailabilityBlock) (model.AvailabilityBlock, error) {
	b.blocks = append(b.blocks, block)
	return block, nil
}

func (b *memBlocks) DeleteBlock(_ context.Context, tenantID, id string) error {
	for i, blk := range b.blocks {
		if blk.ID == id && blk.TenantID == tenantID {
			b.blocks = append(b.blocks[:i], b.blocks[i+1:]...)
			return nil
		}
	}
	return model.ErrNotFound
}

type fakeCalendar struct {
	busy      []model.BusyInterval
	busyErr   error
	exportErr error
	exported  []string
}

func (f *fakeCalendar) FetchBusyIntervals(context.Context, string, time.Time, time.Time) ([]model.BusyInterval, error) {
	return f.busy, f.busyErr
}

func (f *fakeCalendar) ExportAppointment(_ context.Context, _ string, appt model.Appointment) (string, bool, error) {
	if f.exportErr != nil {
		return "", false, f.exportErr
	}
	f.exported = append(f.exported, appt.ID)
	return "evt-" + appt.ID, true, nil
}

var _ calendar.Provider = (*fakeCalendar)(nil)

type fixture struct {
	svc    *Service
	store  *memStore
	blocks *memBlocks
	cal    *fakeCalendar
	tokens *token.Signer
}

func newFixture() *fixture {
	store := newMemStore()
	blocks := &memBlocks{}
	cal := &fakeCalendar{}
	tokens := token.NewSigner("confirm-secret", 24*time.Hour)
	guard := availability.NewGuard(blocks, store, cal, runtime.NopLogger(), availability.GuardConfig{})
	svc := NewService(store, blocks, guard, cal, tokens, runtime.NopLogger(), Config{})
	n := 0
	svc.newID = func() string {
		n++
		return "appt-" + strconv.Itoa(n)
	}
	return &fixture{svc: svc, store: store, blocks: blocks, cal: cal, tokens: tokens}
}

var errBoom = errors.New("boom")

func at(day, h int) time.Time {
	return time.Date(2025, 3, day, h, 0, 0, 0, time.UTC)
}
