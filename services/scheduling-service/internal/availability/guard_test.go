package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/runtime"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlocks struct {
	blocks []model.AvailabilityBlock
	calls  []model.BlockScope
	err    error
}

func (f *fakeBlocks) ListBlocks(_ context.Context, tenantID string, scope model.BlockScope, start, end time.Time) ([]model.AvailabilityBlock, error) {
	f.calls = append(f.calls, scope)
	if f.err != nil {
		return nil, f.err
	}
	var out []model.AvailabilityBlock
	for _, b := range f.blocks {
		if b.TenantID == tenantID && b.Scope == scope {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakeAppointments struct {
	appts []model.Appointment
}

func (f *fakeAppointments) ListProviderAppointments(_ context.Context, tenantID, providerID string, _, _ time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appts {
		if a.TenantID == tenantID && a.ProviderID == providerID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeBusy struct {
	busy  []model.BusyInterval
	err   error
	delay time.Duration
	calls int
}

func (f *fakeBusy) FetchBusyIntervals(ctx context.Context, _ string, _, _ time.Time) ([]model.BusyInterval, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.busy, f.err
}

func at(h, m int) time.Time {
	return time.Date(2025, 3, 3, h, m, 0, 0, time.UTC)
}

func TestCheck_BlockOverlapConfigurations(t *testing.T) {
	block := model.AvailabilityBlock{ID: "b1", TenantID: "t1", Scope: model.TenantWide(), Start: at(10, 0), End: at(11, 0), Reason: "staff meeting"}
	g := NewGuard(&fakeBlocks{blocks: []model.AvailabilityBlock{block}}, nil, nil, runtime.NopLogger(), GuardConfig{})

	overlapping := map[string][2]time.Time{
		"contains":      {at(9, 30), at(11, 30)},
		"contained-by":  {at(10, 15), at(10, 45)},
		"left-overlap":  {at(9, 30), at(10, 30)},
		"right-overlap": {at(10, 30), at(11, 30)},
		"identical":     {at(10, 0), at(11, 0)},
	}
	for name, w := range overlapping {
		res, err := g.Check(context.Background(), CheckRequest{TenantID: "t1", Start: w[0], End: w[1]})
		require.NoError(t, err, name)
		require.False(t, res.Available, name)
		assert.Equal(t, SourceTenantBlock, res.Conflict.Source, name)
		assert.Equal(t, "staff meeting", res.Conflict.Reason, name)
		assert.Contains(t, res.Conflict.Message(), "staff meeting", name)
	}

	touching := map[string][2]time.Time{
		"ends at block start":   {at(9, 0), at(10, 0)},
		"starts at block end":   {at(11, 0), at(12, 0)},
		"other tenant, overlap": {at(10, 0), at(11, 0)},
	}
	for name, w := range touching {
		tenant := "t1"
		if name == "other tenant, overlap" {
			tenant = "t2"
		}
		res, err := g.Check(context.Background(), CheckRequest{TenantID: tenant, Start: w[0], End: w[1]})
		require.NoError(t, err, name)
		assert.True(t, res.Available, name)
		assert.Nil(t, res.Conflict, name)
	}
}

func TestCheck_OrderTenantBeforeProvider(t *testing.T) {
	blocks := &fakeBlocks{blocks: []model.AvailabilityBlock{
		{ID: "p", TenantID: "t1", Scope: model.ForProvider("dr-1"), Start: at(10, 0), End: at(11, 0), Reason: "leave"},
		{ID: "t", TenantID: "t1", Scope: model.TenantWide(), Start: at(10, 0), End: at(11, 0), Reason: "holiday"},
	}}
	busy := &fakeBusy{}
	g := NewGuard(blocks, nil, busy, runtime.NopLogger(), GuardConfig{})

	res, err := g.Check(context.Background(), CheckRequest{TenantID: "t1", ProviderID: "dr-1", Start: at(10, 0), End: at(10, 30)})
	require.NoError(t, err)
	require.False(t, res.Available)
	assert.Equal(t, SourceTenantBlock, res.Conflict.Source)
	assert.Len(t, blocks.calls, 1, "first hit short-circuits")
	assert.Zero(t, busy.calls)

	res, err = g.Check(context.Background(), CheckRequest{TenantID: "t1", ProviderID: "dr-2", Start: at(10, 0), End: at(10, 30)})
	require.NoError(t, err)
	assert.Equal(t, SourceTenantBlock, res.Conflict.Source)

	blocks.blocks = blocks.blocks[:1]
	res, err = g.Check(context.Background(), CheckRequest{TenantID: "t1", ProviderID: "dr-1", Start: at(10, 0), End: at(10, 30)})
	require.NoError(t, err)
	assert.Equal(t, SourceProviderBlock, res.Conflict.Source)
	assert.Equal(t, "p", res.Conflict.RefID)
}

func TestCheck_ProviderAppointmentsExcludeOwnRow(t *testing.T) {
	appts := &fakeAppointments{appts: []model.Appointment{
		{ID: "a1", TenantID: "t1", ProviderID: "dr-1", Start: at(9, 0), End: at(10, 0), Status: model.StatusConfirmed},
		{ID: "a2", TenantID: "t1", ProviderID: "dr-1", Start: at(12, 0), End: at(13, 0), Status: model.StatusCancelled},
	}}
	busy := &fakeBusy{busy: []model.BusyInterval{{Start: at(9, 0), End: at(10, 0)}}}
	g := NewGuard(&fakeBlocks{}, appts, busy, runtime.NopLogger(), GuardConfig{})

	res, err := g.Check(context.Background(), CheckRequest{TenantID: "t1", ProviderID: "dr-1", Start: at(9, 30), End: at(10, 30)})
	require.NoError(t, err)
	require.False(t, res.Available)
	assert.Equal(t, SourceAppointment, res.Conflict.Source)

	// Moving a1 by 30 minutes only overlaps its own slot and its own exported event.
	res, err = g.Check(context.Background(), CheckRequest{
		TenantID: "t1", ProviderID: "dr-1", Start: at(9, 30), End: at(10, 30),
		Exclude: []Excluded{{ID: "a1", Span: Interval{Start: at(9, 0), End: at(10, 0)}}},
	})
	require.NoError(t, err)
	assert.True(t, res.Available)

	res, err = g.Check(context.Background(), CheckRequest{TenantID: "t1", ProviderID: "dr-1", Start: at(12, 0), End: at(13, 0)})
	require.NoError(t, err)
	assert.True(t, res.Available, "cancelled appointments do not block")
}

func TestCheck_ExternalBusy(t *testing.T) {
	busy := &fakeBusy{busy: []model.BusyInterval{{Start: at(14, 0), End: at(15, 0)}}}
	g := NewGuard(&fakeBlocks{}, nil, busy, runtime.NopLogger(), GuardConfig{})

	res, err := g.Check(context.Background(), CheckRequest{TenantID: "t1", ProviderID: "dr-1", Start: at(14, 30), End: at(15, 30)})
	require.NoError(t, err)
	require.False(t, res.Available)
	assert.Equal(t, SourceExternalCalendar, res.Conflict.Source)

	res, err = g.Check(context.Background(), CheckRequest{TenantID: "t1", Start: at(14, 30), End: at(15, 30)})
	require.NoError(t, err)
	assert.True(t, res.Available, "no provider means no external lookup")
}

func TestCheck_ExternalFailureDegrades(t *testing.T) {
	failing := &fakeBusy{busy: []model.BusyInterval{{Start: at(14, 0), End: at(15, 0)}}, err: errors.New("calendar down")}
	g := NewGuard(&fakeBlocks{}, nil, failing, runtime.NopLogger(), GuardConfig{})
	res, err := g.Check(context.Background(), CheckRequest{TenantID: "t1", ProviderID: "dr-1", Start: at(14, 0), End: at(15, 0)})
	require.NoError(t, err)
	assert.True(t, res.Available)

	slow := &fakeBusy{busy: []model.BusyInterval{{Start: at(14, 0), End: at(15, 0)}}, delay: time.Second}
	g = NewGuard(&fakeBlocks{}, nil, slow, runtime.NopLogger(), GuardConfig{BusyTimeout: 20 * time.Millisecond})
	res, err = g.Check(context.Background(), CheckRequest{TenantID: "t1", ProviderID: "dr-1", Start: at(14, 0), End: at(15, 0)})
	require.NoError(t, err)
	assert.True(t, res.Available)
}

func TestCheck_StoreErrorIsReturned(t *testing.T) {
	g := NewGuard(&fakeBlocks{err: errors.New("db down")}, nil, nil, runtime.NopLogger(), GuardConfig{})
	_, err := g.Check(context.Background(), CheckRequest{TenantID: "t1", Start: at(9, 0), End: at(10, 0)})
	require.Error(t, err)
}

func TestFreeSlots_SubtractsEverySource(t *testing.T) {
	blocks := &fakeBlocks{blocks: []model.AvailabilityBlock{
		{ID: "b", TenantID: "t1", Scope: model.ForProvider("dr-1"), Start: at(9, 0), End: at(9, 30)},
	}}
	appts := &fakeAppointments{appts: []model.Appointment{
		{ID: "a", TenantID: "t1", ProviderID: "dr-1", Start: at(10, 0), End: at(10, 30), Status: model.StatusPending},
	}}
	busy := &fakeBusy{busy: []model.BusyInterval{{Start: at(11, 0), End: at(11, 30)}}}
	g := NewGuard(blocks, appts, busy, runtime.NopLogger(), GuardConfig{})

	slots, err := g.FreeSlots(context.Background(), SlotRequest{
		TenantID: "t1", ProviderID: "dr-1", From: at(9, 0), To: at(12, 0), Duration: 30 * time.Minute,
	}, at(0, 0))
	require.NoError(t, err)
	var starts []time.Time
	for _, s := range slots {
		starts = append(starts, s.Start)
	}
	assert.Equal(t, []time.Time{at(9, 30), at(10, 30), at(11, 30)}, starts)
}
