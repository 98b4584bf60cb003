// Package calendar talks to a provider's external calendar: reading busy time
// and exporting booked appointments.
package calendar

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

type Provider interface {
	FetchBusyIntervals(ctx context.Context, providerID string, start, end time.Time) ([]model.BusyInterval, error)
	// ExportAppointment returns the external event id. ok is false when the
	// provider has no connected calendar.
	ExportAppointment(ctx context.Context, providerID string, appt model.Appointment) (eventID string, ok bool, err error)
}

// Disabled is used when no calendar adapter is configured.
type Disabled struct{}

func (Disabled) FetchBusyIntervals(context.Context, string, time.Time, time.Time) ([]model.BusyInterval, error) {
	return nil, nil
}

func (Disabled) ExportAppointment(context.Context, string, model.Appointment) (string, bool, error) {
	return "", false, nil
}
