package model

import (
	"errors"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/recurrence"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrOverlap is returned by storage when the provider time-range
	// exclusion constraint rejects a write.
	ErrOverlap = errors.New("time range overlaps an existing appointment")
	// ErrDuplicate is returned when a dedup unique index rejects a write.
	ErrDuplicate = errors.New("duplicate record")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return s, true
	}
	return "", false
}

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// CanTransition reports whether s may move to next:
// pending -> confirmed -> completed, and pending|confirmed -> cancelled.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCompleted || next == StatusCancelled
	default:
		return false
	}
}

type Appointment struct {
	ID                string
	TenantID          string
	PatientID         string
	ServiceID         string
	ProviderID        string
	Start             time.Time
	End               time.Time
	Status            Status
	IsRecurring       bool
	Rule              *recurrence.Rule
	ParentID          string
	ConfirmationToken string
	ExternalEventID   string
	Notes             string
	CreatedAt         time.Time
}

// SeriesID is the parent's id for any member of a recurring series, and empty
// for a standalone appointment.
func (a Appointment) SeriesID() string {
	if a.ParentID != "" {
		return a.ParentID
	}
	if a.IsRecurring {
		return a.ID
	}
	return ""
}

func (a Appointment) Duration() time.Duration {
	return a.End.Sub(a.Start)
}

// Active appointments occupy their provider's time.
func (a Appointment) Active() bool {
	return a.Status == StatusPending || a.Status == StatusConfirmed
}

// AppointmentChange is one row of an atomic multi-row update. Nil fields are
// left unchanged.
type AppointmentChange struct {
	ID     string
	Status *Status
	Notes  *string
	Start  *time.Time
	End    *time.Time
}
