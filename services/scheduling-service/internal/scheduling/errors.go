package scheduling

import (
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

var (
	ErrSyntheticEntry = errors.New("calendar entry is a block or external busy time, not an appointment")
	ErrInvalidToken   = errors.New("invalid confirmation token")
)

// ConflictError means the requested window is taken. Nothing was written.
type ConflictError struct {
	Conflict availability.Conflict
}

func (e *ConflictError) Error() string {
	return e.Conflict.Message()
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

type InvalidStateError struct {
	AppointmentID string
	Status        model.Status
	Action        string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("appointment %s is %s and cannot be %s", e.AppointmentID, e.Status, e.Action)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
