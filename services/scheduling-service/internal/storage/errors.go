// Package storage is the PostgreSQL implementation of the scheduling,
// availability and reminder stores. Every row change that other services
// care about writes an outbox event in the same transaction.
package storage

import (
	"fmt"

	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// mapError translates driver errors into the model sentinels callers match on.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNotFound(err):
		return model.ErrNotFound
	case db.IsExclusionViolation(err):
		return fmt.Errorf("%s: %w", op, model.ErrOverlap)
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, model.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}
