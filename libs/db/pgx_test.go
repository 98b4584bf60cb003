package db

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	exclusion := &pgconn.PgError{Code: "23P01"}

	assert.True(t, IsUniqueViolation(unique))
	assert.False(t, IsExclusionViolation(unique))
	assert.True(t, IsExclusionViolation(exclusion))
	assert.True(t, IsNotFound(fmt.Errorf("load: %w", pgx.ErrNoRows)))
	assert.False(t, IsNotFound(exclusion))
}
