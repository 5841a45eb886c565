package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTagViolationMatchesOnlyTagConstraint(t *testing.T) {
	tagErr := fmt.Errorf("insert: %w", &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "vehicles_active_rfid_tag_key",
	})
	if !isTagViolation(tagErr) {
		t.Fatal("rfid-tag violation not recognized")
	}
	if isTagViolation(&pgconn.PgError{Code: "23505", ConstraintName: "vehicles_pkey"}) {
		t.Fatal("primary-key violation misread as a taken tag")
	}
	if isTagViolation(errors.New("connection reset")) {
		t.Fatal("non-pg error misread as a taken tag")
	}
	if isTagViolation(nil) {
		t.Fatal("nil error misread as a taken tag")
	}
}
