package postgres

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func uniqueViolation(constraint string) error {
	return fmt.Errorf("insert: %w", &pgconn.PgError{
		Code:           "23505",
		ConstraintName: constraint,
	})
}

func TestDuplicateKeyMatchesOnlyIdempotencyConstraint(t *testing.T) {
	if !isDuplicateKey(uniqueViolation("toll_transactions_idempotency_key_key")) {
		t.Fatal("idempotency-key violation not recognized")
	}
	if isDuplicateKey(uniqueViolation("toll_transactions_vehicle_seq_key")) {
		t.Fatal("seq violation misread as a replayed request")
	}
	if isDuplicateKey(uniqueViolation("toll_transactions_pkey")) {
		t.Fatal("primary-key violation misread as a replayed request")
	}
	if isDuplicateKey(fmt.Errorf("connection reset")) {
		t.Fatal("non-pg error misread as a replayed request")
	}
}

func TestSeqCollisionMatchesOnlySeqConstraint(t *testing.T) {
	if !isSeqCollision(uniqueViolation("toll_transactions_vehicle_seq_key")) {
		t.Fatal("seq violation not recognized")
	}
	if isSeqCollision(uniqueViolation("toll_transactions_idempotency_key_key")) {
		t.Fatal("idempotency-key violation misread as a seq collision")
	}
	if isSeqCollision(&pgconn.PgError{Code: "40001", ConstraintName: "toll_transactions_vehicle_seq_key"}) {
		t.Fatal("non-unique-violation code misread as a seq collision")
	}
}
