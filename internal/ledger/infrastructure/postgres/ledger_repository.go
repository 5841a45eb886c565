package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	ledger "enp-settlement/internal/ledger/domain"
	"enp-settlement/internal/money"
	registry "enp-settlement/internal/registry/domain"
)

// LedgerRepository persists toll transactions in Postgres. The table
// carries a unique constraint on idempotency_key
// (toll_transactions_idempotency_key_key) and a per-vehicle unique
// constraint on (vehicle_id, seq) (toll_transactions_vehicle_seq_key).
type LedgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository constructs a ledger repository.
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const transactionColumns = `id, vehicle_id, tag_id, kind, amount_minor, balance_before_minor, balance_after_minor,
	status, checkpoint_id, payment_method, idempotency_key, seq, needs_reconciliation, created_at`

const insertTransactionSQL = `
INSERT INTO toll_transactions (
	id, vehicle_id, tag_id, kind, amount_minor, balance_before_minor, balance_after_minor,
	status, checkpoint_id, payment_method, idempotency_key, seq, needs_reconciliation, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,
	(SELECT COALESCE(MAX(seq), 0) + 1 FROM toll_transactions WHERE vehicle_id = $2),
	$12,$13
)
RETURNING seq`

const maxSeqRetries = 5

// Append writes one transaction, assigning the next per-vehicle
// sequence. A duplicate idempotency key yields ErrDuplicateKey.
// Concurrent appends for the same vehicle can compute the same seq;
// those collide on the (vehicle_id, seq) constraint and are retried
// here rather than surfacing as duplicates.
func (r *LedgerRepository) Append(ctx context.Context, txn *ledger.Transaction) (*ledger.Transaction, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ledger repo: nil db")
	}
	if txn == nil {
		return nil, errors.New("ledger repo: nil transaction")
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	for attempt := 0; attempt < maxSeqRetries; attempt++ {
		row := r.db.QueryRowContext(ctx, insertTransactionSQL,
			txn.ID, txn.VehicleID, txn.TagID, txn.Kind, txn.Amount.Minor(), txn.BalanceBefore.Minor(), txn.BalanceAfter.Minor(),
			txn.Status, txn.CheckpointID, txn.PaymentMethod, txn.IdempotencyKey, txn.NeedsReconciliation, txn.CreatedAt)
		err := row.Scan(&txn.Seq)
		if err == nil {
			return txn, nil
		}
		if isDuplicateKey(err) {
			return nil, ledger.ErrDuplicateKey
		}
		if isSeqCollision(err) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("ledger repo: seq contention for vehicle %q", txn.VehicleID)
}

// AppendWithBalanceDelta applies the conditional balance update and
// the ledger insert in a single commit, so a crash between the two
// can never leave a mutated balance without its ledger row. A stale
// expected balance returns ErrBalanceConflict; a seq collision rolls
// back and is reported as ErrBalanceConflict too, since re-reading
// the vehicle and retrying the attempt resolves both the same way.
func (r *LedgerRepository) AppendWithBalanceDelta(ctx context.Context, txn *ledger.Transaction, delta, expected money.Amount) (*ledger.Transaction, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ledger repo: nil db")
	}
	if txn == nil || txn.VehicleID == "" {
		return nil, errors.New("ledger repo: nil or unkeyed transaction")
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
UPDATE vehicles
SET balance_minor = balance_minor + $1, updated_at = $2
WHERE id = $3 AND balance_minor = $4`, delta.Minor(), txn.CreatedAt, txn.VehicleID, expected.Minor())
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, registry.ErrBalanceConflict
	}

	row := tx.QueryRowContext(ctx, insertTransactionSQL,
		txn.ID, txn.VehicleID, txn.TagID, txn.Kind, txn.Amount.Minor(), txn.BalanceBefore.Minor(), txn.BalanceAfter.Minor(),
		txn.Status, txn.CheckpointID, txn.PaymentMethod, txn.IdempotencyKey, txn.NeedsReconciliation, txn.CreatedAt)
	if err := row.Scan(&txn.Seq); err != nil {
		if isDuplicateKey(err) {
			return nil, ledger.ErrDuplicateKey
		}
		if isSeqCollision(err) {
			return nil, registry.ErrBalanceConflict
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return txn, nil
}

// FindByIdempotencyKey loads the stored outcome for a key.
func (r *LedgerRepository) FindByIdempotencyKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ledger repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+transactionColumns+`
FROM toll_transactions
WHERE idempotency_key = $1
LIMIT 1`, key)
	return scanTransaction(row)
}

// History lists a vehicle's transactions in sequence order, newest
// first, optionally filtered by kind.
func (r *LedgerRepository) History(ctx context.Context, vehicleID string, limit int, kind string) ([]ledger.Transaction, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ledger repo: nil db")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
SELECT ` + transactionColumns + `
FROM toll_transactions
WHERE vehicle_id = $1`
	args := []any{vehicleID}
	if kind != "" {
		query += ` AND kind = $2`
		args = append(args, kind)
	}
	query += fmt.Sprintf(` ORDER BY seq DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledger.Transaction
	for rows.Next() {
		txn, err := scanTransactionRows(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, txn)
	}
	return result, rows.Err()
}

// SumSignedDeltas replays all of a vehicle's transactions and returns
// the net balance change, the auditability check against the stored
// balance.
func (r *LedgerRepository) SumSignedDeltas(ctx context.Context, vehicleID string) (money.Amount, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("ledger repo: nil db")
	}
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
SELECT SUM(CASE
	WHEN status = $1 AND kind = $2 THEN -amount_minor
	WHEN status = $1 THEN amount_minor
	ELSE 0
END)
FROM toll_transactions
WHERE vehicle_id = $3`, ledger.StatusSuccess, ledger.KindTollCharge, vehicleID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return money.FromMinor(total.Int64), nil
}

// CountRecentDeclines returns the number of consecutive
// insufficient-funds declines at the head of the vehicle's history
// within the window.
func (r *LedgerRepository) CountRecentDeclines(ctx context.Context, vehicleID string, window time.Duration) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("ledger repo: nil db")
	}
	since := time.Now().UTC().Add(-window)
	rows, err := r.db.QueryContext(ctx, `
SELECT status
FROM toll_transactions
WHERE vehicle_id = $1 AND kind = $2 AND created_at >= $3
ORDER BY seq DESC`, vehicleID, ledger.KindTollCharge, since)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return 0, err
		}
		if status != ledger.StatusDeclinedInsufficient {
			break
		}
		count++
	}
	return count, rows.Err()
}

// ListNeedingReconciliation returns recharge transactions flagged for
// replay after a payment-captured-but-credit-failed outcome.
func (r *LedgerRepository) ListNeedingReconciliation(ctx context.Context, limit int) ([]ledger.Transaction, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ledger repo: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+transactionColumns+`
FROM toll_transactions
WHERE needs_reconciliation AND kind = $1 AND status = $2
ORDER BY created_at ASC
LIMIT $3`, ledger.KindRecharge, ledger.StatusFailed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledger.Transaction
	for rows.Next() {
		txn, err := scanTransactionRows(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, txn)
	}
	return result, rows.Err()
}

// MarkReconciled clears the reconciliation flag after a successful replay.
func (r *LedgerRepository) MarkReconciled(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("ledger repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE toll_transactions
SET needs_reconciliation = FALSE
WHERE id = $1`, id)
	return err
}

func scanTransaction(row *sql.Row) (*ledger.Transaction, error) {
	var t ledger.Transaction
	var amount, before, after int64
	err := row.Scan(&t.ID, &t.VehicleID, &t.TagID, &t.Kind, &amount, &before, &after,
		&t.Status, &t.CheckpointID, &t.PaymentMethod, &t.IdempotencyKey, &t.Seq, &t.NeedsReconciliation, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Amount = money.FromMinor(amount)
	t.BalanceBefore = money.FromMinor(before)
	t.BalanceAfter = money.FromMinor(after)
	return &t, nil
}

func scanTransactionRows(rows *sql.Rows) (ledger.Transaction, error) {
	var t ledger.Transaction
	var amount, before, after int64
	err := rows.Scan(&t.ID, &t.VehicleID, &t.TagID, &t.Kind, &amount, &before, &after,
		&t.Status, &t.CheckpointID, &t.PaymentMethod, &t.IdempotencyKey, &t.Seq, &t.NeedsReconciliation, &t.CreatedAt)
	if err != nil {
		return ledger.Transaction{}, err
	}
	t.Amount = money.FromMinor(amount)
	t.BalanceBefore = money.FromMinor(before)
	t.BalanceAfter = money.FromMinor(after)
	return t, nil
}

// isDuplicateKey matches only the idempotency-key constraint. Other
// unique violations (notably the per-vehicle seq constraint) must not
// be mistaken for a replayed request.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" &&
		strings.Contains(pgErr.ConstraintName, "idempotency_key")
}

func isSeqCollision(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" &&
		strings.Contains(pgErr.ConstraintName, "seq")
}

