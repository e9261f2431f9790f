package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pharmasave-core/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PostgresStore implements Store on Postgres.
//
// It assumes the following tables exist:
// - accounts
// - postings (immutable append-only)
// - account_balances (projection)
//
// Serialization strategy: every ApplyPostings locks the touched
// account_balances rows with SELECT ... FOR UPDATE in sorted id order, so
// concurrent settlements against the same account serialize at the store and
// the balance check always sees the freshest committed value. Sorted order
// avoids lock-order deadlocks between overlapping posting sets.
type PostgresStore struct {
	db        *sql.DB
	txTimeout time.Duration
	clock     func() time.Time
}

func NewPostgresStore(db *sql.DB, txTimeout time.Duration) *PostgresStore {
	if txTimeout <= 0 {
		txTimeout = 5 * time.Second
	}
	return &PostgresStore{db: db, txTimeout: txTimeout, clock: time.Now}
}

func (s *PostgresStore) Account(ctx context.Context, accountID string) (Account, error) {
	const q = `
SELECT id, COALESCE(pharmacy_id, ''), kind, currency, created_at
FROM accounts
WHERE id = $1
`
	var a Account
	if err := s.db.QueryRowContext(ctx, q, accountID).Scan(
		&a.ID,
		&a.PharmacyID,
		&a.Kind,
		&a.Currency,
		&a.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}
		return Account{}, err
	}
	return a, nil
}

func (s *PostgresStore) Balance(ctx context.Context, accountID string) (Balance, error) {
	const q = `
SELECT account_id, currency, balance, updated_at
FROM account_balances
WHERE account_id = $1
`
	var b Balance
	if err := s.db.QueryRowContext(ctx, q, accountID).Scan(
		&b.AccountID,
		&b.Currency,
		&b.Amount,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}
		return Balance{}, err
	}
	return b, nil
}

func (s *PostgresStore) ApplyPostings(ctx context.Context, postings []Posting) ([]Balance, error) {
	if err := validatePostings(postings); err != nil {
		return nil, err
	}

	deltas := netDeltas(postings)
	ids := touchedAccounts(deltas)
	now := s.clock().UTC()

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var out []Balance
	err := utils.WithTx(txCtx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock balances in sorted order and re-read the freshest values.
		current := make(map[string]decimal.Decimal, len(ids))
		for _, id := range ids {
			bal, err := lockBalance(ctx, tx, id)
			if err != nil {
				return err
			}
			current[id] = bal
		}
		for _, id := range ids {
			if current[id].Add(deltas[id]).Sign() < 0 {
				return fmt.Errorf("%w: account %s", ErrInsufficientFunds, id)
			}
		}

		for _, p := range postings {
			if p.ID == "" {
				p.ID = uuid.NewString()
			}
			if p.CreatedAt.IsZero() {
				p.CreatedAt = now
			}
			if err := insertPosting(ctx, tx, p); err != nil {
				return err
			}
		}

		out = make([]Balance, 0, len(ids))
		for _, id := range ids {
			b, err := updateBalance(ctx, tx, id, deltas[id], now)
			if err != nil {
				return err
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrStoreTimeout, err)
		}
		return nil, err
	}
	return out, nil
}

func lockBalance(ctx context.Context, tx *sql.Tx, accountID string) (decimal.Decimal, error) {
	const q = `
SELECT balance
FROM account_balances
WHERE account_id = $1
FOR UPDATE
`
	var bal decimal.Decimal
	if err := tx.QueryRowContext(ctx, q, accountID).Scan(&bal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}
		return decimal.Zero, err
	}
	return bal, nil
}

func insertPosting(ctx context.Context, tx *sql.Tx, p Posting) error {
	const q = `
INSERT INTO postings (
  id, debit_account_id, credit_account_id, amount, transaction_ref, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6
)
`
	_, err := tx.ExecContext(ctx, q,
		p.ID,
		p.DebitAccountID,
		p.CreditAccountID,
		p.Amount,
		p.TransactionRef,
		p.CreatedAt,
	)
	return err
}

func updateBalance(ctx context.Context, tx *sql.Tx, accountID string, delta decimal.Decimal, now time.Time) (Balance, error) {
	const q = `
UPDATE account_balances
SET balance = balance + $2, updated_at = $3
WHERE account_id = $1
RETURNING account_id, currency, balance, updated_at
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, accountID, delta, now).Scan(
		&b.AccountID,
		&b.Currency,
		&b.Amount,
		&b.UpdatedAt,
	); err != nil {
		return Balance{}, err
	}
	return b, nil
}

// PostingsBetween lists committed postings inside [from, to).
// Used by reporting; read-only.
func (s *PostgresStore) PostingsBetween(ctx context.Context, from, to time.Time) ([]Posting, error) {
	const q = `
SELECT id, debit_account_id, credit_account_id, amount, transaction_ref, created_at
FROM postings
WHERE created_at >= $1 AND created_at < $2
ORDER BY created_at
`
	rows, err := s.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Posting
	for rows.Next() {
		var p Posting
		if err := rows.Scan(
			&p.ID,
			&p.DebitAccountID,
			&p.CreditAccountID,
			&p.Amount,
			&p.TransactionRef,
			&p.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
