package settlement

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepository persists transactions in the marketplace_transactions
// table. A UNIQUE constraint on marketplace_ref provides the atomic
// idempotency check required for concurrent replays.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (r *PostgresRepository) Create(ctx context.Context, tx Transaction) error {
	const q = `
INSERT INTO marketplace_transactions (
  id, type, subtype, party_a_id, party_b_id, value_a, value_b,
  marketplace_ref, fee_config_version, status, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := r.db.ExecContext(ctx, q,
		tx.ID,
		tx.Type,
		tx.Subtype,
		tx.PartyAID,
		tx.PartyBID,
		tx.ValueA,
		tx.ValueB,
		tx.MarketplaceRef,
		tx.FeeConfigVersion,
		tx.Status,
		tx.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) FindByRef(ctx context.Context, ref string) (Transaction, bool, error) {
	const q = `
SELECT id, type, subtype, party_a_id, party_b_id, value_a, value_b,
       marketplace_ref, fee_config_version, status, result,
       COALESCE(failure_reason, ''), created_at, settled_at
FROM marketplace_transactions
WHERE marketplace_ref = $1
`
	var tx Transaction
	var resultRaw []byte
	err := r.db.QueryRowContext(ctx, q, ref).Scan(
		&tx.ID,
		&tx.Type,
		&tx.Subtype,
		&tx.PartyAID,
		&tx.PartyBID,
		&tx.ValueA,
		&tx.ValueB,
		&tx.MarketplaceRef,
		&tx.FeeConfigVersion,
		&tx.Status,
		&resultRaw,
		&tx.FailureReason,
		&tx.CreatedAt,
		&tx.SettledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, err
	}
	if len(resultRaw) > 0 {
		var res Result
		if err := json.Unmarshal(resultRaw, &res); err != nil {
			return Transaction{}, false, fmt.Errorf("decode stored result: %w", err)
		}
		tx.Result = &res
	}
	return tx, true, nil
}

func (r *PostgresRepository) MarkSettled(ctx context.Context, id string, result Result, at time.Time) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	const q = `
UPDATE marketplace_transactions
SET status = $2, result = $3, settled_at = $4
WHERE id = $1 AND status = $5
`
	res, err := r.db.ExecContext(ctx, q, id, StatusSettled, raw, at, StatusPending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id string, reason string, at time.Time) error {
	const q = `
UPDATE marketplace_transactions
SET status = $2, failure_reason = $3, settled_at = $4
WHERE id = $1 AND status = $5
`
	res, err := r.db.ExecContext(ctx, q, id, StatusFailed, reason, at, StatusPending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTransactionNotFound
	}
	return nil
}
