package withdrawal

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// PostgresRepository persists withdrawal requests.
//
// The optimistic status transition is a single UPDATE guarded by the
// expected current status; zero affected rows means another decision won.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, req Request) error {
	const q = `
INSERT INTO withdrawal_requests (
  id, pharmacy_id, amount, currency, risk_score, flags, status,
  balance_snapshot, platform_fee, processing_fee, net_amount,
  fee_config_version, payout_method_verified, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
`
	_, err := r.db.ExecContext(ctx, q,
		req.ID,
		req.PharmacyID,
		req.Amount,
		req.Currency,
		req.RiskScore,
		encodeFlags(req.Flags),
		req.Status,
		req.BalanceSnapshot,
		req.PlatformFee,
		req.ProcessingFee,
		req.NetAmount,
		req.FeeConfigVersion,
		req.PayoutMethodVerified,
		req.CreatedAt,
	)
	return err
}

const selectColumns = `
id, pharmacy_id, amount, currency, risk_score, COALESCE(flags, ''), status,
balance_snapshot, platform_fee, processing_fee, net_amount,
fee_config_version, payout_method_verified,
COALESCE(decided_by, ''), COALESCE(decision_notes, ''), decided_at, created_at
`

func (r *PostgresRepository) Get(ctx context.Context, id string) (Request, bool, error) {
	q := `SELECT ` + selectColumns + ` FROM withdrawal_requests WHERE id = $1`
	req, err := scanRequest(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Request{}, false, nil
		}
		return Request{}, false, err
	}
	return req, true, nil
}

func (r *PostgresRepository) ListByPharmacy(ctx context.Context, pharmacyID string, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + selectColumns + `
FROM withdrawal_requests
WHERE pharmacy_id = $1
ORDER BY created_at DESC
LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, pharmacyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Transition(ctx context.Context, id string, from, to Status, decidedBy, notes string, at time.Time) error {
	var res sql.Result
	var err error
	if decidedBy != "" {
		const q = `
UPDATE withdrawal_requests
SET status = $3, decided_by = $4, decision_notes = $5, decided_at = $6
WHERE id = $1 AND status = $2
`
		res, err = r.db.ExecContext(ctx, q, id, from, to, decidedBy, notes, at)
	} else {
		const q = `
UPDATE withdrawal_requests
SET status = $3
WHERE id = $1 AND status = $2
`
		res, err = r.db.ExecContext(ctx, q, id, from, to)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the row is gone or another decision won the race.
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM withdrawal_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrAlreadyDecided
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (Request, error) {
	var req Request
	var flags string
	err := row.Scan(
		&req.ID,
		&req.PharmacyID,
		&req.Amount,
		&req.Currency,
		&req.RiskScore,
		&flags,
		&req.Status,
		&req.BalanceSnapshot,
		&req.PlatformFee,
		&req.ProcessingFee,
		&req.NetAmount,
		&req.FeeConfigVersion,
		&req.PayoutMethodVerified,
		&req.DecidedBy,
		&req.DecisionNotes,
		&req.DecidedAt,
		&req.CreatedAt,
	)
	if err != nil {
		return Request{}, err
	}
	req.Flags = decodeFlags(flags)
	return req, nil
}

// Flags are stored as a comma-separated text column; the set is small and
// only ever read back for display.
func encodeFlags(flags []FraudFlag) string {
	parts := make([]string, 0, len(flags))
	for _, f := range flags {
		parts = append(parts, string(f))
	}
	return strings.Join(parts, ",")
}

func decodeFlags(s string) []FraudFlag {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]FraudFlag, 0, len(parts))
	for _, p := range parts {
		out = append(out, FraudFlag(p))
	}
	return out
}
