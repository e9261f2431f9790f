package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends events to the audit_events table. The table should be
// INSERT-only; there are intentionally no update or delete statements here.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, type, actor_admin_id, actor_role, pharmacy_id, withdrawal_id,
  marketplace_ref, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Type,
		e.ActorAdminID,
		e.ActorRole,
		e.PharmacyID,
		e.WithdrawalID,
		e.MarketplaceRef,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
