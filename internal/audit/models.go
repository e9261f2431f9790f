package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Actor capture is best-effort; never block money flows on audit failures.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.

type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorAdminID is the admin performing the action. Always explicit and
	// caller-supplied; the core never infers it from ambient session state.
	ActorAdminID string `json:"actor_admin_id,omitempty" db:"actor_admin_id"`
	ActorRole    string `json:"actor_role,omitempty" db:"actor_role"`

	// Target identifiers (optional, depending on the event type).
	PharmacyID     string `json:"pharmacy_id,omitempty" db:"pharmacy_id"`
	WithdrawalID   string `json:"withdrawal_id,omitempty" db:"withdrawal_id"`
	MarketplaceRef string `json:"marketplace_ref,omitempty" db:"marketplace_ref"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details (store as JSONB).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeWithdrawalDecision EventType = "withdrawal_decision"
	EventTypeSettlementFailure  EventType = "settlement_failure"
	EventTypeFeeConfigChange    EventType = "fee_config_change"
)
