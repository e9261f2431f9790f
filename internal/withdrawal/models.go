package withdrawal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Request is a pharmacy's request to move wallet balance to an external
// payout method.
//
// Invariant: NetAmount = Amount - PlatformFee - ProcessingFee. The amount is
// re-validated against the freshest wallet balance at decision time, not just
// at request time.
type Request struct {
	ID         string          `json:"id" db:"id"`
	PharmacyID string          `json:"pharmacy_id" db:"pharmacy_id"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	Currency   string          `json:"currency" db:"currency"`

	RiskScore int         `json:"risk_score" db:"risk_score"`
	Flags     []FraudFlag `json:"flags,omitempty" db:"flags"`

	Status Status `json:"status" db:"status"`

	// BalanceSnapshot is the wallet balance observed at request time. It is
	// informational; decisions always re-read the live balance.
	BalanceSnapshot decimal.Decimal `json:"balance_snapshot" db:"balance_snapshot"`

	PlatformFee      decimal.Decimal `json:"platform_fee" db:"platform_fee"`
	ProcessingFee    decimal.Decimal `json:"processing_fee" db:"processing_fee"`
	NetAmount        decimal.Decimal `json:"net_amount" db:"net_amount"`
	FeeConfigVersion int             `json:"fee_config_version" db:"fee_config_version"`

	PayoutMethodVerified bool `json:"payout_method_verified" db:"payout_method_verified"`

	DecidedBy     string     `json:"decided_by,omitempty" db:"decided_by"`
	DecisionNotes string     `json:"decision_notes,omitempty" db:"decision_notes"`
	DecidedAt     *time.Time `json:"decided_at,omitempty" db:"decided_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// decided reports whether the request has left the pending state.
func (s Status) decided() bool { return s != StatusPending }

type FraudFlag string

const (
	FlagAmountSpike      FraudFlag = "amount_spike"
	FlagHighVelocity     FraudFlag = "high_velocity"
	FlagNewAccount       FraudFlag = "new_account"
	FlagUnverifiedMethod FraudFlag = "unverified_payout_method"
	FlagBalanceDrain     FraudFlag = "balance_drain"
	FlagRepeatedDrain    FraudFlag = "repeated_balance_drain"
	FlagPendingOverlap   FraudFlag = "pending_request_overlap"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// DecisionResult is returned to the admin UI after a decide call.
type DecisionResult struct {
	WithdrawalID string          `json:"withdrawal_id"`
	Status       Status          `json:"status"`
	NetAmount    decimal.Decimal `json:"net_amount"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
	DecidedBy    string          `json:"decided_by"`
	DecidedAt    time.Time       `json:"decided_at"`
	Notes        string          `json:"notes,omitempty"`
}

// PastWithdrawal is the slice of history the risk evaluator consumes.
type PastWithdrawal struct {
	Amount          decimal.Decimal
	BalanceSnapshot decimal.Decimal
	Status          Status
	CreatedAt       time.Time
}
