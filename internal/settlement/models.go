package settlement

import (
	"time"

	"pharmasave-core/internal/fees"

	"github.com/shopspring/decimal"
)

// Request is a marketplace transaction to settle.
//
// For a purchase, party A is the buyer, party B the seller, and ValueA the
// purchase amount. For a trade, each declared value is the value the party
// assigns to the goods they receive; the party receiving the higher-valued
// goods pays the difference in cash.
type Request struct {
	Type           fees.TransactionType `json:"transaction_type"`
	PartyAID       string               `json:"party_a_id"`
	PartyBID       string               `json:"party_b_id"`
	ValueA         decimal.Decimal      `json:"amount_or_value_a"`
	ValueB         decimal.Decimal      `json:"value_b,omitempty"`
	MarketplaceRef string               `json:"marketplace_ref"`
}

// Result is the settlement outcome returned to the marketplace.
// Pays/receives are each party's net cash position: pays is out-of-pocket
// cash including own fees, receives is inflow net of own fees.
type Result struct {
	Success            bool            `json:"success"`
	TransactionSubtype fees.Subtype    `json:"transaction_subtype"`
	PartyAPays         decimal.Decimal `json:"party_a_pays"`
	PartyBPays         decimal.Decimal `json:"party_b_pays"`
	PartyAReceives     decimal.Decimal `json:"party_a_receives"`
	PartyBReceives     decimal.Decimal `json:"party_b_receives"`
	ValueDifference    decimal.Decimal `json:"value_difference"`
	TotalPlatformFees  decimal.Decimal `json:"total_platform_fees"`
	PartyAFinalBalance decimal.Decimal `json:"party_a_final_balance"`
	PartyBFinalBalance decimal.Decimal `json:"party_b_final_balance"`
	MarketplaceRef     string          `json:"marketplace_reference"`
	SummaryDescription string          `json:"summary_description"`
	FeeConfigVersion   int             `json:"fee_config_version"`
	ErrorMessage       string          `json:"error_message,omitempty"`
}

type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
	StatusFailed  Status = "failed"
)

// Transaction is the persisted settlement record. Immutable once settled;
// MarketplaceRef is the idempotency key and must be globally unique.
type Transaction struct {
	ID               string               `json:"id" db:"id"`
	Type             fees.TransactionType `json:"type" db:"type"`
	Subtype          fees.Subtype         `json:"subtype" db:"subtype"`
	PartyAID         string               `json:"party_a_id" db:"party_a_id"`
	PartyBID         string               `json:"party_b_id" db:"party_b_id"`
	ValueA           decimal.Decimal      `json:"value_a" db:"value_a"`
	ValueB           decimal.Decimal      `json:"value_b" db:"value_b"`
	MarketplaceRef   string               `json:"marketplace_ref" db:"marketplace_ref"`
	FeeConfigVersion int                  `json:"fee_config_version" db:"fee_config_version"`
	Status           Status               `json:"status" db:"status"`
	Result           *Result              `json:"result,omitempty" db:"result"`
	FailureReason    string               `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt        time.Time            `json:"created_at" db:"created_at"`
	SettledAt        *time.Time           `json:"settled_at,omitempty" db:"settled_at"`
}
