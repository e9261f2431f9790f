package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// RevenueSummaryRequest requests aggregated platform revenue over a range.

type RevenueSummaryRequest struct {
	Range TimeRange `json:"range"`
}

// RevenueSummary breaks platform revenue down by source. All figures come
// from immutable ledger postings, so re-running the same range always
// reproduces the same report.
type RevenueSummary struct {
	Currency string `json:"currency"`

	TransactionFees  decimal.Decimal `json:"transaction_fees"`
	WithdrawalFees   decimal.Decimal `json:"withdrawal_fees"`
	SubscriptionFees decimal.Decimal `json:"subscription_fees"`
	TotalRevenue     decimal.Decimal `json:"total_revenue"`

	// ProcessingPassThrough is collected from pharmacies but owed to the
	// payment rails; it is not platform revenue.
	ProcessingPassThrough decimal.Decimal `json:"processing_pass_through"`

	PostingCount int `json:"posting_count"`
}

// CashFlowRequest requests one pharmacy's wallet movement over a range.

type CashFlowRequest struct {
	PharmacyID string    `json:"pharmacy_id"`
	Range      TimeRange `json:"range"`
}

type CashFlow struct {
	PharmacyID string `json:"pharmacy_id"`
	Currency   string `json:"currency"`

	Inflow  decimal.Decimal `json:"inflow"`
	Outflow decimal.Decimal `json:"outflow"`
	Net     decimal.Decimal `json:"net"`

	// FeesPaid is the slice of the outflow that went to platform revenue.
	FeesPaid decimal.Decimal `json:"fees_paid"`
	// Withdrawn is the slice that left toward payout.
	Withdrawn decimal.Decimal `json:"withdrawn"`

	PostingCount int `json:"posting_count"`
}

// PendingPayoutRequest requests the liability accrued toward approved but
// not yet disbursed payouts.

type PendingPayoutRequest struct {
	Range TimeRange `json:"range"`
}

type PendingPayoutSummary struct {
	Currency string `json:"currency"`

	Accrued decimal.Decimal `json:"accrued"`

	PostingCount int `json:"posting_count"`
}
