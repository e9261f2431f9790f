package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is an addressable balance holder: a pharmacy wallet or one of the
// platform accounts.
//
// Money invariants:
// - An account balance is the sum of committed postings against it.
// - The balance projection is only ever updated alongside posting inserts,
//   inside the same store transaction.
type Account struct {
	ID         string      `json:"id" db:"id"`
	PharmacyID string      `json:"pharmacy_id,omitempty" db:"pharmacy_id"`
	Kind       AccountKind `json:"kind" db:"kind"`
	Currency   string      `json:"currency" db:"currency"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

type AccountKind string

const (
	AccountKindWallet          AccountKind = "wallet"
	AccountKindPlatformRevenue AccountKind = "platform_revenue"
	AccountKindPendingPayout   AccountKind = "pending_payout"
	AccountKindPlatformExpense AccountKind = "platform_expense"
)

// Well-known platform account ids. Pharmacy wallets are addressed via
// WalletAccountID.
const (
	PlatformRevenueAccountID = "platform:revenue"
	PendingPayoutAccountID   = "platform:pending_payouts"
	PlatformExpenseAccountID = "platform:processing_expense"
)

// WalletAccountID maps a pharmacy id to its wallet account id.
func WalletAccountID(pharmacyID string) string {
	return "wallet:" + pharmacyID
}

// Posting is one immutable double-entry movement: Amount moves from the
// debit account to the credit account. Postings are committed in sets; a set
// commits atomically or not at all.
type Posting struct {
	ID              string          `json:"id" db:"id"`
	DebitAccountID  string          `json:"debit_account_id" db:"debit_account_id"`
	CreditAccountID string          `json:"credit_account_id" db:"credit_account_id"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	TransactionRef  string          `json:"transaction_ref" db:"transaction_ref"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Balance is the committed balance of one account.
type Balance struct {
	AccountID string          `json:"account_id" db:"account_id"`
	Currency  string          `json:"currency" db:"currency"`
	Amount    decimal.Decimal `json:"amount" db:"balance"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
