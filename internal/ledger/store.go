package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound   = errors.New("ledger: account not found")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInvalidPosting    = errors.New("ledger: invalid posting")
	// ErrStoreTimeout indicates the store transaction exceeded its bounded
	// timeout. Retryable; nothing was committed.
	ErrStoreTimeout = errors.New("ledger: store timeout")
)

// Store is the durable ledger boundary.
//
// ApplyPostings commits a posting set as one atomic unit: every debited
// account's resulting balance is re-checked against its freshest committed
// value inside the same atomic scope, and the whole set is rejected with
// ErrInsufficientFunds if any balance would go negative. Implementations
// must be safe under concurrent callers from multiple processes.
type Store interface {
	Account(ctx context.Context, accountID string) (Account, error)
	Balance(ctx context.Context, accountID string) (Balance, error)
	ApplyPostings(ctx context.Context, postings []Posting) ([]Balance, error)
}

// validatePostings rejects malformed posting sets before any store
// interaction.
func validatePostings(postings []Posting) error {
	if len(postings) == 0 {
		return fmt.Errorf("%w: empty posting set", ErrInvalidPosting)
	}
	for _, p := range postings {
		if p.DebitAccountID == "" || p.CreditAccountID == "" {
			return fmt.Errorf("%w: missing account id", ErrInvalidPosting)
		}
		if p.DebitAccountID == p.CreditAccountID {
			return fmt.Errorf("%w: debit and credit account are the same (%s)", ErrInvalidPosting, p.DebitAccountID)
		}
		if p.Amount.Sign() <= 0 {
			return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidPosting, p.Amount)
		}
		if p.TransactionRef == "" {
			return fmt.Errorf("%w: missing transaction ref", ErrInvalidPosting)
		}
	}
	return nil
}

// netDeltas computes the net balance change per account for a posting set.
func netDeltas(postings []Posting) map[string]decimal.Decimal {
	deltas := make(map[string]decimal.Decimal, len(postings)*2)
	for _, p := range postings {
		deltas[p.DebitAccountID] = deltas[p.DebitAccountID].Sub(p.Amount)
		deltas[p.CreditAccountID] = deltas[p.CreditAccountID].Add(p.Amount)
	}
	return deltas
}

// touchedAccounts returns the account ids of a delta map in sorted order.
// Stable ordering matters for deadlock-free row locking.
func touchedAccounts(deltas map[string]decimal.Decimal) []string {
	ids := make([]string, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
