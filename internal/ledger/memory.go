package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pharmasave-core/internal/money"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory Store useful for tests. It serializes all
// posting sets behind one mutex, which gives the same atomic
// commit-or-nothing semantics the Postgres store gets from row locks.
// It is not intended for production use.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	balances map[string]decimal.Decimal
	postings []Posting
	clock    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]Account),
		balances: make(map[string]decimal.Decimal),
		clock:    time.Now,
	}
}

// CreateAccount registers an account with a zero balance. Existing accounts
// are left untouched.
func (s *MemoryStore) CreateAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return
	}
	if a.Currency == "" {
		a.Currency = money.Currency
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.clock().UTC()
	}
	s.accounts[a.ID] = a
	s.balances[a.ID] = decimal.Zero
}

// Seed sets an account balance directly. Test setup only.
func (s *MemoryStore) Seed(accountID string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[accountID] = balance
}

func (s *MemoryStore) Account(ctx context.Context, accountID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return a, nil
}

func (s *MemoryStore) Balance(ctx context.Context, accountID string) (Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(accountID)
}

func (s *MemoryStore) balanceLocked(accountID string) (Balance, error) {
	a, ok := s.accounts[accountID]
	if !ok {
		return Balance{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return Balance{
		AccountID: accountID,
		Currency:  a.Currency,
		Amount:    s.balances[accountID],
		UpdatedAt: s.clock().UTC(),
	}, nil
}

func (s *MemoryStore) ApplyPostings(ctx context.Context, postings []Posting) ([]Balance, error) {
	if err := validatePostings(postings); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deltas := netDeltas(postings)
	ids := touchedAccounts(deltas)

	for _, id := range ids {
		if _, ok := s.accounts[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
	}
	// Freshest-balance check across the whole set: an account may be both
	// debited and credited; only its final balance matters.
	for _, id := range ids {
		if s.balances[id].Add(deltas[id]).Sign() < 0 {
			return nil, fmt.Errorf("%w: account %s", ErrInsufficientFunds, id)
		}
	}

	now := s.clock().UTC()
	for _, p := range postings {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		s.postings = append(s.postings, p)
	}
	out := make([]Balance, 0, len(ids))
	for _, id := range ids {
		s.balances[id] = s.balances[id].Add(deltas[id])
		b, _ := s.balanceLocked(id)
		out = append(out, b)
	}
	return out, nil
}

// Postings returns a copy of all committed postings, oldest first.
func (s *MemoryStore) Postings() []Posting {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Posting, len(s.postings))
	copy(out, s.postings)
	return out
}

// PostingsBetween returns committed postings with CreatedAt in [from, to).
// Backs the reporting queries in tests.
func (s *MemoryStore) PostingsBetween(ctx context.Context, from, to time.Time) ([]Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Posting
	for _, p := range s.postings {
		if !p.CreatedAt.Before(from) && p.CreatedAt.Before(to) {
			out = append(out, p)
		}
	}
	return out, nil
}
