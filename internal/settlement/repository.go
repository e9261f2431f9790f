package settlement

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDuplicateReference signals that a transaction with the same
	// marketplace_ref already exists. For settled/failed records the engine
	// resolves this into the stored result; callers only see it when the
	// original settlement is still in flight (retryable).
	ErrDuplicateReference = errors.New("settlement: duplicate marketplace reference")
	ErrTransactionNotFound = errors.New("settlement: transaction not found")
)

// Repository persists settlement transactions.
//
// Create must enforce uniqueness of MarketplaceRef atomically (unique
// constraint or equivalent) and return ErrDuplicateReference on conflict;
// this is what makes concurrent replays settle exactly once.
type Repository interface {
	Create(ctx context.Context, tx Transaction) error
	FindByRef(ctx context.Context, marketplaceRef string) (Transaction, bool, error)
	MarkSettled(ctx context.Context, id string, result Result, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string, at time.Time) error
}

// MemoryRepository is an in-memory Repository useful for tests.
type MemoryRepository struct {
	mu    sync.Mutex
	byRef map[string]*Transaction
	byID  map[string]*Transaction
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byRef: make(map[string]*Transaction),
		byID:  make(map[string]*Transaction),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, tx Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byRef[tx.MarketplaceRef]; ok {
		return ErrDuplicateReference
	}
	cp := tx
	r.byRef[tx.MarketplaceRef] = &cp
	r.byID[tx.ID] = &cp
	return nil
}

func (r *MemoryRepository) FindByRef(ctx context.Context, ref string) (Transaction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.byRef[ref]
	if !ok {
		return Transaction{}, false, nil
	}
	return *tx, true, nil
}

func (r *MemoryRepository) MarkSettled(ctx context.Context, id string, result Result, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.byID[id]
	if !ok {
		return ErrTransactionNotFound
	}
	res := result
	tx.Status = StatusSettled
	tx.Result = &res
	settledAt := at
	tx.SettledAt = &settledAt
	return nil
}

func (r *MemoryRepository) MarkFailed(ctx context.Context, id string, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.byID[id]
	if !ok {
		return ErrTransactionNotFound
	}
	tx.Status = StatusFailed
	tx.FailureReason = reason
	failedAt := at
	tx.SettledAt = &failedAt
	return nil
}
