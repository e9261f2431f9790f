package withdrawal

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("withdrawal: request not found")
	// ErrAlreadyDecided means the request already left the expected status;
	// decisions are never double-applied.
	ErrAlreadyDecided = errors.New("withdrawal: request already decided")
	// ErrStaleBalance means the wallet balance shrank between request and
	// decision time; the pharmacy must re-request.
	ErrStaleBalance    = errors.New("withdrawal: wallet balance no longer covers the requested amount")
	ErrInvalidArgument = errors.New("withdrawal: invalid argument")
)

// Repository persists withdrawal requests.
//
// Transition must be an atomic compare-and-set on status (optimistic
// concurrency): it fails with ErrAlreadyDecided when the stored status does
// not match from. This is what makes concurrent decisions on the same
// request mutually exclusive.
type Repository interface {
	Create(ctx context.Context, req Request) error
	Get(ctx context.Context, id string) (Request, bool, error)
	// ListByPharmacy returns the pharmacy's requests, newest first.
	ListByPharmacy(ctx context.Context, pharmacyID string, limit int) ([]Request, error)
	Transition(ctx context.Context, id string, from, to Status, decidedBy, notes string, at time.Time) error
}

// MemoryRepository is an in-memory Repository useful for tests.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]*Request
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*Request)}
}

func (r *MemoryRepository) Create(ctx context.Context, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[req.ID]; ok {
		return errors.New("withdrawal: duplicate id")
	}
	cp := req
	r.byID[req.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (Request, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.byID[id]
	if !ok {
		return Request{}, false, nil
	}
	return *req, true, nil
}

func (r *MemoryRepository) ListByPharmacy(ctx context.Context, pharmacyID string, limit int) ([]Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Request
	for _, req := range r.byID {
		if req.PharmacyID == pharmacyID {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Transition(ctx context.Context, id string, from, to Status, decidedBy, notes string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if req.Status != from {
		return ErrAlreadyDecided
	}
	req.Status = to
	if decidedBy != "" {
		req.DecidedBy = decidedBy
		req.DecisionNotes = notes
		decidedAt := at
		req.DecidedAt = &decidedAt
	}
	return nil
}
