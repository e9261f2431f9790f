package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only: there are no Update or Delete methods.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to pharmacies.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogWithdrawalDecision records an admin withdrawal decision.
func (s *Service) LogWithdrawalDecision(ctx context.Context, adminID, adminRole, pharmacyID, withdrawalID, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:         EventTypeWithdrawalDecision,
		ActorAdminID: adminID,
		ActorRole:    adminRole,
		PharmacyID:   pharmacyID,
		WithdrawalID: withdrawalID,
		Message:      message,
		Metadata:     metadata,
	})
}

// LogSettlementFailure records a settlement attempt that was rejected by the
// ledger (for example insufficient funds).
func (s *Service) LogSettlementFailure(ctx context.Context, marketplaceRef, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:           EventTypeSettlementFailure,
		MarketplaceRef: marketplaceRef,
		Message:        message,
		Metadata:       metadata,
	})
}

// LogFeeConfigChange records a hot-reload of the fee configuration.
func (s *Service) LogFeeConfigChange(ctx context.Context, adminID, adminRole, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:         EventTypeFeeConfigChange,
		ActorAdminID: adminID,
		ActorRole:    adminRole,
		Message:      message,
		Metadata:     metadata,
	})
}
