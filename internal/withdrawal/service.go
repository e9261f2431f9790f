package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pharmasave-core/internal/audit"
	"pharmasave-core/internal/fees"
	"pharmasave-core/internal/ledger"
	"pharmasave-core/internal/money"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service handles withdrawal intake (risk scoring) and admin decisions.
//
// Decision concurrency: status transitions are optimistic compare-and-set
// writes in the repository, so two admins deciding the same request resolve
// to exactly one applied decision and one ErrAlreadyDecided.
type Service struct {
	repo     Repository
	store    ledger.Store
	policy   *fees.Policy
	eval     *Evaluator
	audit    *audit.Service
	velocity VelocityTracker
	clock    func() time.Time
}

func NewService(repo Repository, store ledger.Store, policy *fees.Policy, eval *Evaluator, auditSvc *audit.Service) *Service {
	return &Service{
		repo:   repo,
		store:  store,
		policy: policy,
		eval:   eval,
		audit:  auditSvc,
		clock:  time.Now,
	}
}

// WithVelocityTracker attaches an external (Redis-backed) velocity counter.
// Without one, velocity falls back to repository history alone.
func (s *Service) WithVelocityTracker(v VelocityTracker) *Service {
	s.velocity = v
	return s
}

// CreateInput is the intake payload for a new withdrawal request.
type CreateInput struct {
	PharmacyID           string
	Amount               decimal.Decimal
	PayoutMethodVerified bool
	// VerifiedAt is when the pharmacy completed verification; zero means
	// never verified.
	VerifiedAt time.Time
}

// Create validates, prices, risk-scores and persists a withdrawal request.
// The request stays pending until an admin decides it; any score at or above
// the review threshold is flagged for mandatory human review.
func (s *Service) Create(ctx context.Context, in CreateInput) (Request, error) {
	if in.PharmacyID == "" {
		return Request{}, fmt.Errorf("%w: pharmacy id is required", ErrInvalidArgument)
	}
	if err := money.RequirePositive(in.Amount); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	wallet := ledger.WalletAccountID(in.PharmacyID)
	bal, err := s.store.Balance(ctx, wallet)
	if err != nil {
		return Request{}, err
	}
	if in.Amount.GreaterThan(bal.Amount) {
		return Request{}, fmt.Errorf("%w: requested %s, balance %s",
			ledger.ErrInsufficientFunds, money.Format(in.Amount), money.Format(bal.Amount))
	}

	wf, err := s.policy.ForWithdrawal(in.Amount)
	if err != nil {
		return Request{}, err
	}

	history, err := s.history(ctx, in.PharmacyID)
	if err != nil {
		return Request{}, err
	}
	now := s.clock().UTC()
	external := 0
	if s.velocity != nil {
		// Best-effort: on tracker failure the history-derived count stands.
		if n, cErr := s.velocity.Count(ctx, in.PharmacyID); cErr == nil {
			external = n
		}
	}
	score, flags := s.eval.Score(RiskContext{
		Amount:                in.Amount,
		WalletBalance:         bal.Amount,
		History:               history,
		ExternalVelocityCount: external,
		VerifiedAt:            in.VerifiedAt,
		PayoutMethodVerified:  in.PayoutMethodVerified,
		Now:                   now,
	})

	req := Request{
		ID:                   uuid.NewString(),
		PharmacyID:           in.PharmacyID,
		Amount:               in.Amount,
		Currency:             money.Currency,
		RiskScore:            score,
		Flags:                flags,
		Status:               StatusPending,
		BalanceSnapshot:      bal.Amount,
		PlatformFee:          wf.PlatformFee,
		ProcessingFee:        wf.ProcessingFee,
		NetAmount:            wf.NetAmount,
		FeeConfigVersion:     wf.ConfigVersion,
		PayoutMethodVerified: in.PayoutMethodVerified,
		CreatedAt:            now,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return Request{}, err
	}
	if s.velocity != nil {
		// Best-effort: the repository history still covers velocity if the
		// counter is unavailable.
		_, _ = s.velocity.Record(ctx, in.PharmacyID)
	}
	return req, nil
}

// List returns the pharmacy's withdrawal requests, newest first.
func (s *Service) List(ctx context.Context, pharmacyID string, limit int) ([]Request, error) {
	if pharmacyID == "" {
		return nil, fmt.Errorf("%w: pharmacy id is required", ErrInvalidArgument)
	}
	return s.repo.ListByPharmacy(ctx, pharmacyID, limit)
}

// history loads the pharmacy's recent requests for risk scoring.
func (s *Service) history(ctx context.Context, pharmacyID string) ([]PastWithdrawal, error) {
	prior, err := s.repo.ListByPharmacy(ctx, pharmacyID, 50)
	if err != nil {
		return nil, err
	}
	out := make([]PastWithdrawal, 0, len(prior))
	for _, p := range prior {
		out = append(out, PastWithdrawal{
			Amount:          p.Amount,
			BalanceSnapshot: p.BalanceSnapshot,
			Status:          p.Status,
			CreatedAt:       p.CreatedAt,
		})
	}
	return out, nil
}

// Decide applies an admin approve/reject decision.
//
// approve: re-validates the freshest wallet balance; on success atomically
// debits the wallet, credits the platform fee account, moves the processing
// fee to the expense account and the net amount to the pending payout
// account, then advances pending -> approved -> processing.
// reject: requires non-empty notes; no balance change.
func (s *Service) Decide(ctx context.Context, withdrawalID, adminID string, decision Decision, notes string) (DecisionResult, error) {
	if withdrawalID == "" || adminID == "" {
		return DecisionResult{}, fmt.Errorf("%w: withdrawal id and admin id are required", ErrInvalidArgument)
	}
	if decision != DecisionApprove && decision != DecisionReject {
		return DecisionResult{}, fmt.Errorf("%w: decision must be approve or reject, got %q", ErrInvalidArgument, decision)
	}
	if decision == DecisionReject && notes == "" {
		return DecisionResult{}, fmt.Errorf("%w: rejection requires notes", ErrInvalidArgument)
	}

	req, found, err := s.repo.Get(ctx, withdrawalID)
	if err != nil {
		return DecisionResult{}, err
	}
	if !found {
		return DecisionResult{}, fmt.Errorf("%w: %s", ErrNotFound, withdrawalID)
	}
	if req.Status.decided() {
		return DecisionResult{}, fmt.Errorf("%w: status is %s", ErrAlreadyDecided, req.Status)
	}

	now := s.clock().UTC()
	if decision == DecisionReject {
		if err := s.repo.Transition(ctx, withdrawalID, StatusPending, StatusRejected, adminID, notes, now); err != nil {
			return DecisionResult{}, err
		}
		s.logDecision(ctx, adminID, req, "rejected", notes)
		bal, err := s.store.Balance(ctx, ledger.WalletAccountID(req.PharmacyID))
		if err != nil {
			return DecisionResult{}, err
		}
		return DecisionResult{
			WithdrawalID:  withdrawalID,
			Status:        StatusRejected,
			NetAmount:     req.NetAmount,
			WalletBalance: bal.Amount,
			DecidedBy:     adminID,
			DecidedAt:     now,
			Notes:         notes,
		}, nil
	}

	// Claim the request before moving money so a concurrent decision
	// cannot double-apply.
	if err := s.repo.Transition(ctx, withdrawalID, StatusPending, StatusApproved, adminID, notes, now); err != nil {
		return DecisionResult{}, err
	}

	wallet := ledger.WalletAccountID(req.PharmacyID)
	postings := buildPayoutPostings(wallet, req)
	balances, err := s.store.ApplyPostings(ctx, postings)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			// Balance changed since request time; the pharmacy must
			// re-request against the current balance.
			if tErr := s.repo.Transition(ctx, withdrawalID, StatusApproved, StatusFailed, adminID, notes, s.clock().UTC()); tErr != nil {
				return DecisionResult{}, tErr
			}
			s.logDecision(ctx, adminID, req, "approve failed on stale balance", notes)
			return DecisionResult{}, fmt.Errorf("%w: %v", ErrStaleBalance, err)
		}
		return DecisionResult{}, err
	}

	if err := s.repo.Transition(ctx, withdrawalID, StatusApproved, StatusProcessing, "", "", s.clock().UTC()); err != nil {
		return DecisionResult{}, err
	}
	s.logDecision(ctx, adminID, req, "approved", notes)

	var walletBalance decimal.Decimal
	for _, b := range balances {
		if b.AccountID == wallet {
			walletBalance = b.Amount
		}
	}
	return DecisionResult{
		WithdrawalID:  withdrawalID,
		Status:        StatusProcessing,
		NetAmount:     req.NetAmount,
		WalletBalance: walletBalance,
		DecidedBy:     adminID,
		DecidedAt:     now,
		Notes:         notes,
	}, nil
}

// buildPayoutPostings debits the full requested amount from the wallet:
// platform fee to revenue, processing fee to the pass-through expense
// account, net amount to the pending payout account.
func buildPayoutPostings(wallet string, req Request) []ledger.Posting {
	ref := "withdrawal:" + req.ID
	var postings []ledger.Posting
	add := func(credit string, amount decimal.Decimal) {
		if amount.Sign() <= 0 {
			return
		}
		postings = append(postings, ledger.Posting{
			DebitAccountID:  wallet,
			CreditAccountID: credit,
			Amount:          amount,
			TransactionRef:  ref,
		})
	}
	add(ledger.PlatformRevenueAccountID, req.PlatformFee)
	add(ledger.PlatformExpenseAccountID, req.ProcessingFee)
	add(ledger.PendingPayoutAccountID, req.NetAmount)
	return postings
}

func (s *Service) logDecision(ctx context.Context, adminID string, req Request, outcome, notes string) {
	if s.audit == nil {
		return
	}
	msg := fmt.Sprintf("withdrawal %s %s: %s requested by %s", req.ID, outcome, money.Format(req.Amount), req.PharmacyID)
	if notes != "" {
		msg += " (" + notes + ")"
	}
	// Best-effort: audit failures must not block money flows.
	_ = s.audit.LogWithdrawalDecision(ctx, adminID, "", req.PharmacyID, req.ID, msg, "")
}
