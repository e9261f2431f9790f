package reporting

import (
	"context"
	"errors"
	"strings"
	"time"

	"pharmasave-core/internal/ledger"
	"pharmasave-core/internal/money"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// PostingSource yields immutable ledger postings for a time range. Both the
// Postgres ledger store and the in-memory one satisfy it.
type PostingSource interface {
	PostingsBetween(ctx context.Context, from, to time.Time) ([]ledger.Posting, error)
}

type Service struct {
	source PostingSource
}

func NewService(source PostingSource) *Service { return &Service{source: source} }

// RevenueSummary aggregates platform revenue over the range, split by
// source. Revenue postings are credits into the platform revenue account;
// the transaction reference prefix tells the source apart.
func (s *Service) RevenueSummary(ctx context.Context, req RevenueSummaryRequest) (RevenueSummary, error) {
	if err := validateRange(req.Range); err != nil {
		return RevenueSummary{}, err
	}
	if s.source == nil {
		return RevenueSummary{}, errors.New("reporting: posting source not configured")
	}

	postings, err := s.source.PostingsBetween(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return RevenueSummary{}, err
	}

	out := RevenueSummary{Currency: money.Currency}
	for _, p := range postings {
		switch p.CreditAccountID {
		case ledger.PlatformRevenueAccountID:
			out.PostingCount++
			switch {
			case strings.HasPrefix(p.TransactionRef, "withdrawal:"):
				out.WithdrawalFees = out.WithdrawalFees.Add(p.Amount)
			case strings.HasPrefix(p.TransactionRef, "subscription:"):
				out.SubscriptionFees = out.SubscriptionFees.Add(p.Amount)
			default:
				out.TransactionFees = out.TransactionFees.Add(p.Amount)
			}
		case ledger.PlatformExpenseAccountID:
			out.ProcessingPassThrough = out.ProcessingPassThrough.Add(p.Amount)
		}
	}
	out.TotalRevenue = out.TransactionFees.Add(out.WithdrawalFees).Add(out.SubscriptionFees)
	return out, nil
}

// CashFlow aggregates one pharmacy wallet's movement over the range.
func (s *Service) CashFlow(ctx context.Context, req CashFlowRequest) (CashFlow, error) {
	if req.PharmacyID == "" {
		return CashFlow{}, ErrInvalidRequest
	}
	if err := validateRange(req.Range); err != nil {
		return CashFlow{}, err
	}
	if s.source == nil {
		return CashFlow{}, errors.New("reporting: posting source not configured")
	}

	postings, err := s.source.PostingsBetween(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return CashFlow{}, err
	}

	wallet := ledger.WalletAccountID(req.PharmacyID)
	out := CashFlow{PharmacyID: req.PharmacyID, Currency: money.Currency}
	for _, p := range postings {
		switch {
		case p.CreditAccountID == wallet:
			out.PostingCount++
			out.Inflow = out.Inflow.Add(p.Amount)
		case p.DebitAccountID == wallet:
			out.PostingCount++
			out.Outflow = out.Outflow.Add(p.Amount)
			switch p.CreditAccountID {
			case ledger.PlatformRevenueAccountID:
				out.FeesPaid = out.FeesPaid.Add(p.Amount)
			case ledger.PendingPayoutAccountID:
				out.Withdrawn = out.Withdrawn.Add(p.Amount)
			}
		}
	}
	out.Net = out.Inflow.Sub(out.Outflow)
	return out, nil
}

// PendingPayouts sums the payout liability accrued in the range.
func (s *Service) PendingPayouts(ctx context.Context, req PendingPayoutRequest) (PendingPayoutSummary, error) {
	if err := validateRange(req.Range); err != nil {
		return PendingPayoutSummary{}, err
	}
	if s.source == nil {
		return PendingPayoutSummary{}, errors.New("reporting: posting source not configured")
	}

	postings, err := s.source.PostingsBetween(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return PendingPayoutSummary{}, err
	}

	out := PendingPayoutSummary{Currency: money.Currency}
	for _, p := range postings {
		if p.CreditAccountID == ledger.PendingPayoutAccountID {
			out.PostingCount++
			out.Accrued = out.Accrued.Add(p.Amount)
		}
	}
	return out, nil
}

func validateRange(r TimeRange) error {
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return ErrInvalidRequest
	}
	return nil
}
