package fees

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// FeeConfiguration is an immutable, versioned snapshot of platform fee policy.
// Percentages are expressed as whole percents (3 means 3%).
//
// Auditability invariant: every settled transaction and withdrawal records the
// Version it was priced with; swapping configuration must never retroactively
// change settled records.
type FeeConfiguration struct {
	Version int

	// BuyerFeePct is charged on top of the purchase amount to the buyer.
	BuyerFeePct decimal.Decimal
	// SellerFeePct is deducted from the seller payout (also each trade
	// party's fee on their own declared value).
	SellerFeePct decimal.Decimal

	// WithdrawalFlatFee is the platform's flat fee per withdrawal.
	WithdrawalFlatFee decimal.Decimal
	// ProcessingFeePct is a pass-through payment-rail estimate, not
	// platform revenue.
	ProcessingFeePct decimal.Decimal

	// MonthlySubscriptionFee is billed against the pharmacy wallet once per
	// calendar month.
	MonthlySubscriptionFee decimal.Decimal
}

func (c FeeConfiguration) Validate() error {
	var errs []error
	if c.Version <= 0 {
		errs = append(errs, errors.New("fee config version must be positive"))
	}
	for _, p := range []struct {
		name string
		v    decimal.Decimal
	}{
		{"buyer_fee_pct", c.BuyerFeePct},
		{"seller_fee_pct", c.SellerFeePct},
		{"processing_fee_pct", c.ProcessingFeePct},
	} {
		if p.v.Sign() < 0 || p.v.GreaterThan(decimal.NewFromInt(100)) {
			errs = append(errs, fmt.Errorf("%s must be within [0,100], got %s", p.name, p.v))
		}
	}
	if c.WithdrawalFlatFee.Sign() < 0 {
		errs = append(errs, errors.New("withdrawal_flat_fee must not be negative"))
	}
	if c.MonthlySubscriptionFee.Sign() < 0 {
		errs = append(errs, errors.New("monthly_subscription_fee must not be negative"))
	}
	return errors.Join(errs...)
}

// Store holds the process-wide current FeeConfiguration and supports
// hot-reload via Swap. Reads never block writers for long; the configuration
// value itself is immutable.
type Store struct {
	mu      sync.RWMutex
	current FeeConfiguration
}

func NewStore(initial FeeConfiguration) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Store{current: initial}, nil
}

func (s *Store) Current() FeeConfiguration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Swap installs a new configuration. The version must strictly increase so
// audit records remain unambiguous.
func (s *Store) Swap(next FeeConfiguration) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if next.Version <= s.current.Version {
		return fmt.Errorf("fee config version must increase: current %d, got %d", s.current.Version, next.Version)
	}
	s.current = next
	return nil
}
