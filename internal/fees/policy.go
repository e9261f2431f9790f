package fees

import (
	"errors"
	"fmt"

	"pharmasave-core/internal/money"

	"github.com/shopspring/decimal"
)

// Transaction classification. Subtypes are derived by the settlement engine
// from the transaction type and declared values; the fee policy selects fee
// logic by subtype only.

type TransactionType string

const (
	TransactionTypePurchase     TransactionType = "purchase"
	TransactionTypeTrade        TransactionType = "trade"
	TransactionTypeSubscription TransactionType = "subscription"
)

type Subtype string

const (
	SubtypeStandardPurchase  Subtype = "standard_purchase"
	SubtypeEqualTrade        Subtype = "equal_trade"
	SubtypeUnequalTradeAPays Subtype = "unequal_trade_a_pays"
	SubtypeUnequalTradeBPays Subtype = "unequal_trade_b_pays"
	SubtypeSubscription      Subtype = "subscription"
)

var (
	ErrInvalidAmount  = errors.New("fees: amount must be positive")
	ErrUnknownSubtype = errors.New("fees: unknown type/subtype combination")
)

// Breakdown is the fee result for a purchase or trade.
// PartyAFee/PartyBFee are each party's own platform fee; the fee is always
// computed on that party's own amount, never on a net difference.
type Breakdown struct {
	PartyAFee        decimal.Decimal
	PartyBFee        decimal.Decimal
	TotalPlatformFee decimal.Decimal
	ConfigVersion    int
}

// WithdrawalFees splits a withdrawal into the platform's flat fee and the
// pass-through processing estimate.
type WithdrawalFees struct {
	PlatformFee   decimal.Decimal
	ProcessingFee decimal.Decimal
	NetAmount     decimal.Decimal
	ConfigVersion int
}

// Policy is a pure fee calculator over the current FeeConfiguration.
type Policy struct {
	store *Store
}

func NewPolicy(store *Store) *Policy {
	return &Policy{store: store}
}

// ForTransaction computes the platform fees for a purchase or trade.
//
// Purchase: valueA is the purchase amount; party A (buyer) pays buyer_fee%
// on it, party B (seller) has seller_fee% deducted from the payout.
// Trade: each party pays seller_fee% on their own declared value, whether or
// not the declared values are equal.
func (p *Policy) ForTransaction(typ TransactionType, sub Subtype, valueA, valueB decimal.Decimal) (Breakdown, error) {
	cfg := p.store.Current()

	switch {
	case typ == TransactionTypePurchase && sub == SubtypeStandardPurchase:
		if err := money.RequirePositive(valueA); err != nil {
			return Breakdown{}, fmt.Errorf("%w: %s", ErrInvalidAmount, valueA)
		}
		buyerFee := money.Percent(valueA, cfg.BuyerFeePct)
		sellerFee := money.Percent(valueA, cfg.SellerFeePct)
		return Breakdown{
			PartyAFee:        buyerFee,
			PartyBFee:        sellerFee,
			TotalPlatformFee: buyerFee.Add(sellerFee),
			ConfigVersion:    cfg.Version,
		}, nil

	case typ == TransactionTypeTrade &&
		(sub == SubtypeEqualTrade || sub == SubtypeUnequalTradeAPays || sub == SubtypeUnequalTradeBPays):
		if err := money.RequirePositive(valueA); err != nil {
			return Breakdown{}, fmt.Errorf("%w: %s", ErrInvalidAmount, valueA)
		}
		if err := money.RequirePositive(valueB); err != nil {
			return Breakdown{}, fmt.Errorf("%w: %s", ErrInvalidAmount, valueB)
		}
		feeA := money.Percent(valueA, cfg.SellerFeePct)
		feeB := money.Percent(valueB, cfg.SellerFeePct)
		return Breakdown{
			PartyAFee:        feeA,
			PartyBFee:        feeB,
			TotalPlatformFee: feeA.Add(feeB),
			ConfigVersion:    cfg.Version,
		}, nil

	default:
		return Breakdown{}, fmt.Errorf("%w: type=%s subtype=%s", ErrUnknownSubtype, typ, sub)
	}
}

// ForWithdrawal computes fees for a withdrawal request.
// net_amount = amount - platform_fee - processing_fee.
func (p *Policy) ForWithdrawal(amount decimal.Decimal) (WithdrawalFees, error) {
	if err := money.RequirePositive(amount); err != nil {
		return WithdrawalFees{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	cfg := p.store.Current()

	platformFee := money.RoundMinor(cfg.WithdrawalFlatFee)
	processingFee := money.Percent(amount, cfg.ProcessingFeePct)
	net := amount.Sub(platformFee).Sub(processingFee)
	if net.Sign() <= 0 {
		return WithdrawalFees{}, fmt.Errorf("%w: amount %s does not cover fees", ErrInvalidAmount, amount)
	}
	return WithdrawalFees{
		PlatformFee:   platformFee,
		ProcessingFee: processingFee,
		NetAmount:     net,
		ConfigVersion: cfg.Version,
	}, nil
}

// SubscriptionCharge returns the current monthly subscription fee and the
// configuration version it came from.
func (p *Policy) SubscriptionCharge() (decimal.Decimal, int) {
	cfg := p.store.Current()
	return money.RoundMinor(cfg.MonthlySubscriptionFee), cfg.Version
}
