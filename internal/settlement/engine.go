package settlement

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

var (
	ErrInvalidRequest = errors.New("settlement: invalid request")
	ErrPartyNotFound  = errors.New("settlement: party not found")
)

// Engine computes and commits the money-movement consequences of marketplace
// transactions.
//
// Settlement is synchronous and exactly-once per marketplace_ref: the
// transaction record is created first (unique ref), the posting set commits
// atomically through the ledger store, and replays return the stored result.
type Engine struct {
	repo   Repository
	store  ledger.Store
	policy *fees.Policy
	audit  *audit.Service
	clock  func() time.Time
}

func NewEngine(repo Repository, store ledger.Store, policy *fees.Policy) *Engine {
	return &Engine{repo: repo, store: store, policy: policy, clock: time.Now}
}

// WithAudit attaches an audit trail for settlement failures.
func (e *Engine) WithAudit(a *audit.Service) *Engine {
	e.audit = a
	return e
}

// Settle settles one purchase or trade transaction.
//
// Idempotency: if the marketplace_ref has already been settled (or failed),
// the stored result is returned unchanged. If a concurrent settlement of the
// same ref is still in flight, ErrDuplicateReference is returned and the
// caller may retry to observe the final result.
func (e *Engine) Settle(ctx context.Context, req Request) (Result, error) {
	if err := validateRequest(req); err != nil {
		return Result{}, err
	}

	if res, ok, err := e.replay(ctx, req.MarketplaceRef); err != nil || ok {
		return res, err
	}

	// Both parties must hold wallets before any money moves.
	for _, party := range []string{req.PartyAID, req.PartyBID} {
		if _, err := e.store.Account(ctx, ledger.WalletAccountID(party)); err != nil {
			if errors.Is(err, ledger.ErrAccountNotFound) {
				return Result{}, fmt.Errorf("%w: %s", ErrPartyNotFound, party)
			}
			return Result{}, err
		}
	}

	subtype := deriveSubtype(req)
	breakdown, err := e.policy.ForTransaction(req.Type, subtype, req.ValueA, req.ValueB)
	if err != nil {
		return Result{}, err
	}

	now := e.clock().UTC()
	tx := Transaction{
		ID:               uuid.NewString(),
		Type:             req.Type,
		Subtype:          subtype,
		PartyAID:         req.PartyAID,
		PartyBID:         req.PartyBID,
		ValueA:           req.ValueA,
		ValueB:           req.ValueB,
		MarketplaceRef:   req.MarketplaceRef,
		FeeConfigVersion: breakdown.ConfigVersion,
		Status:           StatusPending,
		CreatedAt:        now,
	}
	if err := e.repo.Create(ctx, tx); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			// Lost a concurrent race; surface the winner's result if final.
			if res, ok, rerr := e.replay(ctx, req.MarketplaceRef); rerr != nil || ok {
				return res, rerr
			}
			return Result{}, ErrDuplicateReference
		}
		return Result{}, err
	}

	return e.commit(ctx, tx, breakdown)
}

// replay returns the stored result when the ref already reached a final
// state. ok=false means no final record exists for the ref.
func (e *Engine) replay(ctx context.Context, ref string) (Result, bool, error) {
	prior, found, err := e.repo.FindByRef(ctx, ref)
	if err != nil {
		return Result{}, false, err
	}
	if !found {
		return Result{}, false, nil
	}
	switch prior.Status {
	case StatusSettled:
		return *prior.Result, true, nil
	case StatusFailed:
		return Result{
			Success:            false,
			TransactionSubtype: prior.Subtype,
			MarketplaceRef:     prior.MarketplaceRef,
			FeeConfigVersion:   prior.FeeConfigVersion,
			ErrorMessage:       prior.FailureReason,
		}, true, nil
	default:
		return Result{}, false, nil
	}
}

func (e *Engine) commit(ctx context.Context, tx Transaction, breakdown fees.Breakdown) (Result, error) {
	postings := buildPostings(tx, breakdown)

	balances, err := e.store.ApplyPostings(ctx, postings)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			reason := err.Error()
			if mfErr := e.repo.MarkFailed(ctx, tx.ID, reason, e.clock().UTC()); mfErr != nil {
				return Result{}, fmt.Errorf("mark failed after %v: %w", err, mfErr)
			}
			if e.audit != nil {
				// Best-effort: the failure record itself is authoritative.
				_ = e.audit.LogSettlementFailure(ctx, tx.MarketplaceRef, reason, "")
			}
			return Result{}, err
		}
		// StoreTimeout and other store failures leave the record pending;
		// nothing was committed and the caller may retry the same ref.
		return Result{}, err
	}

	result := buildResult(tx, breakdown, postings, balances)
	if err := e.repo.MarkSettled(ctx, tx.ID, result, e.clock().UTC()); err != nil {
		return Result{}, err
	}
	return result, nil
}

func validateRequest(req Request) error {
	if req.MarketplaceRef == "" {
		return fmt.Errorf("%w: marketplace_ref is required", ErrInvalidRequest)
	}
	if req.PartyAID == "" || req.PartyBID == "" {
		return fmt.Errorf("%w: both party ids are required", ErrInvalidRequest)
	}
	if req.PartyAID == req.PartyBID {
		return fmt.Errorf("%w: parties must differ", ErrInvalidRequest)
	}
	switch req.Type {
	case fees.TransactionTypePurchase:
		if err := money.RequirePositive(req.ValueA); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	case fees.TransactionTypeTrade:
		if err := money.RequirePositive(req.ValueA); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if err := money.RequirePositive(req.ValueB); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	default:
		return fmt.Errorf("%w: unsupported transaction type %q", ErrInvalidRequest, req.Type)
	}
	return nil
}

func deriveSubtype(req Request) fees.Subtype {
	if req.Type == fees.TransactionTypePurchase {
		return fees.SubtypeStandardPurchase
	}
	switch req.ValueA.Cmp(req.ValueB) {
	case 0:
		return fees.SubtypeEqualTrade
	case 1:
		// Party A receives the higher-valued goods and pays the difference.
		return fees.SubtypeUnequalTradeAPays
	default:
		return fees.SubtypeUnequalTradeBPays
	}
}

// buildPostings translates a classified transaction into a balanced posting
// set against the party wallets and the platform revenue account.
func buildPostings(tx Transaction, breakdown fees.Breakdown) []ledger.Posting {
	walletA := ledger.WalletAccountID(tx.PartyAID)
	walletB := ledger.WalletAccountID(tx.PartyBID)
	ref := tx.MarketplaceRef

	var postings []ledger.Posting
	add := func(debit, credit string, amount decimal.Decimal) {
		if amount.Sign() <= 0 {
			return
		}
		postings = append(postings, ledger.Posting{
			DebitAccountID:  debit,
			CreditAccountID: credit,
			Amount:          amount,
			TransactionRef:  ref,
		})
	}

	switch tx.Subtype {
	case fees.SubtypeStandardPurchase:
		// Buyer pays amount to seller; each side's fee goes to the platform.
		add(walletA, walletB, tx.ValueA)
	case fees.SubtypeUnequalTradeAPays:
		add(walletA, walletB, tx.ValueA.Sub(tx.ValueB))
	case fees.SubtypeUnequalTradeBPays:
		add(walletB, walletA, tx.ValueB.Sub(tx.ValueA))
	case fees.SubtypeEqualTrade:
		// No cash changes hands beyond fees.
	}
	add(walletA, ledger.PlatformRevenueAccountID, breakdown.PartyAFee)
	add(walletB, ledger.PlatformRevenueAccountID, breakdown.PartyBFee)
	return postings
}

func buildResult(tx Transaction, breakdown fees.Breakdown, postings []ledger.Posting, balances []ledger.Balance) Result {
	walletA := ledger.WalletAccountID(tx.PartyAID)
	walletB := ledger.WalletAccountID(tx.PartyBID)

	// Net cash position per party, derived from the committed postings so
	// the reported numbers always reconcile with the ledger.
	netA := decimal.Zero
	netB := decimal.Zero
	for _, p := range postings {
		switch p.DebitAccountID {
		case walletA:
			netA = netA.Sub(p.Amount)
		case walletB:
			netB = netB.Sub(p.Amount)
		}
		switch p.CreditAccountID {
		case walletA:
			netA = netA.Add(p.Amount)
		case walletB:
			netB = netB.Add(p.Amount)
		}
	}

	res := Result{
		Success:            true,
		TransactionSubtype: tx.Subtype,
		TotalPlatformFees:  breakdown.TotalPlatformFee,
		MarketplaceRef:     tx.MarketplaceRef,
		FeeConfigVersion:   breakdown.ConfigVersion,
		PartyAPays:         decimal.Zero,
		PartyBPays:         decimal.Zero,
		PartyAReceives:     decimal.Zero,
		PartyBReceives:     decimal.Zero,
		ValueDifference:    decimal.Zero,
	}
	if netA.Sign() < 0 {
		res.PartyAPays = netA.Neg()
	} else {
		res.PartyAReceives = netA
	}
	if netB.Sign() < 0 {
		res.PartyBPays = netB.Neg()
	} else {
		res.PartyBReceives = netB
	}
	if tx.Type == fees.TransactionTypeTrade {
		res.ValueDifference = tx.ValueA.Sub(tx.ValueB).Abs()
	}
	for _, b := range balances {
		switch b.AccountID {
		case walletA:
			res.PartyAFinalBalance = b.Amount
		case walletB:
			res.PartyBFinalBalance = b.Amount
		}
	}
	res.SummaryDescription = summarize(tx, res)
	return res
}

func summarize(tx Transaction, res Result) string {
	switch tx.Subtype {
	case fees.SubtypeStandardPurchase:
		return fmt.Sprintf("purchase settled: buyer %s paid %s, seller %s received %s (platform fees %s)",
			tx.PartyAID, money.Format(res.PartyAPays), tx.PartyBID, money.Format(res.PartyBReceives), money.Format(res.TotalPlatformFees))
	case fees.SubtypeEqualTrade:
		return fmt.Sprintf("equal trade settled: %s and %s exchanged goods of equal declared value %s, each paid their own platform fee (total %s)",
			tx.PartyAID, tx.PartyBID, money.Format(tx.ValueA), money.Format(res.TotalPlatformFees))
	case fees.SubtypeUnequalTradeAPays:
		return fmt.Sprintf("unequal trade settled: %s paid %s including the %s value difference to %s (platform fees %s)",
			tx.PartyAID, money.Format(res.PartyAPays), money.Format(res.ValueDifference), tx.PartyBID, money.Format(res.TotalPlatformFees))
	case fees.SubtypeUnequalTradeBPays:
		return fmt.Sprintf("unequal trade settled: %s paid %s including the %s value difference to %s (platform fees %s)",
			tx.PartyBID, money.Format(res.PartyBPays), money.Format(res.ValueDifference), tx.PartyAID, money.Format(res.TotalPlatformFees))
	default:
		return fmt.Sprintf("transaction %s settled", tx.MarketplaceRef)
	}
}

// ChargeSubscription bills the monthly subscription fee against a pharmacy
// wallet. period is a calendar month like "2026-08"; the charge is
// idempotent per pharmacy and period.
func (e *Engine) ChargeSubscription(ctx context.Context, pharmacyID, period string) (Result, error) {
	if pharmacyID == "" || period == "" {
		return Result{}, fmt.Errorf("%w: pharmacy id and period are required", ErrInvalidRequest)
	}
	fee, version := e.policy.SubscriptionCharge()
	if fee.Sign() <= 0 {
		return Result{}, fmt.Errorf("%w: subscription billing is disabled (fee is zero)", ErrInvalidRequest)
	}

	ref := fmt.Sprintf("subscription:%s:%s", pharmacyID, period)
	if res, ok, err := e.replay(ctx, ref); err != nil || ok {
		return res, err
	}

	wallet := ledger.WalletAccountID(pharmacyID)
	if _, err := e.store.Account(ctx, wallet); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return Result{}, fmt.Errorf("%w: %s", ErrPartyNotFound, pharmacyID)
		}
		return Result{}, err
	}

	now := e.clock().UTC()
	tx := Transaction{
		ID:               uuid.NewString(),
		Type:             fees.TransactionTypeSubscription,
		Subtype:          fees.SubtypeSubscription,
		PartyAID:         pharmacyID,
		ValueA:           fee,
		MarketplaceRef:   ref,
		FeeConfigVersion: version,
		Status:           StatusPending,
		CreatedAt:        now,
	}
	if err := e.repo.Create(ctx, tx); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			if res, ok, rerr := e.replay(ctx, ref); rerr != nil || ok {
				return res, rerr
			}
			return Result{}, ErrDuplicateReference
		}
		return Result{}, err
	}

	postings := []ledger.Posting{{
		DebitAccountID:  wallet,
		CreditAccountID: ledger.PlatformRevenueAccountID,
		Amount:          fee,
		TransactionRef:  ref,
	}}
	balances, err := e.store.ApplyPostings(ctx, postings)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			if mfErr := e.repo.MarkFailed(ctx, tx.ID, err.Error(), e.clock().UTC()); mfErr != nil {
				return Result{}, fmt.Errorf("mark failed after %v: %w", err, mfErr)
			}
			if e.audit != nil {
				_ = e.audit.LogSettlementFailure(ctx, ref, err.Error(), "")
			}
		}
		return Result{}, err
	}

	result := Result{
		Success:            true,
		TransactionSubtype: fees.SubtypeSubscription,
		PartyAPays:         fee,
		PartyBPays:         decimal.Zero,
		PartyAReceives:     decimal.Zero,
		PartyBReceives:     decimal.Zero,
		ValueDifference:    decimal.Zero,
		TotalPlatformFees:  fee,
		MarketplaceRef:     ref,
		FeeConfigVersion:   version,
		SummaryDescription: fmt.Sprintf("monthly subscription %s charged to %s for %s", money.Format(fee), pharmacyID, period),
	}
	for _, b := range balances {
		if b.AccountID == wallet {
			result.PartyAFinalBalance = b.Amount
		}
	}
	if err := e.repo.MarkSettled(ctx, tx.ID, result, e.clock().UTC()); err != nil {
		return Result{}, err
	}
	return result, nil
}
