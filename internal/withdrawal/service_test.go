package withdrawal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pharmasave-core/internal/audit"
	"pharmasave-core/internal/fees"
	"pharmasave-core/internal/ledger"

	"github.com/shopspring/decimal"
)

func testPolicy(t *testing.T) *fees.Policy {
	t.Helper()
	store, err := fees.NewStore(fees.FeeConfiguration{
		Version:                1,
		BuyerFeePct:            dec("3"),
		SellerFeePct:           dec("3"),
		WithdrawalFlatFee:      dec("5.00"),
		ProcessingFeePct:       dec("1"),
		MonthlySubscriptionFee: dec("100.00"),
	})
	if err != nil {
		t.Fatalf("fee store: %v", err)
	}
	return fees.NewPolicy(store)
}

type fixture struct {
	svc   *Service
	repo  *MemoryRepository
	store *ledger.MemoryStore
	audit *audit.MemoryRepo
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := NewMemoryRepository()
	store := ledger.NewMemoryStore()
	auditRepo := audit.NewMemoryRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	store.CreateAccount(ledger.Account{ID: ledger.WalletAccountID("ph-1"), PharmacyID: "ph-1", Kind: ledger.AccountKindWallet})
	store.CreateAccount(ledger.Account{ID: ledger.PlatformRevenueAccountID, Kind: ledger.AccountKindPlatformRevenue})
	store.CreateAccount(ledger.Account{ID: ledger.PendingPayoutAccountID, Kind: ledger.AccountKindPendingPayout})
	store.CreateAccount(ledger.Account{ID: ledger.PlatformExpenseAccountID, Kind: ledger.AccountKindPlatformExpense})
	store.Seed(ledger.WalletAccountID("ph-1"), dec("1000.00"))

	svc := NewService(repo, store, testPolicy(t), NewEvaluator(RiskConfig{}), audit.NewService(auditRepo))
	svc.clock = func() time.Time { return now }
	return &fixture{svc: svc, repo: repo, store: store, audit: auditRepo, now: now}
}

func establishedInput(amount string) CreateInput {
	return CreateInput{
		PharmacyID:           "ph-1",
		Amount:               dec(amount),
		PayoutMethodVerified: true,
		VerifiedAt:           time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreateSnapshotsBalanceAndFees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, establishedInput("200.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.Status != StatusPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}
	if !req.BalanceSnapshot.Equal(dec("1000.00")) {
		t.Fatalf("balance snapshot = %s, want 1000.00", req.BalanceSnapshot)
	}
	// 5.00 flat + 1% of 200.00 = 7.00 total fees.
	if !req.PlatformFee.Equal(dec("5.00")) {
		t.Fatalf("platform fee = %s, want 5.00", req.PlatformFee)
	}
	if !req.ProcessingFee.Equal(dec("2.00")) {
		t.Fatalf("processing fee = %s, want 2.00", req.ProcessingFee)
	}
	if !req.NetAmount.Equal(dec("193.00")) {
		t.Fatalf("net amount = %s, want 193.00", req.NetAmount)
	}
	if req.FeeConfigVersion != 1 {
		t.Fatalf("fee config version = %d, want 1", req.FeeConfigVersion)
	}

	// Intake must not move money.
	bal, err := f.store.Balance(ctx, ledger.WalletAccountID("ph-1"))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !bal.Amount.Equal(dec("1000.00")) {
		t.Fatalf("wallet balance changed at intake: %s", bal.Amount)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"missing pharmacy", CreateInput{Amount: dec("10.00")}, ErrInvalidArgument},
		{"zero amount", establishedInputAmount(decimal.Zero), ErrInvalidArgument},
		{"negative amount", establishedInputAmount(dec("-5.00")), ErrInvalidArgument},
		{"exceeds balance", establishedInput("1000.01"), ledger.ErrInsufficientFunds},
	}
	for _, tc := range cases {
		if _, err := f.svc.Create(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func establishedInputAmount(amount decimal.Decimal) CreateInput {
	in := establishedInput("1.00")
	in.Amount = amount
	return in
}

func TestCreateFlagsSecondDrainForReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, establishedInput("1000.00"))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if f.svc.eval.RequiresReview(first.RiskScore) {
		t.Fatalf("first drain scored %d, expected below review threshold", first.RiskScore)
	}

	second, err := f.svc.Create(ctx, establishedInput("1000.00"))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if !f.svc.eval.RequiresReview(second.RiskScore) {
		t.Fatalf("second drain scored %d with flags %v, expected mandatory review", second.RiskScore, second.Flags)
	}
	if !hasFlag(second.Flags, FlagPendingOverlap) {
		t.Fatalf("expected %s flag, got %v", FlagPendingOverlap, second.Flags)
	}
}

// stubVelocity plays the cross-process tracker: Count reports whatever the
// test seeds, Record remembers what was registered.
type stubVelocity struct {
	count    int
	countErr error
	recorded []string
}

func (s *stubVelocity) Record(_ context.Context, pharmacyID string) (int, error) {
	s.recorded = append(s.recorded, pharmacyID)
	s.count++
	return s.count, nil
}

func (s *stubVelocity) Count(context.Context, string) (int, error) {
	return s.count, s.countErr
}

func TestCreateUsesTrackerVelocity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Another instance already saw two requests in the window; this
	// repository has no history of them.
	tracker := &stubVelocity{count: 2}
	f.svc.WithVelocityTracker(tracker)

	req, err := f.svc.Create(ctx, establishedInput("200.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// 2 x velocity weight (20) on an otherwise clean request.
	if req.RiskScore != 40 {
		t.Fatalf("risk score = %d, want 40 from tracker-reported velocity", req.RiskScore)
	}
	if !hasFlag(req.Flags, FlagHighVelocity) {
		t.Fatalf("expected %s flag, got %v", FlagHighVelocity, req.Flags)
	}
	if len(tracker.recorded) != 1 || tracker.recorded[0] != "ph-1" {
		t.Fatalf("tracker recorded %v, want [ph-1]", tracker.recorded)
	}
}

func TestCreateFallsBackToHistoryOnTrackerError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, establishedInput("100.00")); err != nil {
		t.Fatalf("first create: %v", err)
	}

	f.svc.WithVelocityTracker(&stubVelocity{countErr: errors.New("redis down")})

	req, err := f.svc.Create(ctx, establishedInput("100.00"))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	// One prior request in history: velocity (20) + pending overlap (20).
	if req.RiskScore != 40 {
		t.Fatalf("risk score = %d, want 40 from repository history", req.RiskScore)
	}
	if !hasFlag(req.Flags, FlagHighVelocity) {
		t.Fatalf("expected %s flag, got %v", FlagHighVelocity, req.Flags)
	}
}

func TestDecideApproveMovesMoney(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, establishedInput("200.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := f.svc.Decide(ctx, req.ID, "admin-1", DecisionApprove, "routine payout")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if res.Status != StatusProcessing {
		t.Fatalf("status = %s, want %s", res.Status, StatusProcessing)
	}
	if !res.WalletBalance.Equal(dec("800.00")) {
		t.Fatalf("wallet balance = %s, want 800.00", res.WalletBalance)
	}
	if !res.NetAmount.Equal(dec("193.00")) {
		t.Fatalf("net amount = %s, want 193.00", res.NetAmount)
	}

	checks := []struct {
		account string
		want    string
	}{
		{ledger.WalletAccountID("ph-1"), "800.00"},
		{ledger.PlatformRevenueAccountID, "5.00"},
		{ledger.PlatformExpenseAccountID, "2.00"},
		{ledger.PendingPayoutAccountID, "193.00"},
	}
	for _, c := range checks {
		bal, err := f.store.Balance(ctx, c.account)
		if err != nil {
			t.Fatalf("balance %s: %v", c.account, err)
		}
		if !bal.Amount.Equal(dec(c.want)) {
			t.Fatalf("%s balance = %s, want %s", c.account, bal.Amount, c.want)
		}
	}

	stored, found, err := f.repo.Get(ctx, req.ID)
	if err != nil || !found {
		t.Fatalf("get after decide: found=%v err=%v", found, err)
	}
	if stored.Status != StatusProcessing {
		t.Fatalf("stored status = %s, want %s", stored.Status, StatusProcessing)
	}
	if stored.DecidedBy != "admin-1" {
		t.Fatalf("decided by = %q, want admin-1", stored.DecidedBy)
	}

	events := f.audit.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	if events[0].Type != audit.EventTypeWithdrawalDecision {
		t.Fatalf("audit event type = %s, want %s", events[0].Type, audit.EventTypeWithdrawalDecision)
	}
}

func TestDecideRejectRequiresNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, establishedInput("200.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.svc.Decide(ctx, req.ID, "admin-1", DecisionReject, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("reject without notes: got %v, want %v", err, ErrInvalidArgument)
	}

	res, err := f.svc.Decide(ctx, req.ID, "admin-1", DecisionReject, "payout method mismatch")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.Status != StatusRejected {
		t.Fatalf("status = %s, want %s", res.Status, StatusRejected)
	}

	// Rejection must not move money.
	bal, err := f.store.Balance(ctx, ledger.WalletAccountID("ph-1"))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !bal.Amount.Equal(dec("1000.00")) {
		t.Fatalf("wallet balance = %s, want 1000.00", bal.Amount)
	}
}

func TestDecideStaleBalanceFailsRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, establishedInput("900.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The balance shrinks between request and decision.
	f.store.Seed(ledger.WalletAccountID("ph-1"), dec("100.00"))

	if _, err := f.svc.Decide(ctx, req.ID, "admin-1", DecisionApprove, ""); !errors.Is(err, ErrStaleBalance) {
		t.Fatalf("got %v, want %v", err, ErrStaleBalance)
	}

	stored, _, err := f.repo.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusFailed {
		t.Fatalf("stored status = %s, want %s", stored.Status, StatusFailed)
	}

	// No partial debit.
	bal, err := f.store.Balance(ctx, ledger.WalletAccountID("ph-1"))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !bal.Amount.Equal(dec("100.00")) {
		t.Fatalf("wallet balance = %s, want 100.00", bal.Amount)
	}
}

func TestDecideTwiceReturnsAlreadyDecided(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, establishedInput("200.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Decide(ctx, req.ID, "admin-1", DecisionApprove, ""); err != nil {
		t.Fatalf("first decide: %v", err)
	}
	if _, err := f.svc.Decide(ctx, req.ID, "admin-2", DecisionReject, "too risky"); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("second decide: got %v, want %v", err, ErrAlreadyDecided)
	}
}

func TestDecideConcurrentAppliesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, establishedInput("200.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Decide(ctx, req.ID, "admin-1", DecisionApprove, "")
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, err := range errs {
		switch {
		case err == nil:
			applied++
		case errors.Is(err, ErrAlreadyDecided):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if applied != 1 {
		t.Fatalf("expected exactly one applied decision, got %d", applied)
	}

	bal, err := f.store.Balance(ctx, ledger.WalletAccountID("ph-1"))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !bal.Amount.Equal(dec("800.00")) {
		t.Fatalf("wallet balance = %s, want 800.00 after a single debit", bal.Amount)
	}
}

func TestDecideUnknownRequest(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Decide(context.Background(), "missing", "admin-1", DecisionApprove, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want %v", err, ErrNotFound)
	}
}
