package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pharmasave-core/internal/audit"
	"pharmasave-core/internal/auth"
	"pharmasave-core/internal/fees"
	"pharmasave-core/internal/ledger"
	"pharmasave-core/internal/rbac"
	"pharmasave-core/internal/reporting"
	"pharmasave-core/internal/settlement"
	"pharmasave-core/internal/withdrawal"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type env struct {
	handlers Handlers
	store    *ledger.MemoryStore
}

func newEnv(t *testing.T) *env {
	t.Helper()

	feeStore, err := fees.NewStore(fees.FeeConfiguration{
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
	policy := fees.NewPolicy(feeStore)

	store := ledger.NewMemoryStore()
	for _, id := range []string{
		ledger.WalletAccountID("ph-a"),
		ledger.WalletAccountID("ph-b"),
		ledger.PlatformRevenueAccountID,
		ledger.PendingPayoutAccountID,
		ledger.PlatformExpenseAccountID,
	} {
		store.CreateAccount(ledger.Account{ID: id})
	}
	store.Seed(ledger.WalletAccountID("ph-a"), dec("500.00"))
	store.Seed(ledger.WalletAccountID("ph-b"), dec("500.00"))

	txRepo := settlement.NewMemoryRepository()
	wRepo := withdrawal.NewMemoryRepository()
	auditSvc := audit.NewService(audit.NewMemoryRepo())

	h := Handlers{
		Settlements:  settlement.NewEngine(txRepo, store, policy),
		Transactions: txRepo,
		Withdrawals:  withdrawal.NewService(wRepo, store, policy, withdrawal.NewEvaluator(withdrawal.RiskConfig{}), auditSvc),
		Ledger:       store,
		Reports:      reporting.NewService(store),
		FeeStore:     feeStore,
	}
	return &env{handlers: h, store: store}
}

// identityMW injects a fake authenticated identity, standing in for the JWT
// middleware.
func identityMW(userID, pharmacyID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, pharmacyID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSettleEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := newEnv(t)

	r := gin.New()
	r.POST("/settlements", identityMW("svc-marketplace", "", rbac.RoleFinance), rbac.RequireAnyRole(rbac.RoleFinance, rbac.RoleAdmin), e.handlers.Settle)

	w := doJSON(t, r, http.MethodPost, "/settlements", gin.H{
		"transaction_type":  "purchase",
		"party_a_id":        "ph-a",
		"party_b_id":        "ph-b",
		"amount_or_value_a": "35.00",
		"marketplace_ref":   "order-100",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var res settlement.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if !res.PartyAPays.Equal(dec("36.05")) {
		t.Fatalf("party A pays %s, want 36.05", res.PartyAPays)
	}
	if !res.PartyBReceives.Equal(dec("33.95")) {
		t.Fatalf("party B receives %s, want 33.95", res.PartyBReceives)
	}
}

func TestSettleUnknownPartyIs404(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := newEnv(t)

	r := gin.New()
	r.POST("/settlements", e.handlers.Settle)

	w := doJSON(t, r, http.MethodPost, "/settlements", gin.H{
		"transaction_type":  "purchase",
		"party_a_id":        "ghost",
		"party_b_id":        "ph-b",
		"amount_or_value_a": "10.00",
		"marketplace_ref":   "order-404",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetSettlementByRef(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := newEnv(t)

	r := gin.New()
	r.POST("/settlements", e.handlers.Settle)
	r.GET("/settlements/:ref", e.handlers.GetSettlement)

	w := doJSON(t, r, http.MethodPost, "/settlements", gin.H{
		"transaction_type":  "purchase",
		"party_a_id":        "ph-a",
		"party_b_id":        "ph-b",
		"amount_or_value_a": "20.00",
		"marketplace_ref":   "order-200",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("settle: expected 200, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/settlements/order-200", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var tx settlement.Transaction
	if err := json.Unmarshal(w.Body.Bytes(), &tx); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tx.Status != settlement.StatusSettled {
		t.Fatalf("status = %s, want %s", tx.Status, settlement.StatusSettled)
	}

	w = doJSON(t, r, http.MethodGet, "/settlements/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing ref: expected 404, got %d", w.Code)
	}
}

func TestWithdrawalFlow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := newEnv(t)

	pharmacy := gin.New()
	pharmacy.POST("/withdrawals", identityMW("user-1", "ph-a", rbac.RolePharmacy), rbac.RequirePharmacy(), e.handlers.CreateWithdrawal)

	admin := gin.New()
	admin.POST("/admin/withdrawals/:id/decision", identityMW("admin-1", "", rbac.RoleAdmin), rbac.RequireAnyRole(rbac.RoleFinance, rbac.RoleAdmin), e.handlers.DecideWithdrawal)

	w := doJSON(t, pharmacy, http.MethodPost, "/withdrawals", gin.H{
		"amount":                 "200.00",
		"payout_method_verified": true,
		"verified_at":            time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var req withdrawal.Request
	if err := json.Unmarshal(w.Body.Bytes(), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Status != withdrawal.StatusPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}

	w = doJSON(t, admin, http.MethodPost, "/admin/withdrawals/"+req.ID+"/decision", gin.H{
		"decision": "approve",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("decide: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res withdrawal.DecisionResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Status != withdrawal.StatusProcessing {
		t.Fatalf("decision status = %s, want processing", res.Status)
	}
	if !res.WalletBalance.Equal(dec("300.00")) {
		t.Fatalf("wallet balance = %s, want 300.00", res.WalletBalance)
	}

	// Second decide must conflict.
	w = doJSON(t, admin, http.MethodPost, "/admin/withdrawals/"+req.ID+"/decision", gin.H{
		"decision": "reject",
		"notes":    "changed my mind",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("double decide: expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDecideRejectWithoutNotesIs400(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := newEnv(t)

	pharmacy := gin.New()
	pharmacy.POST("/withdrawals", identityMW("user-1", "ph-a", rbac.RolePharmacy), e.handlers.CreateWithdrawal)
	admin := gin.New()
	admin.POST("/admin/withdrawals/:id/decision", identityMW("admin-1", "", rbac.RoleAdmin), e.handlers.DecideWithdrawal)

	w := doJSON(t, pharmacy, http.MethodPost, "/withdrawals", gin.H{"amount": "50.00", "payout_method_verified": true})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", w.Code)
	}
	var req withdrawal.Request
	if err := json.Unmarshal(w.Body.Bytes(), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = doJSON(t, admin, http.MethodPost, "/admin/withdrawals/"+req.ID+"/decision", gin.H{"decision": "reject"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWalletBalanceRequiresPharmacyScope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := newEnv(t)

	r := gin.New()
	r.GET("/wallets/balance", identityMW("admin-1", "", rbac.RoleAdmin), e.handlers.GetWalletBalance)
	w := doJSON(t, r, http.MethodGet, "/wallets/balance", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	r = gin.New()
	r.GET("/wallets/balance", identityMW("user-1", "ph-a", rbac.RolePharmacy), e.handlers.GetWalletBalance)
	w = doJSON(t, r, http.MethodGet, "/wallets/balance", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var bal ledger.Balance
	if err := json.Unmarshal(w.Body.Bytes(), &bal); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bal.Amount.Equal(dec("500.00")) {
		t.Fatalf("balance = %s, want 500.00", bal.Amount)
	}
}

func TestSwapFeeConfigVersionConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := newEnv(t)

	var logged bool
	e.handlers.OnFeeChange = func(c *gin.Context, adminID, adminRole string, next fees.FeeConfiguration) {
		logged = true
	}

	r := gin.New()
	r.PUT("/admin/fees", identityMW("root-1", "", rbac.RoleSuperAdmin), rbac.RequireAnyRole(rbac.RoleSuperAdmin), e.handlers.SwapFeeConfig)

	// Same version must be rejected.
	w := doJSON(t, r, http.MethodPut, "/admin/fees", gin.H{
		"Version":     1,
		"BuyerFeePct": "2",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPut, "/admin/fees", gin.H{
		"Version":           2,
		"BuyerFeePct":       "2",
		"SellerFeePct":      "3",
		"WithdrawalFlatFee": "5.00",
		"ProcessingFeePct":  "1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !logged {
		t.Fatalf("expected fee change hook to fire")
	}
	if e.handlers.FeeStore.Current().Version != 2 {
		t.Fatalf("fee store version = %d, want 2", e.handlers.FeeStore.Current().Version)
	}
}

func TestRevenueReportEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := newEnv(t)

	settle := gin.New()
	settle.POST("/settlements", e.handlers.Settle)
	w := doJSON(t, settle, http.MethodPost, "/settlements", gin.H{
		"transaction_type":  "purchase",
		"party_a_id":        "ph-a",
		"party_b_id":        "ph-b",
		"amount_or_value_a": "35.00",
		"marketplace_ref":   "order-300",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("settle: expected 200, got %d", w.Code)
	}

	r := gin.New()
	r.GET("/admin/reports/revenue", identityMW("fin-1", "", rbac.RoleFinance), e.handlers.RevenueReport)

	from := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	to := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	w = doJSON(t, r, http.MethodGet, "/admin/reports/revenue?from="+from+"&to="+to, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("report: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out reporting.RevenueSummary
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.TotalRevenue.Equal(dec("2.10")) {
		t.Fatalf("total revenue = %s, want 2.10", out.TotalRevenue)
	}

	// Missing range params are a 400.
	w = doJSON(t, r, http.MethodGet, "/admin/reports/revenue", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
