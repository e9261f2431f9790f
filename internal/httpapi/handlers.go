package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

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

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth         *auth.Manager
	Settlements  *settlement.Engine
	Transactions settlement.Repository
	Withdrawals  *withdrawal.Service
	Ledger       ledger.Store
	Reports      *reporting.Service
	FeeStore     *fees.Store
	OnFeeChange  func(c *gin.Context, adminID, adminRole string, next fees.FeeConfiguration)
}

// statusFor maps domain sentinel errors onto HTTP status codes. Anything
// unmapped is a 500; handlers must not leak internals for those.
func statusFor(err error) int {
	switch {
	case errors.Is(err, settlement.ErrInvalidRequest),
		errors.Is(err, withdrawal.ErrInvalidArgument),
		errors.Is(err, fees.ErrInvalidAmount),
		errors.Is(err, fees.ErrUnknownSubtype),
		errors.Is(err, ledger.ErrInvalidPosting),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, settlement.ErrPartyNotFound),
		errors.Is(err, settlement.ErrTransactionNotFound),
		errors.Is(err, withdrawal.ErrNotFound),
		errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, settlement.ErrDuplicateReference),
		errors.Is(err, withdrawal.ErrAlreadyDecided):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, withdrawal.ErrStaleBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrStoreTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// --- Auth ---

type loginRequest struct {
	UserID     string `json:"user_id"`
	PharmacyID string `json:"pharmacy_id"`
	Role       string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.PharmacyID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Settlement ---

// Settle runs one marketplace transaction through the settlement engine.
// RBAC: finance or admin (the marketplace backend authenticates as finance).
func (h Handlers) Settle(c *gin.Context) {
	var req settlement.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, err := h.Settlements.Settle(c.Request.Context(), req)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetSettlement returns the persisted transaction for a marketplace reference.
func (h Handlers) GetSettlement(c *gin.Context) {
	ref := c.Param("ref")
	if ref == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "marketplace reference required"})
		return
	}
	tx, found, err := h.Transactions.FindByRef(c.Request.Context(), ref)
	if err != nil {
		abortWith(c, err)
		return
	}
	if !found {
		abortWith(c, settlement.ErrTransactionNotFound)
		return
	}
	c.JSON(http.StatusOK, tx)
}

type subscriptionChargeRequest struct {
	PharmacyID string `json:"pharmacy_id"`
	// Period is the calendar month being billed, e.g. "2025-06".
	Period string `json:"period"`
}

// ChargeSubscription bills one pharmacy's monthly subscription. Idempotent
// per pharmacy and period.
func (h Handlers) ChargeSubscription(c *gin.Context) {
	var req subscriptionChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, err := h.Settlements.ChargeSubscription(c.Request.Context(), req.PharmacyID, req.Period)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Wallet ---

// GetWalletBalance returns the calling pharmacy's wallet balance.
func (h Handlers) GetWalletBalance(c *gin.Context) {
	pharmacyID, err := auth.PharmacyID(c.Request.Context())
	if err != nil || pharmacyID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "pharmacy_id required"})
		return
	}
	bal, err := h.Ledger.Balance(c.Request.Context(), ledger.WalletAccountID(pharmacyID))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

// --- Withdrawals ---

type createWithdrawalRequest struct {
	Amount               decimal.Decimal `json:"amount"`
	PayoutMethodVerified bool            `json:"payout_method_verified"`
	VerifiedAt           time.Time       `json:"verified_at,omitempty"`
}

// CreateWithdrawal files a withdrawal request for the calling pharmacy.
func (h Handlers) CreateWithdrawal(c *gin.Context) {
	pharmacyID, err := auth.PharmacyID(c.Request.Context())
	if err != nil || pharmacyID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "pharmacy_id required"})
		return
	}
	var req createWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	out, err := h.Withdrawals.Create(c.Request.Context(), withdrawal.CreateInput{
		PharmacyID:           pharmacyID,
		Amount:               req.Amount,
		PayoutMethodVerified: req.PayoutMethodVerified,
		VerifiedAt:           req.VerifiedAt,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

// ListWithdrawals returns the calling pharmacy's withdrawal history.
func (h Handlers) ListWithdrawals(c *gin.Context) {
	pharmacyID, err := auth.PharmacyID(c.Request.Context())
	if err != nil || pharmacyID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "pharmacy_id required"})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	out, err := h.Withdrawals.List(c.Request.Context(), pharmacyID, limit)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": out})
}

type decideWithdrawalRequest struct {
	Decision withdrawal.Decision `json:"decision"`
	Notes    string              `json:"notes,omitempty"`
}

// DecideWithdrawal applies an admin approve/reject decision.
// RBAC: finance or admin.
func (h Handlers) DecideWithdrawal(c *gin.Context) {
	adminID, err := auth.UserID(c.Request.Context())
	if err != nil || adminID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	withdrawalID := c.Param("id")
	var req decideWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, err := h.Withdrawals.Decide(c.Request.Context(), withdrawalID, adminID, req.Decision, req.Notes)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Fee configuration ---

// GetFeeConfig returns the active fee configuration.
func (h Handlers) GetFeeConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.FeeStore.Current())
}

// SwapFeeConfig installs a new fee configuration version.
// RBAC: super_admin only; the change is audit-logged via OnFeeChange.
func (h Handlers) SwapFeeConfig(c *gin.Context) {
	var next fees.FeeConfiguration
	if err := c.ShouldBindJSON(&next); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.FeeStore.Swap(next); err != nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if h.OnFeeChange != nil {
		adminID, _ := auth.UserID(c.Request.Context())
		adminRole, _ := auth.Role(c.Request.Context())
		h.OnFeeChange(c, adminID, adminRole, next)
	}
	c.JSON(http.StatusOK, next)
}

// --- Reports ---

func parseRange(c *gin.Context) (reporting.TimeRange, bool) {
	from, err1 := time.Parse(time.RFC3339, c.Query("from"))
	to, err2 := time.Parse(time.RFC3339, c.Query("to"))
	if err1 != nil || err2 != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC3339 timestamps"})
		return reporting.TimeRange{}, false
	}
	return reporting.TimeRange{From: from, To: to}, true
}

// RevenueReport aggregates platform revenue over a range.
// RBAC: finance, admin.
func (h Handlers) RevenueReport(c *gin.Context) {
	r, ok := parseRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.RevenueSummary(c.Request.Context(), reporting.RevenueSummaryRequest{Range: r})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// PendingPayoutsReport sums approved-but-undisbursed payout liability.
func (h Handlers) PendingPayoutsReport(c *gin.Context) {
	r, ok := parseRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.PendingPayouts(c.Request.Context(), reporting.PendingPayoutRequest{Range: r})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// CashFlowReport returns the calling pharmacy's wallet movement.
func (h Handlers) CashFlowReport(c *gin.Context) {
	pharmacyID, err := auth.PharmacyID(c.Request.Context())
	if err != nil || pharmacyID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "pharmacy_id required"})
		return
	}
	r, ok := parseRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.CashFlow(c.Request.Context(), reporting.CashFlowRequest{PharmacyID: pharmacyID, Range: r})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Convenience middleware bundles.

func RequirePharmacyAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequirePharmacy(), rbac.RequireAnyRole(roles...)}
}
