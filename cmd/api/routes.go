package main

import (
	"pharmasave-core/internal/httpapi"
	"pharmasave-core/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// SETTLEMENT routes: the marketplace backend authenticates as finance.
		settlements := v1.Group("/settlements")
		settlements.Use(rbac.RequireAnyRole(rbac.RoleFinance, rbac.RoleAdmin))
		{
			settlements.POST("", h.Settle)
			settlements.GET("/:ref", h.GetSettlement)
		}

		// PHARMACY routes: wallet balance, withdrawals, own cash flow.
		wallets := v1.Group("/wallet")
		wallets.Use(rbac.RequirePharmacy())
		wallets.Use(rbac.RequireAnyRole(rbac.RolePharmacy))
		{
			wallets.GET("/balance", h.GetWalletBalance)
			wallets.GET("/cashflow", h.CashFlowReport)
		}

		withdrawals := v1.Group("/withdrawals")
		withdrawals.Use(rbac.RequirePharmacy())
		withdrawals.Use(rbac.RequireAnyRole(rbac.RolePharmacy))
		{
			withdrawals.POST("", h.CreateWithdrawal)
			withdrawals.GET("", h.ListWithdrawals)
		}

		// ADMIN routes
		// Finance handles day-to-day decisions; super_admin bypasses via rbac.
		// Hidden payout_operator is intentionally NOT included.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleFinance, rbac.RoleAdmin))
		{
			admin.GET("/ping", func(c *gin.Context) {
				c.JSON(200, gin.H{"status": "ok"})
			})

			admin.POST("/withdrawals/:id/decision", h.DecideWithdrawal)
			admin.POST("/subscriptions/charge", h.ChargeSubscription)

			admin.GET("/reports/revenue", h.RevenueReport)
			admin.GET("/reports/pending-payouts", h.PendingPayoutsReport)

			admin.GET("/fees", h.GetFeeConfig)
		}

		// Fee configuration swaps are super_admin only.
		v1.PUT("/admin/fees", rbac.RequireAnyRole(rbac.RoleSuperAdmin), h.SwapFeeConfig)
	}
}
