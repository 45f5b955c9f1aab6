package httpapi

import (
	"memorial-credits/internal/rbac"
	"memorial-credits/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Middleware carries the request guards Register needs.
type Middleware struct {
	// Auth verifies the bearer token and places the identity in context.
	Auth gin.HandlerFunc
	// Spender charges one credit for POST /v1/credits/spend.
	Spender wallet.Spender
}

// Register wires HTTP routes to handlers.
// Keep this free of business logic. Handlers delegate to internal modules.
func Register(r gin.IRouter, h Handlers, mw Middleware) {
	r.GET("/healthz", h.Healthz)

	// Gateway webhook (public, shared-token).
	r.POST("/webhooks/payments", h.PaymentWebhook)

	v1 := r.Group("/v1")
	v1.Use(mw.Auth)

	credits := v1.Group("/credits")
	credits.Use(rbac.RequirePrincipal(), rbac.RequireAnyRole(rbac.RoleMember, rbac.RolePartner))
	{
		credits.GET("/balance", h.Balance)
		credits.POST("/spend", wallet.RequireCredit(mw.Spender), h.Spend)
	}

	// Only admin may move credits by hand or trigger recovery.
	admin := v1.Group("/admin")
	admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
	{
		admin.POST("/wallets/grant", h.AdminGrant)
		admin.POST("/wallets/transfer", h.AdminTransfer)
		admin.GET("/wallets/:owner_type/:owner_id/statement", h.Statement)
		admin.GET("/orphans/:identity", h.AdminOrphans)
		admin.POST("/reconcile", h.Reconcile)
		admin.POST("/reconcile/sweep", h.Sweep)
	}
}
