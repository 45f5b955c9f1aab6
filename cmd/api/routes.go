package main

import (
	"log/slog"

	"memorial-credits/internal/app"
	"memorial-credits/internal/auth"
	"memorial-credits/internal/config"
	"memorial-credits/internal/httpapi"
	"memorial-credits/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// newRouter builds the gin engine. Keep this file free of business logic.
func newRouter(cfg config.Config, log *slog.Logger, a *app.App, m *auth.Manager) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	r.Use(logger.Middleware(log))

	httpapi.Register(r, httpapi.Handlers{
		Wallet:       a.Wallet,
		Payments:     a.Payments,
		Orphans:      a.Orphans,
		Reconciler:   a.Reconcile,
		Statements:   a.Reporting,
		WebhookToken: cfg.Payments.WebhookToken,
	}, httpapi.Middleware{
		Auth:    auth.RequireAccessToken(m),
		Spender: a.Coordinator,
	})
	return r
}
