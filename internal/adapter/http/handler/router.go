package handler

import (
	"donation-gateway/internal/adapter/http/middleware"
	"donation-gateway/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Invoices       ports.InvoiceService
	Webhooks       ports.WebhookIngestor
	Admin          ports.AdminService
	SigSvc         ports.SignatureService
	NonceStore     ports.NonceStore
	TokenSvc       ports.TokenService
	ClientAuth     middleware.ClientAuthConfig
	OperatorRole   string
	RateLimiter    ports.RateLimiter // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = audit logging disabled
	MaxBodyBytes   int64
	Mode           string
	Version        string
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	switch deps.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(deps.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}
	if deps.OperatorRole == "" {
		deps.OperatorRole = "operator"
	}

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(deps.MaxBodyBytes))

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimiter, group, rule, deps.Logger)
	}

	v1 := r.Group("/v1")
	v1.GET("/info", Info("donation-gateway", deps.Version, deps.Invoices))

	donationHandler := NewDonationHandler(deps.Invoices, deps.Logger)
	clientAuth := middleware.ClientAuth(deps.ClientAuth, deps.SigSvc, deps.NonceStore, deps.Logger)
	donations := v1.Group("/donations")
	{
		donations.POST("", clientAuth, rl("donations_create"), donationHandler.Create)
		donations.GET("/tx/:txid", rl("donations_read"), donationHandler.GetByTxid)
		donations.GET("/:invoiceId", rl("donations_read"), donationHandler.Get)
	}

	webhookHandler := NewWebhookHandler(deps.Webhooks)
	v1.POST("/webhooks/:provider", rl("webhooks"), webhookHandler.Receive)

	adminHandler := NewAdminHandler(deps.Admin)
	v1.POST("/admin/login", rl("admin_login"), adminHandler.Login)

	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.OperatorRole, deps.Logger)
	admin := v1.Group("/admin", jwtAuth, rl("admin"))
	{
		admin.GET("/dead-letters", adminHandler.ListDeadLetters)
		admin.POST("/donations/:invoiceId/compliance", adminHandler.DecideCompliance)
		admin.GET("/wallets", adminHandler.ListWallets)
		admin.POST("/wallets", adminHandler.AddWallet)
	}

	return r
}
