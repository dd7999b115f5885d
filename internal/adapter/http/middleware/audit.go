package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog records successful write operations. Routes are matched by
// their registered pattern, not the concrete path.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only audit successful write operations (status 2xx)
		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			return
		}

		action, resourceType := mapRouteToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		actor := c.GetString(CtxOperator)
		if actor == "" {
			actor = c.GetString(CtxClientID)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			Actor:        actor,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   resourceID(c),
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now(),
		})
	}
}

func resourceID(c *gin.Context) string {
	for _, p := range []string{"invoiceId", "provider"} {
		if v := c.Param(p); v != "" {
			return v
		}
	}
	return ""
}

func mapRouteToAction(route, method string) (domain.AuditAction, string) {
	if method != http.MethodPost {
		return "", ""
	}
	switch {
	case route == "/v1/donations":
		return domain.AuditActionCreateDonation, "donation"
	case strings.HasPrefix(route, "/v1/webhooks/"):
		return domain.AuditActionWebhookReceived, "webhook_event"
	case route == "/v1/admin/login":
		return domain.AuditActionAdminLogin, "session"
	case route == "/v1/admin/donations/:invoiceId/compliance":
		return domain.AuditActionComplianceDecision, "donation"
	case route == "/v1/admin/wallets":
		return domain.AuditActionWalletAdded, "wallet"
	}
	return "", ""
}
