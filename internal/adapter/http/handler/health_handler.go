package handler

import (
	"net/http"

	"donation-gateway/internal/adapter/http/dto"
	"donation-gateway/internal/core/ports"
	"donation-gateway/pkg/response"

	"github.com/gin-gonic/gin"
)

// HealthCheck handles GET /health: a deep check of every dependency.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}

// Info handles GET /v1/info.
func Info(service, version string, invoices ports.InvoiceService) gin.HandlerFunc {
	return func(c *gin.Context) {
		policies := invoices.SupportedChains()
		chains := make([]dto.ChainInfo, 0, len(policies))
		for _, p := range policies {
			chains = append(chains, dto.ChainInfo{
				Name:                  p.Name,
				Tokens:                p.Tokens,
				RequiredConfirmations: p.RequiredConfirmations,
				MemoRequired:          p.MemoRequired,
			})
		}
		response.OK(c, dto.InfoResponse{Service: service, Version: version, Chains: chains})
	}
}
