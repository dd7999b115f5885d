package handler

import (
	"donation-gateway/internal/adapter/http/dto"
	"donation-gateway/internal/adapter/http/middleware"
	"donation-gateway/internal/core/ports"
	"donation-gateway/pkg/response"

	"github.com/gin-gonic/gin"
)

// WebhookHandler receives provider callbacks.
type WebhookHandler struct {
	ingestor ports.WebhookIngestor
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(ingestor ports.WebhookIngestor) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor}
}

// Receive handles POST /v1/webhooks/:provider. The body is passed on
// verbatim; signatures are computed over the raw bytes.
func (h *WebhookHandler) Receive(c *gin.Context) {
	raw, err := middleware.ReadBody(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	res, err := h.ingestor.Ingest(c.Request.Context(), c.Param("provider"), raw, c.Request.Header)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.WebhookAckResponse{
		EventID:   res.Event.ID.String(),
		Duplicate: res.Duplicate,
	})
}
