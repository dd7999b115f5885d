package handler

import (
	"strconv"

	"donation-gateway/internal/adapter/http/dto"
	"donation-gateway/internal/core/ports"
	"donation-gateway/pkg/apperror"
	"donation-gateway/pkg/response"

	"github.com/gin-gonic/gin"
)

const defaultDeadLetterLimit = 50

// AdminHandler serves the operator endpoints.
type AdminHandler struct {
	admin ports.AdminService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(admin ports.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// Login handles POST /v1/admin/login.
func (h *AdminHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	res, err := h.admin.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.LoginResponse{Token: res.Token, Expiry: res.ExpiresAt.Unix()})
}

// ListDeadLetters handles GET /v1/admin/dead-letters?limit=.
func (h *AdminHandler) ListDeadLetters(c *gin.Context) {
	limit := defaultDeadLetterLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, apperror.Validation("limit must be an integer"))
			return
		}
		limit = n
	}

	items, err := h.admin.ListDeadLetters(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.DeadLetterListResponse{Items: items, Count: len(items)})
}

// DecideCompliance handles POST /v1/admin/donations/:invoiceId/compliance.
func (h *AdminHandler) DecideCompliance(c *gin.Context) {
	var req dto.ComplianceDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	d, err := h.admin.DecideCompliance(c.Request.Context(), c.Param("invoiceId"), *req.Approve)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewDonationResponse(d, ""))
}

// ListWallets handles GET /v1/admin/wallets?chain=.
func (h *AdminHandler) ListWallets(c *gin.Context) {
	chain := c.Query("chain")
	if chain == "" {
		response.Error(c, apperror.Validation("chain query parameter is required"))
		return
	}

	items, err := h.admin.ListWallets(c.Request.Context(), chain)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.WalletListResponse{Items: items, Count: len(items)})
}

// AddWallet handles POST /v1/admin/wallets.
func (h *AdminHandler) AddWallet(c *gin.Context) {
	var req dto.AddWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	w, err := h.admin.AddWallet(c.Request.Context(), req.Chain, req.Address)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, w)
}
