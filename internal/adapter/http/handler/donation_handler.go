package handler

import (
	"strings"

	"donation-gateway/internal/adapter/http/dto"
	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"
	"donation-gateway/pkg/apperror"
	"donation-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DonationHandler serves invoice creation and lookup.
type DonationHandler struct {
	invoices ports.InvoiceService
	log      zerolog.Logger
}

// NewDonationHandler creates a new DonationHandler.
func NewDonationHandler(invoices ports.InvoiceService, log zerolog.Logger) *DonationHandler {
	return &DonationHandler{invoices: invoices, log: log}
}

// Create handles POST /v1/donations. A new donation answers 201, a replay
// of a known invoice id answers 200 with the stored donation.
func (h *DonationHandler) Create(c *gin.Context) {
	var req dto.CreateDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	amountCrypto, err := decimal.NewFromString(req.AmountCrypto)
	if err != nil {
		response.Error(c, apperror.Validation("amount_crypto must be a decimal number"))
		return
	}
	amountUSD, err := decimal.NewFromString(req.AmountUSD)
	if err != nil {
		response.Error(c, apperror.Validation("amount_usd must be a decimal number"))
		return
	}

	d, created, err := h.invoices.CreateInvoice(c.Request.Context(), ports.CreateInvoiceRequest{
		InvoiceID:     req.InvoiceID,
		Chain:         strings.ToLower(req.Chain),
		Token:         strings.ToUpper(req.Token),
		AmountCrypto:  amountCrypto,
		AmountUSD:     amountUSD,
		ToAddress:     emptyToNil(req.ToAddress),
		Memo:          emptyToNil(req.Memo),
		DonorName:     emptyToNil(req.DonorName),
		DonorEmail:    emptyToNil(req.DonorEmail),
		Anonymous:     req.Anonymous,
		Earmark:       req.Earmark,
		MintRequested: req.MintRequested,
		Source:        domain.SourceAPI,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	body := dto.NewDonationResponse(d, h.qrURL(c, d))
	if created {
		response.Created(c, body)
		return
	}
	response.OK(c, body)
}

// Get handles GET /v1/donations/:invoiceId.
func (h *DonationHandler) Get(c *gin.Context) {
	d, err := h.invoices.GetInvoice(c.Request.Context(), c.Param("invoiceId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewDonationResponse(d, h.qrURL(c, d)))
}

// GetByTxid handles GET /v1/donations/tx/:txid.
func (h *DonationHandler) GetByTxid(c *gin.Context) {
	d, err := h.invoices.GetByTxid(c.Request.Context(), c.Param("txid"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewDonationResponse(d, ""))
}

// qrURL renders the payment QR for donations still waiting on funds.
func (h *DonationHandler) qrURL(c *gin.Context, d *domain.Donation) string {
	if d.IsTerminal() || d.QRPayload == "" {
		return ""
	}
	uri, err := h.invoices.QRDataURI(c.Request.Context(), d.QRPayload)
	if err != nil {
		h.log.Warn().Err(err).Str("invoice_id", d.InvoiceID).Msg("qr render failed")
		return ""
	}
	return uri
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
