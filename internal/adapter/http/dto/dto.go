package dto

import (
	"time"

	"donation-gateway/internal/core/domain"
)

// CreateDonationRequest is the request body for invoice creation.
type CreateDonationRequest struct {
	InvoiceID     string  `json:"invoice_id" binding:"omitempty,max=64,safe_id"`
	Chain         string  `json:"chain" binding:"required,max=32,safe_id"`
	Token         string  `json:"token" binding:"required,chain_token"`
	AmountCrypto  string  `json:"amount_crypto" binding:"required,max=40"`
	AmountUSD     string  `json:"amount_usd" binding:"required,max=20"`
	ToAddress     *string `json:"to_address,omitempty" binding:"omitempty,max=128,safe_id"`
	Memo          *string `json:"memo,omitempty" binding:"omitempty,max=64"`
	DonorName     *string `json:"donor_name,omitempty" binding:"omitempty,max=100"`
	DonorEmail    *string `json:"donor_email,omitempty" binding:"omitempty,max=254,email"`
	Anonymous     bool    `json:"anonymous"`
	Earmark       string  `json:"earmark" binding:"omitempty,max=64"`
	MintRequested bool    `json:"mint_requested"`
}

// DonationResponse is the public view of a donation. Donor contact details
// are never echoed back.
type DonationResponse struct {
	ID            string  `json:"id"`
	InvoiceID     string  `json:"invoice_id"`
	Chain         string  `json:"chain"`
	Token         string  `json:"token"`
	AmountCrypto  string  `json:"amount_crypto"`
	AmountUSD     string  `json:"amount_usd"`
	ToAddress     string  `json:"to_address"`
	Memo          *string `json:"memo,omitempty"`
	QRPayload     string  `json:"qr_payload"`
	QRURL         string  `json:"qr_url,omitempty"`
	Status        string  `json:"status"`
	Confirmations int     `json:"confirmations"`
	Txid          *string `json:"txid,omitempty"`
	ReasonCode    *string `json:"reason_code,omitempty"`
	ReceiptURL    *string `json:"receipt_url,omitempty"`
	MintTokenID   *string `json:"mint_token_id,omitempty"`
	SweepTxid     *string `json:"sweep_txid,omitempty"`
	Earmark       string  `json:"earmark"`
	Anonymous     bool    `json:"anonymous"`
	MintRequested bool    `json:"mint_requested"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// NewDonationResponse maps a donation to its response body.
func NewDonationResponse(d *domain.Donation, qrURL string) DonationResponse {
	return DonationResponse{
		ID:            d.ID.String(),
		InvoiceID:     d.InvoiceID,
		Chain:         d.Chain,
		Token:         d.Token,
		AmountCrypto:  d.AmountCrypto.String(),
		AmountUSD:     d.AmountUSD.StringFixed(2),
		ToAddress:     d.ToAddress,
		Memo:          d.Memo,
		QRPayload:     d.QRPayload,
		QRURL:         qrURL,
		Status:        string(d.Status),
		Confirmations: d.Confirmations,
		Txid:          d.Txid,
		ReasonCode:    d.ReasonCode,
		ReceiptURL:    d.ReceiptURL,
		MintTokenID:   d.MintTokenID,
		SweepTxid:     d.SweepTxid,
		Earmark:       d.Earmark,
		Anonymous:     d.Anonymous,
		MintRequested: d.MintRequested,
		CreatedAt:     d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     d.UpdatedAt.Format(time.RFC3339),
	}
}

// WebhookAckResponse acknowledges a recorded webhook delivery.
type WebhookAckResponse struct {
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

// LoginRequest is the request body for operator login.
type LoginRequest struct {
	Username string `json:"username" binding:"required,max=64"`
	Password string `json:"password" binding:"required,max=128"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// ComplianceDecisionRequest resolves a donation parked for review.
type ComplianceDecisionRequest struct {
	Approve *bool `json:"approve" binding:"required"`
}

// AddWalletRequest registers a receiving address with the pool.
type AddWalletRequest struct {
	Chain   string `json:"chain" binding:"required,max=32,safe_id"`
	Address string `json:"address" binding:"required,max=128,safe_id"`
}

// DeadLetterListResponse wraps the dead-letter listing.
type DeadLetterListResponse struct {
	Items []domain.DeadLetter `json:"items"`
	Count int                 `json:"count"`
}

// WalletListResponse wraps the wallet listing.
type WalletListResponse struct {
	Items []domain.WalletAddress `json:"items"`
	Count int                    `json:"count"`
}

// ChainInfo describes one accepted chain.
type ChainInfo struct {
	Name                  string   `json:"name"`
	Tokens                []string `json:"tokens"`
	RequiredConfirmations int      `json:"required_confirmations"`
	MemoRequired          bool     `json:"memo_required"`
}

// InfoResponse is returned by GET /v1/info.
type InfoResponse struct {
	Service string      `json:"service"`
	Version string      `json:"version"`
	Chains  []ChainInfo `json:"chains"`
}
