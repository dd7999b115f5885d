package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DonationStatus is the lifecycle state of a donation.
type DonationStatus string

const (
	DonationStatusCreated              DonationStatus = "CREATED"
	DonationStatusAwaitingConfirmation DonationStatus = "AWAITING_CONFIRMATION"
	DonationStatusConfirmed            DonationStatus = "CONFIRMED"
	DonationStatusComplianceReview     DonationStatus = "COMPLIANCE_REVIEW"
	DonationStatusComplianceApproved   DonationStatus = "COMPLIANCE_APPROVED"
	DonationStatusComplianceRejected   DonationStatus = "COMPLIANCE_REJECTED"
	DonationStatusReceipted            DonationStatus = "RECEIPTED"
	DonationStatusMinted               DonationStatus = "MINTED"
	DonationStatusSettled              DonationStatus = "SETTLED"
	DonationStatusFailed               DonationStatus = "FAILED"
	DonationStatusExpired              DonationStatus = "EXPIRED"
)

// transitions lists the allowed target states for each state.
// Terminal states have no entry.
var transitions = map[DonationStatus][]DonationStatus{
	DonationStatusCreated: {
		DonationStatusAwaitingConfirmation, DonationStatusExpired, DonationStatusFailed,
	},
	DonationStatusAwaitingConfirmation: {
		DonationStatusConfirmed, DonationStatusExpired, DonationStatusFailed,
	},
	DonationStatusConfirmed: {
		DonationStatusComplianceReview, DonationStatusFailed,
	},
	DonationStatusComplianceReview: {
		DonationStatusComplianceApproved, DonationStatusComplianceRejected, DonationStatusFailed,
	},
	DonationStatusComplianceApproved: {
		DonationStatusReceipted, DonationStatusFailed,
	},
	DonationStatusReceipted: {
		DonationStatusMinted, DonationStatusSettled, DonationStatusFailed,
	},
	DonationStatusMinted: {
		DonationStatusSettled, DonationStatusFailed,
	},
}

// ParseDonationStatus validates a stored status string.
func ParseDonationStatus(s string) (DonationStatus, bool) {
	st := DonationStatus(s)
	if _, ok := transitions[st]; ok || st.IsTerminal() {
		return st, true
	}
	return "", false
}

// IsTerminal reports whether no further transition is possible.
func (s DonationStatus) IsTerminal() bool {
	switch s {
	case DonationStatusSettled, DonationStatusComplianceRejected,
		DonationStatusFailed, DonationStatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to DonationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TerminalStatuses returns every terminal state.
func TerminalStatuses() []DonationStatus {
	return []DonationStatus{
		DonationStatusSettled, DonationStatusComplianceRejected,
		DonationStatusFailed, DonationStatusExpired,
	}
}

// Source tags where a donation originated.
type Source string

const (
	SourceAPI      Source = "api"
	SourceWebhook  Source = "webhook"
	SourceProvider Source = "provider"
)

// Reason codes exposed to donors on terminal failures.
const (
	ReasonRetriesExhausted     = "retries_exhausted"
	ReasonComplianceRejected   = "compliance_rejected"
	ReasonProviderFailed       = "provider_failed"
	ReasonExpired              = "payment_window_elapsed"
	ReasonCollaboratorRejected = "collaborator_rejected"
)

// Donation is one invoice and its settlement lifecycle.
type Donation struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceID     string          `json:"invoice_id"`
	Chain         string          `json:"chain"`
	Token         string          `json:"token"`
	AmountCrypto  decimal.Decimal `json:"amount_crypto"`
	AmountUSD     decimal.Decimal `json:"amount_usd"`
	ToAddress     string          `json:"to_address"`
	FromAddress   *string         `json:"from_address,omitempty"`
	Memo          *string         `json:"memo,omitempty"`
	PooledAddress bool            `json:"-"`
	QRPayload     string          `json:"qr_payload"`
	DonorName     *string         `json:"donor_name,omitempty"`
	DonorEmail    *string         `json:"donor_email,omitempty"`
	Anonymous     bool            `json:"anonymous"`
	Earmark       string          `json:"earmark"`
	MintRequested bool            `json:"mint_requested"`
	Status        DonationStatus  `json:"status"`
	Confirmations int             `json:"confirmations"`
	Txid          *string         `json:"txid,omitempty"`
	ReasonCode    *string         `json:"reason_code,omitempty"`
	ReceiptURL    *string         `json:"receipt_url,omitempty"`
	MintTokenID   *string         `json:"mint_token_id,omitempty"`
	SweepTxid     *string         `json:"sweep_txid,omitempty"`
	Source        Source          `json:"source"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// AwaitingPayment reports whether no payment has been seen yet.
func (d *Donation) AwaitingPayment() bool {
	if d.HasTxid() {
		return false
	}
	return d.Status == DonationStatusCreated || d.Status == DonationStatusAwaitingConfirmation
}

// IsTerminal reports whether the donation reached a final state.
func (d *Donation) IsTerminal() bool {
	return d.Status.IsTerminal()
}

// MemoValue returns the memo or "".
func (d *Donation) MemoValue() string {
	if d.Memo == nil {
		return ""
	}
	return *d.Memo
}

// HasTxid reports whether on-chain activity was recorded.
func (d *Donation) HasTxid() bool {
	return d.Txid != nil && *d.Txid != ""
}

// PaymentPayload is the string encoded into the payment QR code.
func PaymentPayload(address, memo string) string {
	if memo == "" {
		return address
	}
	return address + ":" + memo
}

// Transition is a compare-and-set status change plus the fields it writes.
// Nil fields are left untouched.
type Transition struct {
	From          DonationStatus
	To            DonationStatus
	Txid          *string
	FromAddress   *string
	Confirmations *int
	ReasonCode    *string
	ReceiptURL    *string
	MintTokenID   *string
	SweepTxid     *string
	// RequireNoTxid makes the transition miss once a txid was observed.
	RequireNoTxid bool
}

// PaymentObservation is what a webhook or chain source saw for a donation.
type PaymentObservation struct {
	Txid          string
	FromAddress   string
	Confirmations int
	Source        Source
}
