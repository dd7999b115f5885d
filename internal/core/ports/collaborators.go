package ports

//go:generate mockgen -source=collaborators.go -destination=mocks/collaborators_mock.go -package=mocks

import (
	"context"
	"errors"

	"donation-gateway/internal/core/domain"

	"github.com/google/uuid"
)

// ErrPermanent marks a collaborator failure that retrying cannot fix, such
// as a request the custody service rejected.
var ErrPermanent = errors.New("permanent collaborator failure")

// ConfirmationSource reports what a chain has seen for a donation's address.
// It returns nil, nil when no payment is visible yet.
type ConfirmationSource interface {
	Observe(ctx context.Context, d *domain.Donation) (*domain.PaymentObservation, error)
}

// ComplianceDecision is the outcome of AML/KYC screening.
type ComplianceDecision string

const (
	ComplianceApproved ComplianceDecision = "APPROVED"
	ComplianceRejected ComplianceDecision = "REJECTED"
	ComplianceReview   ComplianceDecision = "REVIEW"
)

// Verdict is a screening result.
type Verdict struct {
	Decision ComplianceDecision
	Reason   string
}

// ComplianceScreener screens a confirmed donation.
type ComplianceScreener interface {
	Screen(ctx context.Context, d *domain.Donation) (Verdict, error)
}

// ReceiptRenderer produces the donor receipt document.
type ReceiptRenderer interface {
	Render(ctx context.Context, d *domain.Donation) ([]byte, error)
	ContentType() string
}

// ReceiptStore stores rendered receipts. Put overwrites an existing key.
type ReceiptStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// MintRequest asks the custody service for a commemorative token.
type MintRequest struct {
	DonationID uuid.UUID
	InvoiceID  string
	Chain      string
	Recipient  string
	ReceiptURL string
}

// Minter mints commemorative tokens. Lookup must be consulted before Mint.
type Minter interface {
	LookupMint(ctx context.Context, donationID uuid.UUID) (string, bool, error)
	Mint(ctx context.Context, req MintRequest) (string, error)
}

// SweepRequest moves funds from a receiving address to treasury.
type SweepRequest struct {
	DonationID  uuid.UUID
	Chain       string
	Token       string
	FromAddress string
	Amount      string
}

// Sweeper sweeps confirmed funds. Lookup must be consulted before Sweep.
type Sweeper interface {
	LookupSweep(ctx context.Context, donationID uuid.UUID) (string, bool, error)
	Sweep(ctx context.Context, req SweepRequest) (string, error)
}
