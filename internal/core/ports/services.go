package ports

//go:generate mockgen -source=services.go -destination=mocks/services_mock.go -package=mocks

import (
	"context"
	"net/http"
	"time"

	"donation-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SignatureService handles HMAC signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string
	// VerifyBody checks a hex HMAC over raw bytes with the named algorithm
	// (sha256 or sha512).
	VerifyBody(algorithm, secretKey string, body []byte, signature string) bool
}

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles operator JWT operations.
type TokenService interface {
	Generate(subject string, role string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject string
	Role    string
}

// NonceStore manages nonce uniqueness for replay attack prevention.
type NonceStore interface {
	// CheckAndSet atomically checks if nonce exists, sets it if not.
	// Returns true if nonce is new (valid), false if already used.
	CheckAndSet(ctx context.Context, clientID string, nonce string, ttl time.Duration) (bool, error)
}

// Locker is a short-lived exclusive lock keyed by string.
type Locker interface {
	// TryLock returns a token and true when the lock was taken.
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, key string, token string) error
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// QRCache caches rendered QR images by payload digest.
type QRCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // nil when missing
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// AuditService records audit entries.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// --- Service Ports (Business Logic) ---

// CreateInvoiceRequest holds validated input for invoice creation.
type CreateInvoiceRequest struct {
	InvoiceID     string
	Chain         string
	Token         string
	AmountCrypto  decimal.Decimal
	AmountUSD     decimal.Decimal
	ToAddress     *string
	Memo          *string
	DonorName     *string
	DonorEmail    *string
	Anonymous     bool
	Earmark       string
	MintRequested bool
	Source        domain.Source
}

// InvoiceService creates and looks up donation invoices.
type InvoiceService interface {
	// CreateInvoice reports created=false when the invoice id already existed.
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*domain.Donation, bool, error)
	GetInvoice(ctx context.Context, invoiceID string) (*domain.Donation, error)
	GetByTxid(ctx context.Context, txid string) (*domain.Donation, error)
	QRDataURI(ctx context.Context, payload string) (string, error)
	SupportedChains() []domain.ChainPolicy
}

// ObservationResult says what a payment observation did to a donation.
type ObservationResult struct {
	Donation  *domain.Donation
	Applied   bool // confirmations or txid were recorded
	Confirmed bool // the donation moved to CONFIRMED
}

// SettlementOrchestrator is the donation state machine and the only writer
// of status. Transition methods report applied=false when the donation was
// no longer in the source state.
type SettlementOrchestrator interface {
	Issue(ctx context.Context, d *domain.Donation) (bool, error)
	ObservePayment(ctx context.Context, id uuid.UUID, obs domain.PaymentObservation) (ObservationResult, error)
	BeginReview(ctx context.Context, id uuid.UUID) (bool, error)
	RecordVerdict(ctx context.Context, id uuid.UUID, v Verdict) (bool, error)
	MarkReceipted(ctx context.Context, id uuid.UUID, receiptURL string) (bool, error)
	MarkMinted(ctx context.Context, id uuid.UUID, tokenID string) (bool, error)
	MarkSettled(ctx context.Context, id uuid.UUID, sweepTxid string) (bool, error)
	Fail(ctx context.Context, id uuid.UUID, reasonCode string) (bool, error)
	FailUnpaid(ctx context.Context, id uuid.UUID, reasonCode string) (bool, error)
	Expire(ctx context.Context, id uuid.UUID) (bool, error)
	Terminate(ctx context.Context, id uuid.UUID, status domain.DonationStatus, reasonCode string) (bool, error)
	Decide(ctx context.Context, invoiceID string, approve bool) (*domain.Donation, error)
	// EnqueueNext opens the task for the stage d's status is waiting on.
	EnqueueNext(ctx context.Context, d *domain.Donation) error
}

// IngestResult is the outcome of a webhook delivery.
type IngestResult struct {
	Event     *domain.WebhookEvent
	Duplicate bool
}

// WebhookIngestor authenticates and records provider callbacks.
type WebhookIngestor interface {
	Ingest(ctx context.Context, provider string, rawBody []byte, header http.Header) (*IngestResult, error)
}

// LoginResponse is returned on successful operator login.
type LoginResponse struct {
	Token     string
	ExpiresAt time.Time
}

// AdminService backs the operator endpoints.
type AdminService interface {
	Login(ctx context.Context, username, password string) (*LoginResponse, error)
	ListDeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error)
	DecideCompliance(ctx context.Context, invoiceID string, approve bool) (*domain.Donation, error)
	ListWallets(ctx context.Context, chain string) ([]domain.WalletAddress, error)
	AddWallet(ctx context.Context, chain, address string) (*domain.WalletAddress, error)
}
