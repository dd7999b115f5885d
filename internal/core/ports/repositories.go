package ports

//go:generate mockgen -source=repositories.go -destination=mocks/repositories_mock.go -package=mocks

import (
	"context"
	"errors"
	"time"

	"donation-gateway/internal/core/domain"

	"github.com/google/uuid"
)

// ErrConflict is returned when an insert hits a unique invoice id.
var ErrConflict = errors.New("conflict")

// ErrAddressInUse is returned when a non-terminal donation already holds
// the same chain, address and memo.
var ErrAddressInUse = errors.New("address in use")

// DonationRepository defines persistence operations for donations.
// Lookups return nil, nil when nothing matches.
type DonationRepository interface {
	Create(ctx context.Context, d *domain.Donation) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Donation, error)
	GetByInvoiceID(ctx context.Context, invoiceID string) (*domain.Donation, error)
	GetByTxid(ctx context.Context, txid string) (*domain.Donation, error)
	// ApplyTransition performs a compare-and-set on status. It returns nil, nil
	// when the donation was not in t.From.
	ApplyTransition(ctx context.Context, id uuid.UUID, t domain.Transition) (*domain.Donation, error)
	// RecordObservation raises confirmations and sets txid/from_address while
	// the donation awaits confirmation. It returns nil, nil when the donation
	// is not awaiting or already carries a different txid.
	RecordObservation(ctx context.Context, id uuid.UUID, obs domain.PaymentObservation) (*domain.Donation, error)
	ListByStatus(ctx context.Context, statuses []domain.DonationStatus, updatedBefore time.Time, limit int) ([]domain.Donation, error)
}

// WalletRepository defines persistence operations for pool addresses.
// Allocation methods are single atomic statements.
type WalletRepository interface {
	Add(ctx context.Context, w *domain.WalletAddress) (bool, error)
	Get(ctx context.Context, chain, address string) (*domain.WalletAddress, error)
	// Allocate claims any free active address on chain. nil, nil when none is free.
	Allocate(ctx context.Context, chain string, donationID uuid.UUID) (*domain.WalletAddress, error)
	// AllocateAddress claims one specific address. nil, nil when it is not free.
	AllocateAddress(ctx context.Context, chain, address string, donationID uuid.UUID) (*domain.WalletAddress, error)
	// Release frees the address if donationID still holds it.
	Release(ctx context.Context, chain, address string, donationID uuid.UUID) error
	List(ctx context.Context, chain string) ([]domain.WalletAddress, error)
	// ListOrphaned returns addresses allocated before allocatedBefore whose
	// holder is terminal or was never persisted.
	ListOrphaned(ctx context.Context, allocatedBefore time.Time, limit int) ([]domain.WalletAddress, error)
}

// WebhookEventRepository persists inbound provider callbacks.
type WebhookEventRepository interface {
	// Insert stores the event unless (provider, dedup_key) exists. It reports
	// whether a new row was written.
	Insert(ctx context.Context, e *domain.WebhookEvent) (bool, error)
	GetByDedupKey(ctx context.Context, provider, dedupKey string) (*domain.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	ListUnprocessed(ctx context.Context, since time.Time, limit int) ([]domain.WebhookEvent, error)
}

// TaskRepository persists open settlement tasks and their dead letters.
type TaskRepository interface {
	// Enqueue is a no-op when a task for (donation, stage) is already open.
	Enqueue(ctx context.Context, t *domain.SettlementTask) error
	// ClaimDue leases up to limit due tasks to owner.
	ClaimDue(ctx context.Context, owner string, now time.Time, lease time.Duration, limit int) ([]domain.SettlementTask, error)
	Complete(ctx context.Context, donationID uuid.UUID, stage domain.Stage, owner string) error
	Reschedule(ctx context.Context, t *domain.SettlementTask, owner string) error
	// DeadLetter archives the task and removes it from the open set.
	DeadLetter(ctx context.Context, t *domain.SettlementTask, kind domain.DeadLetterKind, lastError string) error
	CancelForDonation(ctx context.Context, donationID uuid.UUID) error
	ListDeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error)
}

// AuditRepository persists audit log entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}
