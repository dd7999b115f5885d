// Package memory is an in-process store for development and tests. Every
// operation runs under one mutex, so each is atomic like its SQL counterpart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"donation-gateway/internal/core/domain"

	"github.com/google/uuid"
)

// Store holds all tables.
type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	donations   map[uuid.UUID]*domain.Donation
	byInvoice   map[string]uuid.UUID
	wallets     map[string]*domain.WalletAddress
	walletOrder []string
	events      map[string]*domain.WebhookEvent
	eventOrder  []string
	tasks       map[string]*domain.SettlementTask
	deadLetters []domain.DeadLetter
	audit       []domain.AuditLog
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		now:       time.Now,
		donations: make(map[uuid.UUID]*domain.Donation),
		byInvoice: make(map[string]uuid.UUID),
		wallets:   make(map[string]*domain.WalletAddress),
		events:    make(map[string]*domain.WebhookEvent),
		tasks:     make(map[string]*domain.SettlementTask),
	}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Donations() *DonationRepo { return &DonationRepo{s: s} }
func (s *Store) Wallets() *WalletRepo { return &WalletRepo{s: s} }
func (s *Store) Webhooks() *WebhookRepo { return &WebhookRepo{s: s} }
func (s *Store) Tasks() *TaskRepo { return &TaskRepo{s: s} }
func (s *Store) Audit() *AuditRepo { return &AuditRepo{s: s} }
func (s *Store) Health() *HealthCheck { return &HealthCheck{} }

// HealthCheck implements ports.HealthChecker for the in-memory store.
type HealthCheck struct{}

func (h *HealthCheck) Ping(ctx context.Context) error { return ctx.Err() }
func (h *HealthCheck) Name() string { return "memory" }

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct{ s *Store }

func (r *AuditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audit = append(r.s.audit, *log)
	return nil
}

// Entries returns a copy of all audit entries.
func (r *AuditRepo) Entries() []domain.AuditLog {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]domain.AuditLog(nil), r.s.audit...)
}

func sortByTime[T any](items []T, at func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool { return at(items[i]).Before(at(items[j])) })
}
