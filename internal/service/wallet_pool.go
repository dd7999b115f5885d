package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"
	"donation-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WalletPool owns the custodial receiving addresses of every chain. All
// claims go through single atomic repository statements.
type WalletPool struct {
	repo ports.WalletRepository
	log  zerolog.Logger
}

// NewWalletPool creates a wallet pool.
func NewWalletPool(repo ports.WalletRepository, log zerolog.Logger) *WalletPool {
	return &WalletPool{repo: repo, log: log.With().Str("component", "wallet_pool").Logger()}
}

// Allocate claims a free address on chain for donationID. It fails fast with
// ALLOC_001 when the pool is exhausted.
func (p *WalletPool) Allocate(ctx context.Context, chain string, donationID uuid.UUID) (*domain.WalletAddress, error) {
	w, err := p.repo.Allocate(ctx, chain, donationID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if w == nil {
		p.log.Warn().Str("chain", chain).Msg("wallet pool exhausted")
		return nil, apperror.ErrNoAddressAvailable(chain)
	}
	p.log.Debug().Str("chain", chain).Str("address", w.Address).
		Str("donation_id", donationID.String()).Msg("address allocated")
	return w, nil
}

// AllocateSpecific claims a caller-supplied address. It returns nil, nil when
// the address is not a pool address, and DON_002 when the pool holds it for
// someone else.
func (p *WalletPool) AllocateSpecific(ctx context.Context, chain, address string, donationID uuid.UUID) (*domain.WalletAddress, error) {
	known, err := p.repo.Get(ctx, chain, address)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if known == nil {
		return nil, nil
	}
	w, err := p.repo.AllocateAddress(ctx, chain, address, donationID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if w == nil {
		return nil, apperror.ErrAddressInUse()
	}
	return w, nil
}

// Release frees address if donationID still holds it. Calling it twice is
// harmless.
func (p *WalletPool) Release(ctx context.Context, chain, address string, donationID uuid.UUID) error {
	if err := p.repo.Release(ctx, chain, address, donationID); err != nil {
		return fmt.Errorf("releasing %s/%s: %w", chain, address, err)
	}
	p.log.Debug().Str("chain", chain).Str("address", address).
		Str("donation_id", donationID.String()).Msg("address released")
	return nil
}

// List returns the pool addresses of chain, or of every chain when chain is
// empty.
func (p *WalletPool) List(ctx context.Context, chain string) ([]domain.WalletAddress, error) {
	ws, err := p.repo.List(ctx, chain)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return ws, nil
}

// Add registers a new active address. Re-adding an existing address returns
// the stored row.
func (p *WalletPool) Add(ctx context.Context, chain, address string) (*domain.WalletAddress, error) {
	address = strings.TrimSpace(address)
	if chain == "" || address == "" {
		return nil, apperror.Validation("chain and address are required")
	}
	w := &domain.WalletAddress{Address: address, Chain: chain, Active: true, CreatedAt: time.Now().UTC()}
	added, err := p.repo.Add(ctx, w)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if !added {
		existing, err := p.repo.Get(ctx, chain, address)
		if err != nil {
			return nil, apperror.ErrDatabaseError(err)
		}
		return existing, nil
	}
	p.log.Info().Str("chain", chain).Str("address", address).Msg("address added to pool")
	return w, nil
}

// Seed adds configured addresses, skipping those already present.
func (p *WalletPool) Seed(ctx context.Context, seeds map[string][]string) error {
	for chain, addrs := range seeds {
		for _, a := range addrs {
			if _, err := p.Add(ctx, chain, a); err != nil {
				return fmt.Errorf("seeding %s pool: %w", chain, err)
			}
		}
	}
	return nil
}

// ReleaseOrphaned frees addresses whose holder is terminal or never got
// persisted, considering only allocations older than grace.
func (p *WalletPool) ReleaseOrphaned(ctx context.Context, grace time.Duration, limit int) (int, error) {
	orphans, err := p.repo.ListOrphaned(ctx, time.Now().Add(-grace), limit)
	if err != nil {
		return 0, fmt.Errorf("listing orphaned addresses: %w", err)
	}
	released := 0
	for _, w := range orphans {
		if w.AllocatedTo == nil {
			continue
		}
		if err := p.Release(ctx, w.Chain, w.Address, *w.AllocatedTo); err != nil {
			p.log.Warn().Err(err).Str("address", w.Address).Msg("orphan release failed")
			continue
		}
		released++
	}
	if released > 0 {
		p.log.Info().Int("released", released).Msg("orphaned addresses released")
	}
	return released, nil
}
