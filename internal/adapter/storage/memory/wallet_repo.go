package memory

import (
	"context"
	"time"

	"donation-gateway/internal/core/domain"

	"github.com/google/uuid"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct{ s *Store }

func walletKey(chain, address string) string { return chain + "|" + address }

func (r *WalletRepo) Add(ctx context.Context, w *domain.WalletAddress) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := walletKey(w.Chain, w.Address)
	if _, ok := r.s.wallets[key]; ok {
		return false, nil
	}
	cp := *w
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.s.now()
	}
	r.s.wallets[key] = &cp
	r.s.walletOrder = append(r.s.walletOrder, key)
	return true, nil
}

func (r *WalletRepo) Get(ctx context.Context, chain, address string) (*domain.WalletAddress, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if w, ok := r.s.wallets[walletKey(chain, address)]; ok {
		cp := *w
		return &cp, nil
	}
	return nil, nil
}

func (r *WalletRepo) Allocate(ctx context.Context, chain string, donationID uuid.UUID) (*domain.WalletAddress, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, key := range r.s.walletOrder {
		w := r.s.wallets[key]
		if w.Chain == chain && w.IsFree() {
			return r.claim(w, donationID), nil
		}
	}
	return nil, nil
}

func (r *WalletRepo) AllocateAddress(ctx context.Context, chain, address string, donationID uuid.UUID) (*domain.WalletAddress, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.wallets[walletKey(chain, address)]
	if !ok || !w.IsFree() {
		return nil, nil
	}
	return r.claim(w, donationID), nil
}

func (r *WalletRepo) claim(w *domain.WalletAddress, donationID uuid.UUID) *domain.WalletAddress {
	id := donationID
	now := r.s.now()
	w.AllocatedTo = &id
	w.AllocatedAt = &now
	cp := *w
	return &cp
}

func (r *WalletRepo) Release(ctx context.Context, chain, address string, donationID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.wallets[walletKey(chain, address)]
	if !ok || w.AllocatedTo == nil || *w.AllocatedTo != donationID {
		return nil
	}
	w.AllocatedTo = nil
	w.AllocatedAt = nil
	return nil
}

func (r *WalletRepo) List(ctx context.Context, chain string) ([]domain.WalletAddress, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.WalletAddress
	for _, key := range r.s.walletOrder {
		w := r.s.wallets[key]
		if chain == "" || w.Chain == chain {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (r *WalletRepo) ListOrphaned(ctx context.Context, allocatedBefore time.Time, limit int) ([]domain.WalletAddress, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.WalletAddress
	for _, key := range r.s.walletOrder {
		w := r.s.wallets[key]
		if w.AllocatedTo == nil || w.AllocatedAt == nil || !w.AllocatedAt.Before(allocatedBefore) {
			continue
		}
		d, ok := r.s.donations[*w.AllocatedTo]
		if !ok || d.IsTerminal() {
			out = append(out, *w)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
