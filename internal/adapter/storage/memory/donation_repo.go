package memory

import (
	"context"
	"time"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"

	"github.com/google/uuid"
)

// DonationRepo implements ports.DonationRepository.
type DonationRepo struct{ s *Store }

func (r *DonationRepo) Create(ctx context.Context, d *domain.Donation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.byInvoice[d.InvoiceID]; ok {
		return ports.ErrConflict
	}
	for _, other := range r.s.donations {
		if other.IsTerminal() {
			continue
		}
		if other.Chain == d.Chain && other.ToAddress == d.ToAddress && other.MemoValue() == d.MemoValue() {
			return ports.ErrAddressInUse
		}
	}

	cp := *d
	r.s.donations[d.ID] = &cp
	r.s.byInvoice[d.InvoiceID] = d.ID
	return nil
}

func (r *DonationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Donation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.copyOf(r.s.donations[id]), nil
}

func (r *DonationRepo) GetByInvoiceID(ctx context.Context, invoiceID string) (*domain.Donation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.byInvoice[invoiceID]
	if !ok {
		return nil, nil
	}
	return r.copyOf(r.s.donations[id]), nil
}

func (r *DonationRepo) GetByTxid(ctx context.Context, txid string) (*domain.Donation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.donations {
		if d.Txid != nil && *d.Txid == txid {
			return r.copyOf(d), nil
		}
	}
	return nil, nil
}

func (r *DonationRepo) ApplyTransition(ctx context.Context, id uuid.UUID, t domain.Transition) (*domain.Donation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.donations[id]
	if !ok || d.Status != t.From {
		return nil, nil
	}
	if t.RequireNoTxid && d.HasTxid() {
		return nil, nil
	}

	d.Status = t.To
	if d.Txid == nil && t.Txid != nil {
		d.Txid = t.Txid
	}
	if d.FromAddress == nil && t.FromAddress != nil {
		d.FromAddress = t.FromAddress
	}
	if t.Confirmations != nil && *t.Confirmations > d.Confirmations {
		d.Confirmations = *t.Confirmations
	}
	if t.ReasonCode != nil {
		d.ReasonCode = t.ReasonCode
	}
	if t.ReceiptURL != nil {
		d.ReceiptURL = t.ReceiptURL
	}
	if t.MintTokenID != nil {
		d.MintTokenID = t.MintTokenID
	}
	if t.SweepTxid != nil {
		d.SweepTxid = t.SweepTxid
	}
	d.UpdatedAt = r.s.now()
	return r.copyOf(d), nil
}

func (r *DonationRepo) RecordObservation(ctx context.Context, id uuid.UUID, obs domain.PaymentObservation) (*domain.Donation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.donations[id]
	if !ok || d.Status != domain.DonationStatusAwaitingConfirmation {
		return nil, nil
	}
	if obs.Txid != "" && d.Txid != nil && *d.Txid != obs.Txid {
		return nil, nil
	}

	if obs.Txid != "" && d.Txid == nil {
		for _, other := range r.s.donations {
			if other.ID != id && other.Txid != nil && *other.Txid == obs.Txid {
				// one txid pays one donation
				return nil, nil
			}
		}
		txid := obs.Txid
		d.Txid = &txid
	}
	if obs.FromAddress != "" && d.FromAddress == nil {
		from := obs.FromAddress
		d.FromAddress = &from
	}
	if obs.Confirmations > d.Confirmations {
		d.Confirmations = obs.Confirmations
	}
	d.UpdatedAt = r.s.now()
	return r.copyOf(d), nil
}

func (r *DonationRepo) ListByStatus(ctx context.Context, statuses []domain.DonationStatus, updatedBefore time.Time, limit int) ([]domain.Donation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	want := make(map[domain.DonationStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var out []domain.Donation
	for _, d := range r.s.donations {
		if want[d.Status] && d.UpdatedAt.Before(updatedBefore) {
			out = append(out, *d)
		}
	}
	sortByTime(out, func(d domain.Donation) time.Time { return d.UpdatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *DonationRepo) copyOf(d *domain.Donation) *domain.Donation {
	if d == nil {
		return nil
	}
	cp := *d
	return &cp
}
