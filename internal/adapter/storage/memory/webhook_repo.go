package memory

import (
	"context"
	"time"

	"donation-gateway/internal/core/domain"

	"github.com/google/uuid"
)

// WebhookRepo implements ports.WebhookEventRepository.
type WebhookRepo struct{ s *Store }

func (r *WebhookRepo) Insert(ctx context.Context, e *domain.WebhookEvent) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := e.Provider + "|" + e.DedupKey
	if _, ok := r.s.events[key]; ok {
		return false, nil
	}
	cp := *e
	cp.RawPayload = append([]byte(nil), e.RawPayload...)
	r.s.events[key] = &cp
	r.s.eventOrder = append(r.s.eventOrder, key)
	return true, nil
}

func (r *WebhookRepo) GetByDedupKey(ctx context.Context, provider, dedupKey string) (*domain.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e, ok := r.s.events[provider+"|"+dedupKey]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (r *WebhookRepo) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.events {
		if e.ID == id {
			e.Processed = true
			return nil
		}
	}
	return nil
}

func (r *WebhookRepo) ListUnprocessed(ctx context.Context, since time.Time, limit int) ([]domain.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.WebhookEvent
	for _, key := range r.s.eventOrder {
		e := r.s.events[key]
		if !e.Processed && e.SignatureValid && !e.ReceivedAt.Before(since) {
			out = append(out, *e)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// All returns every stored event in arrival order.
func (r *WebhookRepo) All() []domain.WebhookEvent {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.WebhookEvent, 0, len(r.s.eventOrder))
	for _, key := range r.s.eventOrder {
		out = append(out, *r.s.events[key])
	}
	return out
}
