package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"donation-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const webhookColumns = `id, provider, dedup_key, raw_payload, signature_valid, processed, received_at`

// WebhookEventRepo implements ports.WebhookEventRepository.
type WebhookEventRepo struct {
	pool Pool
}

// NewWebhookEventRepo creates a PostgreSQL-backed WebhookEventRepo.
func NewWebhookEventRepo(pool Pool) *WebhookEventRepo {
	return &WebhookEventRepo{pool: pool}
}

func (r *WebhookEventRepo) Insert(ctx context.Context, e *domain.WebhookEvent) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO webhook_events (`+webhookColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (provider, dedup_key) DO NOTHING`,
		e.ID, e.Provider, e.DedupKey, e.RawPayload, e.SignatureValid, e.Processed, e.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *WebhookEventRepo) GetByDedupKey(ctx context.Context, provider, dedupKey string) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	err := r.pool.QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM webhook_events WHERE provider = $1 AND dedup_key = $2`,
		provider, dedupKey,
	).Scan(&e.ID, &e.Provider, &e.DedupKey, &e.RawPayload, &e.SignatureValid, &e.Processed, &e.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *WebhookEventRepo) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE webhook_events SET processed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking webhook event processed: %w", err)
	}
	return nil
}

func (r *WebhookEventRepo) ListUnprocessed(ctx context.Context, since time.Time, limit int) ([]domain.WebhookEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+webhookColumns+` FROM webhook_events
		 WHERE NOT processed AND signature_valid AND received_at >= $1
		 ORDER BY received_at
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing unprocessed webhook events: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookEvent
	for rows.Next() {
		var e domain.WebhookEvent
		if err := rows.Scan(&e.ID, &e.Provider, &e.DedupKey, &e.RawPayload, &e.SignatureValid, &e.Processed, &e.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
