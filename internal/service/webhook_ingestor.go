package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"
	"donation-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const webhookGuardTTL = 30 * time.Second

// WebhookProvider describes how a provider signs and shapes its callbacks.
type WebhookProvider struct {
	Secret          string
	Algorithm       string
	SignatureHeader string
	EventIDHeader   string
	Format          string
}

// WebhookIngestorImpl implements ports.WebhookIngestor. Events are stored
// verbatim before any business logic runs.
type WebhookIngestorImpl struct {
	events       ports.WebhookEventRepository
	donations    ports.DonationRepository
	orchestrator ports.SettlementOrchestrator
	sigSvc       ports.SignatureService
	guard        ports.Locker
	providers    map[string]WebhookProvider
	chains       map[string]domain.ChainPolicy
	log          zerolog.Logger
}

// NewWebhookIngestor creates the webhook ingestor.
func NewWebhookIngestor(
	events ports.WebhookEventRepository,
	donations ports.DonationRepository,
	orchestrator ports.SettlementOrchestrator,
	sigSvc ports.SignatureService,
	guard ports.Locker,
	providers map[string]WebhookProvider,
	chains map[string]domain.ChainPolicy,
	log zerolog.Logger,
) *WebhookIngestorImpl {
	return &WebhookIngestorImpl{
		events:       events,
		donations:    donations,
		orchestrator: orchestrator,
		sigSvc:       sigSvc,
		guard:        guard,
		providers:    providers,
		chains:       chains,
		log:          log.With().Str("component", "webhook_ingestor").Logger(),
	}
}

// Ingest verifies, records and dispatches one delivery. A redelivery of a
// processed event reports Duplicate; one that was never processed is driven
// again.
func (s *WebhookIngestorImpl) Ingest(ctx context.Context, provider string, rawBody []byte, header http.Header) (*ports.IngestResult, error) {
	p, ok := s.providers[provider]
	if !ok {
		s.log.Warn().Str("provider", provider).Msg("webhook from unknown provider")
		return nil, apperror.ErrInvalidSignature()
	}
	if !s.sigSvc.VerifyBody(p.Algorithm, p.Secret, rawBody, header.Get(p.SignatureHeader)) {
		s.log.Warn().Str("provider", provider).Int("body_bytes", len(rawBody)).Msg("webhook signature mismatch")
		return nil, apperror.ErrInvalidSignature()
	}

	ev := &domain.WebhookEvent{
		ID:             uuid.New(),
		Provider:       provider,
		DedupKey:       domain.BuildDedupKey(header.Get(p.EventIDHeader), rawBody),
		RawPayload:     rawBody,
		SignatureValid: true,
		ReceivedAt:     time.Now().UTC(),
	}
	inserted, err := s.events.Insert(ctx, ev)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if !inserted {
		existing, err := s.events.GetByDedupKey(ctx, provider, ev.DedupKey)
		if err != nil {
			return nil, apperror.ErrDatabaseError(err)
		}
		if existing == nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("webhook event %s vanished", ev.DedupKey))
		}
		if existing.Processed {
			s.log.Info().Str("provider", provider).Str("dedup_key", ev.DedupKey).Msg("duplicate webhook")
			return &ports.IngestResult{Event: existing, Duplicate: true}, nil
		}
		ev = existing
	}

	// stored events are acknowledged; WebhookReplayJob drives failures again
	dup, err := s.Process(ctx, ev)
	if err != nil {
		s.log.Error().Err(err).Str("provider", provider).Str("event_id", ev.ID.String()).
			Msg("webhook stored but not processed; left for replay")
		return &ports.IngestResult{Event: ev}, nil
	}
	return &ports.IngestResult{Event: ev, Duplicate: dup}, nil
}

// Process dispatches a stored event to the orchestrator and marks it
// processed. It reports duplicate=true when another delivery of the same
// event holds the processing guard or already processed it. Parse and
// correlation failures leave the event unprocessed without error.
func (s *WebhookIngestorImpl) Process(ctx context.Context, ev *domain.WebhookEvent) (bool, error) {
	log := s.log.With().Str("provider", ev.Provider).Str("event_id", ev.ID.String()).Logger()

	guardKey := domain.BuildWebhookGuardKey(ev.Provider, ev.DedupKey)
	token, ok, err := s.guard.TryLock(ctx, guardKey, webhookGuardTTL)
	if err != nil {
		return false, fmt.Errorf("taking webhook guard: %w", err)
	}
	if !ok {
		log.Info().Msg("webhook already being processed")
		return true, nil
	}
	defer func() {
		if err := s.guard.Unlock(context.WithoutCancel(ctx), guardKey, token); err != nil {
			log.Warn().Err(err).Msg("releasing webhook guard")
		}
	}()

	// a delivery holding the guard before us may have finished the job
	current, err := s.events.GetByDedupKey(ctx, ev.Provider, ev.DedupKey)
	if err != nil {
		return false, fmt.Errorf("reloading webhook event: %w", err)
	}
	if current != nil && current.Processed {
		ev.Processed = true
		return true, nil
	}

	p, ok := s.providers[ev.Provider]
	if !ok {
		log.Warn().Msg("stored event for unconfigured provider")
		return false, nil
	}
	update, err := parsePaymentUpdate(p.Format, ev.RawPayload)
	if err != nil {
		log.Warn().Err(err).Msg("webhook payload not understood; left for replay")
		return false, nil
	}

	d, err := s.correlate(ctx, update)
	if err != nil {
		return false, err
	}
	if d == nil {
		log.Warn().Str("invoice_id", update.InvoiceID).Str("txid", update.Txid).
			Msg("webhook matches no donation; left for replay")
		return false, nil
	}

	if err := s.dispatch(ctx, d, update); err != nil {
		return false, err
	}
	if err := s.events.MarkProcessed(ctx, ev.ID); err != nil {
		return false, fmt.Errorf("marking event processed: %w", err)
	}
	ev.Processed = true
	log.Info().Str("invoice_id", d.InvoiceID).Str("kind", update.Kind.String()).Msg("webhook processed")
	return false, nil
}

func (s *WebhookIngestorImpl) correlate(ctx context.Context, u *paymentUpdate) (*domain.Donation, error) {
	if u.InvoiceID != "" {
		d, err := s.donations.GetByInvoiceID(ctx, u.InvoiceID)
		if err != nil || d != nil {
			return d, err
		}
	}
	if u.Txid != "" {
		return s.donations.GetByTxid(ctx, u.Txid)
	}
	return nil, nil
}

func (s *WebhookIngestorImpl) dispatch(ctx context.Context, d *domain.Donation, u *paymentUpdate) error {
	switch u.Kind {
	case updateFailed, updateExpired:
		if !d.AwaitingPayment() {
			s.log.Warn().Str("invoice_id", d.InvoiceID).Str("status", string(d.Status)).
				Str("kind", u.Kind.String()).Msg("provider closure after payment ignored")
			return nil
		}
		var err error
		if u.Kind == updateFailed {
			_, err = s.orchestrator.FailUnpaid(ctx, d.ID, domain.ReasonProviderFailed)
		} else {
			_, err = s.orchestrator.Expire(ctx, d.ID)
		}
		return err
	}

	if d.Status == domain.DonationStatusCreated {
		if _, err := s.orchestrator.Issue(ctx, d); err != nil {
			return err
		}
	}
	obs := domain.PaymentObservation{
		Txid:          u.Txid,
		FromAddress:   u.FromAddress,
		Confirmations: u.Confirmations,
		Source:        domain.SourceWebhook,
	}
	if u.Kind == updateConfirmed {
		// the provider vouches for finality
		if req := s.chains[d.Chain].RequiredConfirmations; obs.Confirmations < req {
			obs.Confirmations = req
		}
	}
	_, err := s.orchestrator.ObservePayment(ctx, d.ID, obs)
	return err
}
