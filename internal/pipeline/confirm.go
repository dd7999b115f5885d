package pipeline

import (
	"context"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"
)

// ConfirmStage polls the chain for payments the webhook path has not
// reported.
type ConfirmStage struct {
	sources      map[string]ports.ConfirmationSource
	orchestrator ports.SettlementOrchestrator
}

func NewConfirmStage(sources map[string]ports.ConfirmationSource, o ports.SettlementOrchestrator) *ConfirmStage {
	return &ConfirmStage{sources: sources, orchestrator: o}
}

func (s *ConfirmStage) Name() domain.Stage { return domain.StageConfirm }

func (s *ConfirmStage) Preconditions() []domain.DonationStatus {
	return []domain.DonationStatus{domain.DonationStatusAwaitingConfirmation}
}

func (s *ConfirmStage) Run(ctx context.Context, d *domain.Donation) error {
	src, ok := s.sources[d.Chain]
	if !ok {
		return ErrNotReady
	}
	obs, err := src.Observe(ctx, d)
	if err != nil {
		return collaboratorError("observing "+d.Chain, err)
	}
	if obs == nil {
		return ErrNotReady
	}
	obs.Source = domain.SourceProvider
	res, err := s.orchestrator.ObservePayment(ctx, d.ID, *obs)
	if err != nil {
		return Retry(err)
	}
	if !res.Confirmed {
		return ErrNotReady
	}
	return nil
}
