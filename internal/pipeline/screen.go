package pipeline

import (
	"context"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"
)

// ScreenStage runs compliance screening. A REVIEW verdict parks the donation
// for an operator.
type ScreenStage struct {
	screener     ports.ComplianceScreener
	orchestrator ports.SettlementOrchestrator
}

func NewScreenStage(screener ports.ComplianceScreener, o ports.SettlementOrchestrator) *ScreenStage {
	return &ScreenStage{screener: screener, orchestrator: o}
}

func (s *ScreenStage) Name() domain.Stage { return domain.StageScreen }

func (s *ScreenStage) Preconditions() []domain.DonationStatus {
	return []domain.DonationStatus{domain.DonationStatusConfirmed, domain.DonationStatusComplianceReview}
}

func (s *ScreenStage) Run(ctx context.Context, d *domain.Donation) error {
	if d.Status == domain.DonationStatusConfirmed {
		if _, err := s.orchestrator.BeginReview(ctx, d.ID); err != nil {
			return Retry(err)
		}
	}

	v, err := s.screener.Screen(ctx, d)
	if err != nil {
		return collaboratorError("screening", err)
	}
	if v.Decision == ports.ComplianceRejected {
		return &FatalError{
			Status: domain.DonationStatusComplianceRejected,
			Reason: domain.ReasonComplianceRejected,
		}
	}
	if _, err := s.orchestrator.RecordVerdict(ctx, d.ID, v); err != nil {
		return Retry(err)
	}
	return nil
}
