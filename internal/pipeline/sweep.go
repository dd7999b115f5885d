package pipeline

import (
	"context"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"
)

// SweepStage moves the donation to treasury and settles it.
type SweepStage struct {
	sweeper      ports.Sweeper
	orchestrator ports.SettlementOrchestrator
	mintEnabled  bool
}

func NewSweepStage(sw ports.Sweeper, o ports.SettlementOrchestrator, mintEnabled bool) *SweepStage {
	return &SweepStage{sweeper: sw, orchestrator: o, mintEnabled: mintEnabled}
}

func (s *SweepStage) Name() domain.Stage { return domain.StageSweep }

func (s *SweepStage) Preconditions() []domain.DonationStatus {
	return []domain.DonationStatus{domain.DonationStatusMinted, domain.DonationStatusReceipted}
}

func (s *SweepStage) Run(ctx context.Context, d *domain.Donation) error {
	if d.Status == domain.DonationStatusReceipted && s.mintEnabled && d.MintRequested {
		// the mint stage owns this donation until it is MINTED
		return nil
	}

	sweepTxid, found, err := s.sweeper.LookupSweep(ctx, d.ID)
	if err != nil {
		return collaboratorError("looking up sweep", err)
	}
	if !found {
		sweepTxid, err = s.sweeper.Sweep(ctx, ports.SweepRequest{
			DonationID:  d.ID,
			Chain:       d.Chain,
			Token:       d.Token,
			FromAddress: d.ToAddress,
			Amount:      d.AmountCrypto.String(),
		})
		if err != nil {
			return collaboratorError("sweeping", err)
		}
	}
	if _, err := s.orchestrator.MarkSettled(ctx, d.ID, sweepTxid); err != nil {
		return Retry(err)
	}
	return nil
}
