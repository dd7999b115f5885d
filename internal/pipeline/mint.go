package pipeline

import (
	"context"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"
)

// MintStage mints the commemorative token. The custody service is asked
// whether it already minted for the donation before any new mint.
type MintStage struct {
	minter       ports.Minter
	orchestrator ports.SettlementOrchestrator
	enabled      bool
}

func NewMintStage(m ports.Minter, o ports.SettlementOrchestrator, enabled bool) *MintStage {
	return &MintStage{minter: m, orchestrator: o, enabled: enabled}
}

func (s *MintStage) Name() domain.Stage { return domain.StageMint }

func (s *MintStage) Preconditions() []domain.DonationStatus {
	return []domain.DonationStatus{domain.DonationStatusReceipted}
}

func (s *MintStage) Run(ctx context.Context, d *domain.Donation) error {
	if !s.enabled || !d.MintRequested {
		// hand over to sweep
		return Retry(s.orchestrator.EnqueueNext(ctx, d))
	}

	tokenID, found, err := s.minter.LookupMint(ctx, d.ID)
	if err != nil {
		return collaboratorError("looking up mint", err)
	}
	if !found {
		req := ports.MintRequest{
			DonationID: d.ID,
			InvoiceID:  d.InvoiceID,
			Chain:      d.Chain,
			ReceiptURL: deref(d.ReceiptURL),
		}
		// an empty recipient leaves the token in custody until claimed
		if !d.Anonymous {
			req.Recipient = deref(d.FromAddress)
		}
		tokenID, err = s.minter.Mint(ctx, req)
		if err != nil {
			return collaboratorError("minting", err)
		}
	}
	if _, err := s.orchestrator.MarkMinted(ctx, d.ID, tokenID); err != nil {
		return Retry(err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
