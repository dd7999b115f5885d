package pipeline

import (
	"context"
	"path"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"
)

// ReceiptStage renders and stores the donor receipt. The object key depends
// only on the invoice id, so a re-run overwrites the same object.
type ReceiptStage struct {
	renderer     ports.ReceiptRenderer
	store        ports.ReceiptStore
	orchestrator ports.SettlementOrchestrator
	prefix       string
}

func NewReceiptStage(r ports.ReceiptRenderer, store ports.ReceiptStore, o ports.SettlementOrchestrator, prefix string) *ReceiptStage {
	if prefix == "" {
		prefix = "receipts"
	}
	return &ReceiptStage{renderer: r, store: store, orchestrator: o, prefix: prefix}
}

func (s *ReceiptStage) Name() domain.Stage { return domain.StageReceipt }

func (s *ReceiptStage) Preconditions() []domain.DonationStatus {
	return []domain.DonationStatus{domain.DonationStatusComplianceApproved}
}

// ReceiptKey is the object key of an invoice's receipt.
func (s *ReceiptStage) ReceiptKey(invoiceID string) string {
	return path.Join(s.prefix, invoiceID+".png")
}

func (s *ReceiptStage) Run(ctx context.Context, d *domain.Donation) error {
	body, err := s.renderer.Render(ctx, d)
	if err != nil {
		return collaboratorError("rendering receipt", err)
	}
	url, err := s.store.Put(ctx, s.ReceiptKey(d.InvoiceID), body, s.renderer.ContentType())
	if err != nil {
		return collaboratorError("storing receipt", err)
	}
	if _, err := s.orchestrator.MarkReceipted(ctx, d.ID, url); err != nil {
		return Retry(err)
	}
	return nil
}
