package service

import (
	"context"
	"fmt"
	"time"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"
	"donation-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Orchestrator implements ports.SettlementOrchestrator. Every status change
// is a compare-and-set in the repository; a miss means another trigger got
// there first and is logged, not returned.
type Orchestrator struct {
	donations   ports.DonationRepository
	tasks       ports.TaskRepository
	pool        *WalletPool
	chains      map[string]domain.ChainPolicy
	mintEnabled bool
	now         func() time.Time
	log         zerolog.Logger
}

// NewOrchestrator creates the settlement state machine.
func NewOrchestrator(
	donations ports.DonationRepository,
	tasks ports.TaskRepository,
	pool *WalletPool,
	chains map[string]domain.ChainPolicy,
	mintEnabled bool,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		donations:   donations,
		tasks:       tasks,
		pool:        pool,
		chains:      chains,
		mintEnabled: mintEnabled,
		now:         time.Now,
		log:         log.With().Str("component", "orchestrator").Logger(),
	}
}

// Issue moves a freshly created donation to AWAITING_CONFIRMATION and opens
// its Confirm task.
func (o *Orchestrator) Issue(ctx context.Context, d *domain.Donation) (bool, error) {
	_, applied, err := o.transition(ctx, d.ID, domain.Transition{
		From: domain.DonationStatusCreated,
		To:   domain.DonationStatusAwaitingConfirmation,
	})
	return applied, err
}

// ObservePayment records what a webhook or chain source saw. Observations
// below the chain's confirmation threshold only raise the count; reaching it
// confirms the donation. Observations for a donation that is not awaiting
// payment, or that carry a different txid, are ignored.
func (o *Orchestrator) ObservePayment(ctx context.Context, id uuid.UUID, obs domain.PaymentObservation) (ports.ObservationResult, error) {
	log := o.log.With().Str("donation_id", id.String()).Str("txid", obs.Txid).
		Int("confirmations", obs.Confirmations).Str("source", string(obs.Source)).Logger()

	if obs.Confirmations < 0 {
		obs.Confirmations = 0
	}
	updated, err := o.donations.RecordObservation(ctx, id, obs)
	if err != nil {
		return ports.ObservationResult{}, err
	}
	if updated == nil {
		current, err := o.donations.GetByID(ctx, id)
		if err != nil {
			return ports.ObservationResult{}, err
		}
		log.Info().Msg("observation ignored")
		return ports.ObservationResult{Donation: current}, nil
	}

	result := ports.ObservationResult{Donation: updated, Applied: true}
	if updated.Confirmations < o.requiredConfirmations(updated.Chain) {
		log.Debug().Int("total", updated.Confirmations).Msg("payment pending")
		return result, nil
	}

	confirmed, applied, err := o.transition(ctx, id, domain.Transition{
		From: domain.DonationStatusAwaitingConfirmation,
		To:   domain.DonationStatusConfirmed,
	})
	if err != nil {
		return result, err
	}
	if applied {
		result.Donation = confirmed
		result.Confirmed = true
	}
	return result, nil
}

// BeginReview moves a confirmed donation into compliance review.
func (o *Orchestrator) BeginReview(ctx context.Context, id uuid.UUID) (bool, error) {
	_, applied, err := o.transition(ctx, id, domain.Transition{
		From: domain.DonationStatusConfirmed,
		To:   domain.DonationStatusComplianceReview,
	})
	return applied, err
}

// RecordVerdict applies a screening result. A REVIEW verdict leaves the
// donation for an operator.
func (o *Orchestrator) RecordVerdict(ctx context.Context, id uuid.UUID, v ports.Verdict) (bool, error) {
	switch v.Decision {
	case ports.ComplianceApproved:
		_, applied, err := o.transition(ctx, id, domain.Transition{
			From: domain.DonationStatusComplianceReview,
			To:   domain.DonationStatusComplianceApproved,
		})
		return applied, err
	case ports.ComplianceRejected:
		reason := domain.ReasonComplianceRejected
		_, applied, err := o.transition(ctx, id, domain.Transition{
			From:       domain.DonationStatusComplianceReview,
			To:         domain.DonationStatusComplianceRejected,
			ReasonCode: &reason,
		})
		return applied, err
	case ports.ComplianceReview:
		o.log.Info().Str("donation_id", id.String()).Str("reason", v.Reason).Msg("donation held for manual review")
		return false, nil
	default:
		return false, fmt.Errorf("unknown compliance decision %q", v.Decision)
	}
}

// MarkReceipted records the stored receipt location.
func (o *Orchestrator) MarkReceipted(ctx context.Context, id uuid.UUID, receiptURL string) (bool, error) {
	_, applied, err := o.transition(ctx, id, domain.Transition{
		From:       domain.DonationStatusComplianceApproved,
		To:         domain.DonationStatusReceipted,
		ReceiptURL: &receiptURL,
	})
	return applied, err
}

// MarkMinted records the commemorative token id.
func (o *Orchestrator) MarkMinted(ctx context.Context, id uuid.UUID, tokenID string) (bool, error) {
	_, applied, err := o.transition(ctx, id, domain.Transition{
		From:        domain.DonationStatusReceipted,
		To:          domain.DonationStatusMinted,
		MintTokenID: &tokenID,
	})
	return applied, err
}

// MarkSettled records the sweep and finishes the donation. It accepts
// RECEIPTED as the source when minting was skipped.
func (o *Orchestrator) MarkSettled(ctx context.Context, id uuid.UUID, sweepTxid string) (bool, error) {
	d, err := o.donations.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if d == nil || (d.Status != domain.DonationStatusMinted && d.Status != domain.DonationStatusReceipted) {
		return false, nil
	}
	_, applied, err := o.transition(ctx, id, domain.Transition{
		From:      d.Status,
		To:        domain.DonationStatusSettled,
		SweepTxid: &sweepTxid,
	})
	return applied, err
}

// Fail moves a live donation to FAILED.
func (o *Orchestrator) Fail(ctx context.Context, id uuid.UUID, reasonCode string) (bool, error) {
	return o.Terminate(ctx, id, domain.DonationStatusFailed, reasonCode)
}

// Expire closes an unpaid invoice. Any recorded txid blocks expiry.
func (o *Orchestrator) Expire(ctx context.Context, id uuid.UUID) (bool, error) {
	d, err := o.donations.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if d == nil || !d.AwaitingPayment() {
		return false, nil
	}
	reason := domain.ReasonExpired
	_, applied, err := o.transition(ctx, id, domain.Transition{
		From:          d.Status,
		To:            domain.DonationStatusExpired,
		ReasonCode:    &reason,
		RequireNoTxid: true,
	})
	return applied, err
}

// FailUnpaid fails an invoice that is still waiting for payment. Once a txid
// is recorded or the donation moved past AWAITING_CONFIRMATION the call is
// discarded, so a late provider failure cannot strand funds on a released
// address.
func (o *Orchestrator) FailUnpaid(ctx context.Context, id uuid.UUID, reasonCode string) (bool, error) {
	d, err := o.donations.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if d == nil || !d.AwaitingPayment() {
		return false, nil
	}
	_, applied, err := o.transition(ctx, id, domain.Transition{
		From:          d.Status,
		To:            domain.DonationStatusFailed,
		ReasonCode:    &reasonCode,
		RequireNoTxid: true,
	})
	return applied, err
}

// Terminate moves a live donation straight to a terminal status.
func (o *Orchestrator) Terminate(ctx context.Context, id uuid.UUID, status domain.DonationStatus, reasonCode string) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("terminate: %s is not terminal", status)
	}
	d, err := o.donations.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if d == nil || d.IsTerminal() {
		return false, nil
	}
	if !domain.CanTransition(d.Status, status) {
		// e.g. a rejection that arrives outside review
		status = domain.DonationStatusFailed
	}
	t := domain.Transition{From: d.Status, To: status}
	if reasonCode != "" {
		t.ReasonCode = &reasonCode
	}
	_, applied, err := o.transition(ctx, id, t)
	return applied, err
}

// Decide applies an operator's compliance decision to a donation under
// review and returns its current state.
func (o *Orchestrator) Decide(ctx context.Context, invoiceID string, approve bool) (*domain.Donation, error) {
	d, err := o.donations.GetByInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if d == nil {
		return nil, apperror.ErrNotFound("Donation")
	}
	if d.Status != domain.DonationStatusComplianceReview {
		return nil, apperror.ErrInvalidState(fmt.Sprintf("donation is %s, not under review", d.Status))
	}

	v := ports.Verdict{Decision: ports.ComplianceRejected, Reason: "operator"}
	if approve {
		v.Decision = ports.ComplianceApproved
	}
	applied, err := o.RecordVerdict(ctx, d.ID, v)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if !applied {
		return nil, apperror.ErrInvalidState("donation left review concurrently")
	}
	return o.donations.GetByID(ctx, d.ID)
}

// EnqueueNext opens the task for the stage d's status is waiting on. It is
// a no-op for states no stage handles.
func (o *Orchestrator) EnqueueNext(ctx context.Context, d *domain.Donation) error {
	stage, ok := o.nextStage(d)
	if !ok {
		return nil
	}
	now := o.now().UTC()
	if err := o.tasks.Enqueue(ctx, &domain.SettlementTask{
		DonationID: d.ID,
		Stage:      stage,
		NextRunAt:  now,
		CreatedAt:  now,
	}); err != nil {
		return fmt.Errorf("enqueueing %s: %w", stage, err)
	}
	return nil
}

func (o *Orchestrator) nextStage(d *domain.Donation) (domain.Stage, bool) {
	switch d.Status {
	case domain.DonationStatusAwaitingConfirmation:
		return domain.StageConfirm, true
	case domain.DonationStatusConfirmed:
		return domain.StageScreen, true
	case domain.DonationStatusComplianceApproved:
		return domain.StageReceipt, true
	case domain.DonationStatusReceipted:
		if o.mintEnabled && d.MintRequested {
			return domain.StageMint, true
		}
		return domain.StageSweep, true
	case domain.DonationStatusMinted:
		return domain.StageSweep, true
	}
	return "", false
}

func (o *Orchestrator) requiredConfirmations(chain string) int {
	if p, ok := o.chains[chain]; ok && p.RequiredConfirmations > 0 {
		return p.RequiredConfirmations
	}
	return 1
}

// transition applies t and runs the follow-up work for the new state.
func (o *Orchestrator) transition(ctx context.Context, id uuid.UUID, t domain.Transition) (*domain.Donation, bool, error) {
	if !domain.CanTransition(t.From, t.To) {
		return nil, false, fmt.Errorf("illegal transition %s -> %s", t.From, t.To)
	}
	d, err := o.donations.ApplyTransition(ctx, id, t)
	if err != nil {
		return nil, false, err
	}
	if d == nil {
		o.log.Debug().Str("donation_id", id.String()).
			Str("from", string(t.From)).Str("to", string(t.To)).Msg("transition discarded")
		return nil, false, nil
	}

	ev := o.log.Info().Str("donation_id", d.ID.String()).Str("invoice_id", d.InvoiceID).
		Str("from", string(t.From)).Str("to", string(t.To))
	if t.ReasonCode != nil {
		ev = ev.Str("reason_code", *t.ReasonCode)
	}
	ev.Msg("donation transitioned")

	if d.IsTerminal() {
		if err := o.closeOut(ctx, d); err != nil {
			return d, true, err
		}
		return d, true, nil
	}
	if err := o.EnqueueNext(ctx, d); err != nil {
		return d, true, err
	}
	return d, true, nil
}

// closeOut releases the pooled address and drops open tasks of a terminal
// donation.
func (o *Orchestrator) closeOut(ctx context.Context, d *domain.Donation) error {
	if d.PooledAddress && o.pool != nil {
		if err := o.pool.Release(ctx, d.Chain, d.ToAddress, d.ID); err != nil {
			return err
		}
	}
	if err := o.tasks.CancelForDonation(ctx, d.ID); err != nil {
		return fmt.Errorf("cancelling tasks: %w", err)
	}
	return nil
}
