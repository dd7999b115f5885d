package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const donationColumns = `id, invoice_id, chain, token, amount_crypto::text, amount_usd::text,
	to_address, from_address, memo, pooled_address, qr_payload, donor_name, donor_email,
	anonymous, earmark, mint_requested, status, confirmations, txid, reason_code,
	receipt_url, mint_token_id, sweep_txid, source, created_at, updated_at`

// DonationRepo implements ports.DonationRepository.
type DonationRepo struct {
	pool Pool
}

// NewDonationRepo creates a PostgreSQL-backed DonationRepo.
func NewDonationRepo(pool Pool) *DonationRepo {
	return &DonationRepo{pool: pool}
}

func (r *DonationRepo) Create(ctx context.Context, d *domain.Donation) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO donations (id, invoice_id, chain, token, amount_crypto, amount_usd,
			to_address, from_address, memo, pooled_address, qr_payload, donor_name, donor_email,
			anonymous, earmark, mint_requested, status, confirmations, txid, source, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		d.ID, d.InvoiceID, d.Chain, d.Token, d.AmountCrypto.String(), d.AmountUSD.String(),
		d.ToAddress, d.FromAddress, d.Memo, d.PooledAddress, d.QRPayload, d.DonorName, d.DonorEmail,
		d.Anonymous, d.Earmark, d.MintRequested, string(d.Status), d.Confirmations, d.Txid,
		string(d.Source), d.CreatedAt, d.UpdatedAt,
	)
	switch uniqueConstraint(err) {
	case "":
	case "donations_invoice_id_key":
		return ports.ErrConflict
	case "donations_active_address_idx":
		return ports.ErrAddressInUse
	default:
		return ports.ErrConflict
	}
	return err
}

func (r *DonationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Donation, error) {
	return r.getOne(ctx, `SELECT `+donationColumns+` FROM donations WHERE id = $1`, id)
}

func (r *DonationRepo) GetByInvoiceID(ctx context.Context, invoiceID string) (*domain.Donation, error) {
	return r.getOne(ctx, `SELECT `+donationColumns+` FROM donations WHERE invoice_id = $1`, invoiceID)
}

func (r *DonationRepo) GetByTxid(ctx context.Context, txid string) (*domain.Donation, error) {
	return r.getOne(ctx, `SELECT `+donationColumns+` FROM donations WHERE txid = $1`, txid)
}

func (r *DonationRepo) ApplyTransition(ctx context.Context, id uuid.UUID, t domain.Transition) (*domain.Donation, error) {
	d, err := r.getOne(ctx,
		`UPDATE donations SET
			status = $3,
			txid = COALESCE(txid, $4),
			from_address = COALESCE(from_address, $5),
			confirmations = GREATEST(confirmations, COALESCE($6, confirmations)),
			reason_code = COALESCE($7, reason_code),
			receipt_url = COALESCE($8, receipt_url),
			mint_token_id = COALESCE($9, mint_token_id),
			sweep_txid = COALESCE($10, sweep_txid),
			updated_at = NOW()
		 WHERE id = $1 AND status = $2
		   AND (NOT $11::bool OR txid IS NULL)
		 RETURNING `+donationColumns,
		id, string(t.From), string(t.To), t.Txid, t.FromAddress, t.Confirmations,
		t.ReasonCode, t.ReceiptURL, t.MintTokenID, t.SweepTxid, t.RequireNoTxid,
	)
	if err != nil {
		return nil, fmt.Errorf("applying transition %s->%s: %w", t.From, t.To, err)
	}
	return d, nil
}

func (r *DonationRepo) RecordObservation(ctx context.Context, id uuid.UUID, obs domain.PaymentObservation) (*domain.Donation, error) {
	d, err := r.getOne(ctx,
		`UPDATE donations SET
			confirmations = GREATEST(confirmations, $3),
			txid = COALESCE(txid, $4),
			from_address = COALESCE(from_address, $5),
			updated_at = NOW()
		 WHERE id = $1 AND status = $2
		   AND ($4::text IS NULL OR txid IS NULL OR txid = $4)
		 RETURNING `+donationColumns,
		id, string(domain.DonationStatusAwaitingConfirmation), obs.Confirmations,
		nullable(obs.Txid), nullable(obs.FromAddress),
	)
	if uniqueConstraint(err) == "donations_txid_idx" {
		// the txid already belongs to another donation
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recording observation: %w", err)
	}
	return d, nil
}

func (r *DonationRepo) ListByStatus(ctx context.Context, statuses []domain.DonationStatus, updatedBefore time.Time, limit int) ([]domain.Donation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+donationColumns+` FROM donations
		 WHERE status = ANY($1) AND updated_at < $2
		 ORDER BY updated_at
		 LIMIT $3`,
		statusNames(statuses), updatedBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing donations: %w", err)
	}
	defer rows.Close()

	var out []domain.Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *DonationRepo) getOne(ctx context.Context, query string, args ...any) (*domain.Donation, error) {
	d, err := scanDonation(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func scanDonation(row pgx.Row) (*domain.Donation, error) {
	var (
		d                       domain.Donation
		amountCrypto, amountUSD string
		status, source          string
	)
	err := row.Scan(
		&d.ID, &d.InvoiceID, &d.Chain, &d.Token, &amountCrypto, &amountUSD,
		&d.ToAddress, &d.FromAddress, &d.Memo, &d.PooledAddress, &d.QRPayload, &d.DonorName, &d.DonorEmail,
		&d.Anonymous, &d.Earmark, &d.MintRequested, &status, &d.Confirmations, &d.Txid, &d.ReasonCode,
		&d.ReceiptURL, &d.MintTokenID, &d.SweepTxid, &source, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if d.AmountCrypto, err = decimal.NewFromString(amountCrypto); err != nil {
		return nil, fmt.Errorf("parsing amount_crypto: %w", err)
	}
	if d.AmountUSD, err = decimal.NewFromString(amountUSD); err != nil {
		return nil, fmt.Errorf("parsing amount_usd: %w", err)
	}
	st, ok := domain.ParseDonationStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown donation status %q", status)
	}
	d.Status = st
	d.Source = domain.Source(source)
	return &d, nil
}
