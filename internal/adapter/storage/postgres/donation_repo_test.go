package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDonation() *domain.Donation {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Donation{
		ID:            uuid.New(),
		InvoiceID:     "INV-0A1B2C3D4E5F",
		Chain:         "ethereum",
		Token:         "USDC",
		AmountCrypto:  decimal.RequireFromString("25.5"),
		AmountUSD:     decimal.RequireFromString("25.50"),
		ToAddress:     "0xabc",
		PooledAddress: true,
		QRPayload:     "0xabc",
		Earmark:       "general",
		Status:        domain.DonationStatusCreated,
		Source:        domain.SourceAPI,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func donationColumnNames() []string {
	return []string{
		"id", "invoice_id", "chain", "token", "amount_crypto", "amount_usd",
		"to_address", "from_address", "memo", "pooled_address", "qr_payload", "donor_name", "donor_email",
		"anonymous", "earmark", "mint_requested", "status", "confirmations", "txid", "reason_code",
		"receipt_url", "mint_token_id", "sweep_txid", "source", "created_at", "updated_at",
	}
}

func donationRow(d *domain.Donation) *pgxmock.Rows {
	return pgxmock.NewRows(donationColumnNames()).AddRow(
		d.ID, d.InvoiceID, d.Chain, d.Token, d.AmountCrypto.String(), d.AmountUSD.String(),
		d.ToAddress, d.FromAddress, d.Memo, d.PooledAddress, d.QRPayload, d.DonorName, d.DonorEmail,
		d.Anonymous, d.Earmark, d.MintRequested, string(d.Status), d.Confirmations, d.Txid, d.ReasonCode,
		d.ReceiptURL, d.MintTokenID, d.SweepTxid, string(d.Source), d.CreatedAt, d.UpdatedAt,
	)
}

func TestDonationRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDonationRepo(mock)
	d := newTestDonation()

	mock.ExpectExec("INSERT INTO donations").
		WithArgs(d.ID, d.InvoiceID, d.Chain, d.Token, "25.5", "25.5",
			d.ToAddress, pgxmock.AnyArg(), pgxmock.AnyArg(), true, d.QRPayload, pgxmock.AnyArg(), pgxmock.AnyArg(),
			false, "general", false, "CREATED", 0, pgxmock.AnyArg(),
			"api", d.CreatedAt, d.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), d))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDonationRepo_Create_UniqueViolations(t *testing.T) {
	cases := []struct {
		constraint string
		want       error
	}{
		{"donations_invoice_id_key", ports.ErrConflict},
		{"donations_active_address_idx", ports.ErrAddressInUse},
	}
	for _, tc := range cases {
		t.Run(tc.constraint, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			mock.ExpectExec("INSERT INTO donations").
				WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: tc.constraint})

			err = NewDonationRepo(mock).Create(context.Background(), newTestDonation())
			assert.True(t, errors.Is(err, tc.want))
		})
	}
}

func TestDonationRepo_GetByInvoiceID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	d := newTestDonation()
	mock.ExpectQuery("SELECT .+ FROM donations WHERE invoice_id").
		WithArgs(d.InvoiceID).
		WillReturnRows(donationRow(d))

	got, err := NewDonationRepo(mock).GetByInvoiceID(context.Background(), d.InvoiceID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, d.ID, got.ID)
	assert.True(t, d.AmountCrypto.Equal(got.AmountCrypto))
	assert.Equal(t, domain.DonationStatusCreated, got.Status)
	assert.Equal(t, domain.SourceAPI, got.Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDonationRepo_GetByInvoiceID_UnknownStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	d := newTestDonation()
	d.Status = domain.DonationStatus("PAID")
	mock.ExpectQuery("SELECT .+ FROM donations WHERE invoice_id").
		WithArgs(d.InvoiceID).
		WillReturnRows(donationRow(d))

	got, err := NewDonationRepo(mock).GetByInvoiceID(context.Background(), d.InvoiceID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown donation status "PAID"`)
	assert.Nil(t, got)
}

func TestDonationRepo_GetByTxid_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM donations WHERE txid").
		WithArgs("0xdead").
		WillReturnRows(pgxmock.NewRows(donationColumnNames()))

	got, err := NewDonationRepo(mock).GetByTxid(context.Background(), "0xdead")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestDonationRepo_ApplyTransition(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	d := newTestDonation()
	d.Status = domain.DonationStatusAwaitingConfirmation
	reason := domain.ReasonExpired

	mock.ExpectQuery("UPDATE donations SET .+ WHERE id = \\$1 AND status = \\$2").
		WithArgs(d.ID, "CREATED", "AWAITING_CONFIRMATION",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), false).
		WillReturnRows(donationRow(d))

	got, err := NewDonationRepo(mock).ApplyTransition(context.Background(), d.ID, domain.Transition{
		From: domain.DonationStatusCreated, To: domain.DonationStatusAwaitingConfirmation, ReasonCode: &reason,
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.DonationStatusAwaitingConfirmation, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDonationRepo_ApplyTransition_Miss(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("UPDATE donations SET").
		WillReturnRows(pgxmock.NewRows(donationColumnNames()))

	got, err := NewDonationRepo(mock).ApplyTransition(context.Background(), uuid.New(), domain.Transition{
		From: domain.DonationStatusConfirmed, To: domain.DonationStatusReceipted,
	})
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestDonationRepo_RecordObservation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	d := newTestDonation()
	d.Status = domain.DonationStatusAwaitingConfirmation
	txid := "0xfeed"
	d.Txid = &txid
	d.Confirmations = 6

	mock.ExpectQuery("UPDATE donations SET\\s+confirmations = GREATEST").
		WithArgs(d.ID, "AWAITING_CONFIRMATION", 6, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(donationRow(d))

	got, err := NewDonationRepo(mock).RecordObservation(context.Background(), d.ID, domain.PaymentObservation{
		Txid: txid, Confirmations: 6, Source: domain.SourceWebhook,
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 6, got.Confirmations)
	assert.Equal(t, txid, *got.Txid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDonationRepo_RecordObservation_TxidTaken(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("UPDATE donations SET").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "donations_txid_idx"})

	got, err := NewDonationRepo(mock).RecordObservation(context.Background(), uuid.New(), domain.PaymentObservation{
		Txid: "0xfeed", Confirmations: 1,
	})
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestDonationRepo_ListByStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a, b := newTestDonation(), newTestDonation()
	b.InvoiceID = "INV-FFFFFFFFFFFF"
	cutoff := time.Now().UTC()

	rows := donationRow(a)
	rows.AddRow(
		b.ID, b.InvoiceID, b.Chain, b.Token, b.AmountCrypto.String(), b.AmountUSD.String(),
		b.ToAddress, b.FromAddress, b.Memo, b.PooledAddress, b.QRPayload, b.DonorName, b.DonorEmail,
		b.Anonymous, b.Earmark, b.MintRequested, string(b.Status), b.Confirmations, b.Txid, b.ReasonCode,
		b.ReceiptURL, b.MintTokenID, b.SweepTxid, string(b.Source), b.CreatedAt, b.UpdatedAt,
	)
	mock.ExpectQuery("SELECT .+ FROM donations\\s+WHERE status = ANY").
		WithArgs([]string{"CREATED", "AWAITING_CONFIRMATION"}, cutoff, 50).
		WillReturnRows(rows)

	got, err := NewDonationRepo(mock).ListByStatus(context.Background(),
		[]domain.DonationStatus{domain.DonationStatusCreated, domain.DonationStatusAwaitingConfirmation}, cutoff, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, b.InvoiceID, got[1].InvoiceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
