package postgres

import (
	"context"
	"testing"
	"time"

	"donation-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walletColumnNames() []string {
	return []string{"chain", "address", "active", "allocated_to", "allocated_at", "created_at"}
}

func TestWalletRepo_Add(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO wallet_addresses .+ ON CONFLICT").
		WithArgs("bitcoin", "bc1qxyz", true, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO wallet_addresses").
		WithArgs("bitcoin", "bc1qxyz", true, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	repo := NewWalletRepo(mock)
	w := &domain.WalletAddress{Chain: "bitcoin", Address: "bc1qxyz", Active: true, CreatedAt: now}

	added, err := repo.Add(context.Background(), w)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = repo.Add(context.Background(), w)
	require.NoError(t, err)
	assert.False(t, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_Allocate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	donationID := uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery("UPDATE wallet_addresses SET allocated_to .+ FOR UPDATE SKIP LOCKED").
		WithArgs("bitcoin", donationID).
		WillReturnRows(pgxmock.NewRows(walletColumnNames()).
			AddRow("bitcoin", "bc1qxyz", true, &donationID, &now, now))

	w, err := NewWalletRepo(mock).Allocate(context.Background(), "bitcoin", donationID)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, "bc1qxyz", w.Address)
	assert.Equal(t, donationID, *w.AllocatedTo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_Allocate_Exhausted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("UPDATE wallet_addresses").
		WillReturnRows(pgxmock.NewRows(walletColumnNames()))

	w, err := NewWalletRepo(mock).Allocate(context.Background(), "bitcoin", uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, w)
}

func TestWalletRepo_Release_ScopedToHolder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	donationID := uuid.New()
	mock.ExpectExec("UPDATE wallet_addresses SET allocated_to = NULL .+ allocated_to = \\$3").
		WithArgs("bitcoin", "bc1qxyz", donationID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewWalletRepo(mock).Release(context.Background(), "bitcoin", "bc1qxyz", donationID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_ListOrphaned(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	holder := uuid.New()
	allocatedAt := time.Now().Add(-time.Hour).UTC()
	cutoff := time.Now().UTC()

	mock.ExpectQuery("LEFT JOIN donations").
		WithArgs(cutoff, terminalStatusNames(), 100).
		WillReturnRows(pgxmock.NewRows(walletColumnNames()).
			AddRow("stellar", "GABC", true, &holder, &allocatedAt, allocatedAt))

	got, err := NewWalletRepo(mock).ListOrphaned(context.Background(), cutoff, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "GABC", got[0].Address)
	assert.NoError(t, mock.ExpectationsWereMet())
}
