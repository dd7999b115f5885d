package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"donation-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taskColumnNames() []string {
	return []string{"donation_id", "stage", "attempt", "next_run_at", "last_error", "lease_owner", "lease_until", "created_at"}
}

func TestTaskRepo_Enqueue_Idempotent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	task := &domain.SettlementTask{DonationID: uuid.New(), Stage: domain.StageConfirm, NextRunAt: time.Now().UTC(), CreatedAt: time.Now().UTC()}
	mock.ExpectExec("INSERT INTO settlement_tasks .+ ON CONFLICT \\(donation_id, stage\\) DO NOTHING").
		WithArgs(task.DonationID, "CONFIRM", 0, task.NextRunAt, task.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, NewTaskRepo(mock).Enqueue(context.Background(), task))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepo_ClaimDue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	owner := "worker-1"
	until := now.Add(2 * time.Minute)
	id := uuid.New()

	mock.ExpectQuery("UPDATE settlement_tasks SET lease_owner .+ FOR UPDATE SKIP LOCKED").
		WithArgs(owner, until, now, 10).
		WillReturnRows(pgxmock.NewRows(taskColumnNames()).
			AddRow(id, "SCREEN", 2, now, (*string)(nil), &owner, &until, now))

	tasks, err := NewTaskRepo(mock).ClaimDue(context.Background(), owner, now, 2*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.StageScreen, tasks[0].Stage)
	assert.Equal(t, 2, tasks[0].Attempt)
	assert.Equal(t, owner, *tasks[0].LeaseOwner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepo_Reschedule(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	msg := "rpc timeout"
	task := &domain.SettlementTask{DonationID: uuid.New(), Stage: domain.StageMint, Attempt: 3, NextRunAt: time.Now().UTC(), LastError: &msg}
	mock.ExpectExec("UPDATE settlement_tasks\\s+SET attempt").
		WithArgs(task.DonationID, "MINT", 3, task.NextRunAt, task.LastError, "worker-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewTaskRepo(mock).Reschedule(context.Background(), task, "worker-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepo_DeadLetter_Commits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	task := &domain.SettlementTask{DonationID: uuid.New(), Stage: domain.StageSweep, Attempt: 5}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO settlement_dead_letters").
		WithArgs(pgxmock.AnyArg(), task.DonationID, "SWEEP", 5, "custody down", "exhausted", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM settlement_tasks").
		WithArgs(task.DonationID, "SWEEP").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, NewTaskRepo(mock).DeadLetter(context.Background(), task, domain.DeadLetterExhausted, "custody down"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepo_DeadLetter_RollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	task := &domain.SettlementTask{DonationID: uuid.New(), Stage: domain.StageSweep, Attempt: 5}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO settlement_dead_letters").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = NewTaskRepo(mock).DeadLetter(context.Background(), task, domain.DeadLetterFatal, "bad address")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepo_ListDeadLetters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id, donationID := uuid.New(), uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM settlement_dead_letters").
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows([]string{"id", "donation_id", "stage", "attempts", "last_error", "kind", "created_at"}).
			AddRow(id, donationID, "RECEIPT", 5, "s3 unavailable", "exhausted", now))

	got, err := NewTaskRepo(mock).ListDeadLetters(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.StageReceipt, got[0].Stage)
	assert.Equal(t, domain.DeadLetterExhausted, got[0].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}
