package postgres

import (
	"context"
	"fmt"
	"time"

	"donation-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const taskColumns = `donation_id, stage, attempt, next_run_at, last_error, lease_owner, lease_until, created_at`

// TaskRepo implements ports.TaskRepository on settlement_tasks and
// settlement_dead_letters.
type TaskRepo struct {
	pool Pool
}

// NewTaskRepo creates a PostgreSQL-backed TaskRepo.
func NewTaskRepo(pool Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func (r *TaskRepo) Enqueue(ctx context.Context, t *domain.SettlementTask) error {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO settlement_tasks (donation_id, stage, attempt, next_run_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (donation_id, stage) DO NOTHING`,
		t.DonationID, string(t.Stage), t.Attempt, t.NextRunAt, createdAt,
	)
	if err != nil {
		return fmt.Errorf("enqueueing %s task: %w", t.Stage, err)
	}
	return nil
}

// ClaimDue leases due tasks whose previous lease, if any, has lapsed. Rows
// locked by a concurrent claimer are skipped.
func (r *TaskRepo) ClaimDue(ctx context.Context, owner string, now time.Time, lease time.Duration, limit int) ([]domain.SettlementTask, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE settlement_tasks SET lease_owner = $1, lease_until = $2
		 WHERE (donation_id, stage) IN (
			SELECT donation_id, stage FROM settlement_tasks
			WHERE next_run_at <= $3 AND (lease_until IS NULL OR lease_until < $3)
			ORDER BY next_run_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+taskColumns,
		owner, now.Add(lease), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.SettlementTask
	for rows.Next() {
		var (
			t     domain.SettlementTask
			stage string
		)
		if err := rows.Scan(&t.DonationID, &stage, &t.Attempt, &t.NextRunAt, &t.LastError,
			&t.LeaseOwner, &t.LeaseUntil, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Stage = domain.Stage(stage)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TaskRepo) Complete(ctx context.Context, donationID uuid.UUID, stage domain.Stage, owner string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM settlement_tasks
		 WHERE donation_id = $1 AND stage = $2 AND (lease_owner IS NULL OR lease_owner = $3)`,
		donationID, string(stage), owner,
	)
	if err != nil {
		return fmt.Errorf("completing %s task: %w", stage, err)
	}
	return nil
}

func (r *TaskRepo) Reschedule(ctx context.Context, t *domain.SettlementTask, owner string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE settlement_tasks
		 SET attempt = $3, next_run_at = $4, last_error = $5, lease_owner = NULL, lease_until = NULL
		 WHERE donation_id = $1 AND stage = $2 AND (lease_owner IS NULL OR lease_owner = $6)`,
		t.DonationID, string(t.Stage), t.Attempt, t.NextRunAt, t.LastError, owner,
	)
	if err != nil {
		return fmt.Errorf("rescheduling %s task: %w", t.Stage, err)
	}
	return nil
}

func (r *TaskRepo) DeadLetter(ctx context.Context, t *domain.SettlementTask, kind domain.DeadLetterKind, lastError string) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx,
		`INSERT INTO settlement_dead_letters (id, donation_id, stage, attempts, last_error, kind, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), t.DonationID, string(t.Stage), t.Attempt, lastError, string(kind), time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}
	if _, err = tx.Exec(ctx,
		`DELETE FROM settlement_tasks WHERE donation_id = $1 AND stage = $2`,
		t.DonationID, string(t.Stage),
	); err != nil {
		return fmt.Errorf("removing dead-lettered task: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing dead letter: %w", err)
	}
	return nil
}

func (r *TaskRepo) CancelForDonation(ctx context.Context, donationID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM settlement_tasks WHERE donation_id = $1`, donationID)
	if err != nil {
		return fmt.Errorf("cancelling tasks: %w", err)
	}
	return nil
}

func (r *TaskRepo) ListDeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, donation_id, stage, attempts, last_error, kind, created_at
		 FROM settlement_dead_letters
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DeadLetter, error) {
		var (
			dl          domain.DeadLetter
			stage, kind string
		)
		err := row.Scan(&dl.ID, &dl.DonationID, &stage, &dl.Attempts, &dl.LastError, &kind, &dl.CreatedAt)
		dl.Stage = domain.Stage(stage)
		dl.Kind = domain.DeadLetterKind(kind)
		return dl, err
	})
}
