package memory

import (
	"context"
	"time"

	"donation-gateway/internal/core/domain"

	"github.com/google/uuid"
)

// TaskRepo implements ports.TaskRepository.
type TaskRepo struct{ s *Store }

func taskKey(donationID uuid.UUID, stage domain.Stage) string {
	return donationID.String() + "|" + string(stage)
}

func (r *TaskRepo) Enqueue(ctx context.Context, t *domain.SettlementTask) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := taskKey(t.DonationID, t.Stage)
	if _, ok := r.s.tasks[key]; ok {
		return nil
	}
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.s.now()
	}
	r.s.tasks[key] = &cp
	return nil
}

func (r *TaskRepo) ClaimDue(ctx context.Context, owner string, now time.Time, lease time.Duration, limit int) ([]domain.SettlementTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var due []*domain.SettlementTask
	for _, t := range r.s.tasks {
		if t.NextRunAt.After(now) {
			continue
		}
		if t.LeaseUntil != nil && t.LeaseUntil.After(now) {
			continue
		}
		due = append(due, t)
	}
	sortByTime(due, func(t *domain.SettlementTask) time.Time { return t.NextRunAt })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	until := now.Add(lease)
	out := make([]domain.SettlementTask, 0, len(due))
	for _, t := range due {
		o := owner
		u := until
		t.LeaseOwner = &o
		t.LeaseUntil = &u
		out = append(out, *t)
	}
	return out, nil
}

func (r *TaskRepo) Complete(ctx context.Context, donationID uuid.UUID, stage domain.Stage, owner string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := taskKey(donationID, stage)
	if t, ok := r.s.tasks[key]; ok && ownedBy(t, owner) {
		delete(r.s.tasks, key)
	}
	return nil
}

func (r *TaskRepo) Reschedule(ctx context.Context, t *domain.SettlementTask, owner string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.tasks[taskKey(t.DonationID, t.Stage)]
	if !ok || !ownedBy(cur, owner) {
		return nil
	}
	cur.Attempt = t.Attempt
	cur.NextRunAt = t.NextRunAt
	cur.LastError = t.LastError
	cur.LeaseOwner = nil
	cur.LeaseUntil = nil
	return nil
}

func (r *TaskRepo) DeadLetter(ctx context.Context, t *domain.SettlementTask, kind domain.DeadLetterKind, lastError string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.tasks, taskKey(t.DonationID, t.Stage))
	r.s.deadLetters = append(r.s.deadLetters, domain.DeadLetter{
		ID:         uuid.New(),
		DonationID: t.DonationID,
		Stage:      t.Stage,
		Attempts:   t.Attempt,
		LastError:  lastError,
		Kind:       kind,
		CreatedAt:  r.s.now(),
	})
	return nil
}

func (r *TaskRepo) CancelForDonation(ctx context.Context, donationID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for key, t := range r.s.tasks {
		if t.DonationID == donationID {
			delete(r.s.tasks, key)
		}
	}
	return nil
}

func (r *TaskRepo) ListDeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]domain.DeadLetter, 0, len(r.s.deadLetters))
	for i := len(r.s.deadLetters) - 1; i >= 0; i-- {
		out = append(out, r.s.deadLetters[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Open returns a copy of the open task for (donationID, stage), if any.
func (r *TaskRepo) Open(donationID uuid.UUID, stage domain.Stage) *domain.SettlementTask {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.tasks[taskKey(donationID, stage)]; ok {
		cp := *t
		return &cp
	}
	return nil
}

// Count returns the number of open tasks.
func (r *TaskRepo) Count() int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.tasks)
}

func ownedBy(t *domain.SettlementTask, owner string) bool {
	return t.LeaseOwner == nil || *t.LeaseOwner == owner
}
