package pipeline

import (
	"context"
	"testing"
	"time"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"
	"donation-gateway/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestExpiryJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	unpaid := h.create(t, "INV-EXPIRYJOB01", false)
	seen := h.create(t, "INV-EXPIRYJOB02", false)
	_, err := h.orch.ObservePayment(ctx, seen.ID, domain.PaymentObservation{Txid: "tx-pending", Confirmations: 0})
	require.NoError(t, err)

	job := NewExpiryJob(h.store.Donations(), h.orch, time.Hour, time.Minute, 100, zerolog.Nop())

	require.NoError(t, job.Execute(ctx))
	assert.Equal(t, domain.DonationStatusAwaitingConfirmation, h.get(t, unpaid.ID).Status, "inside the window")

	job.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.NoError(t, job.Execute(ctx))
	assert.Equal(t, domain.DonationStatusExpired, h.get(t, unpaid.ID).Status)
	assert.Equal(t, domain.DonationStatusAwaitingConfirmation, h.get(t, seen.ID).Status, "a txid blocks expiry")
}

func TestReconcileJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// an approved donation that lost its Receipt task
	d := h.create(t, "INV-RECONCILE01", false)
	_, err := h.orch.ObservePayment(ctx, d.ID, domain.PaymentObservation{Txid: "tx-rc", Confirmations: 3})
	require.NoError(t, err)
	_, err = h.orch.BeginReview(ctx, d.ID)
	require.NoError(t, err)
	_, err = h.orch.RecordVerdict(ctx, d.ID, ports.Verdict{Decision: ports.ComplianceApproved})
	require.NoError(t, err)
	require.NoError(t, h.store.Tasks().CancelForDonation(ctx, d.ID))

	// an address held an hour ago by a donation that never got persisted
	h.store.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })
	_, err = h.pool.Allocate(ctx, "bitcoin", uuid.New())
	require.NoError(t, err)
	h.store.SetClock(time.Now)

	job := NewReconcileJob(h.store.Donations(), h.orch, h.pool, time.Minute, time.Minute, 100, zerolog.Nop())
	job.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.NoError(t, job.Execute(ctx))

	assert.NotNil(t, h.store.Tasks().Open(d.ID, domain.StageReceipt))

	free := 0
	ws, err := h.pool.List(ctx, "bitcoin")
	require.NoError(t, err)
	for _, w := range ws {
		if w.IsFree() {
			free++
		}
	}
	assert.Equal(t, 2, free, "the orphaned address went back to the pool")
}

func TestReconcileJob_IssuesStaleCreated(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	stale := domain.Donation{ID: uuid.New(), InvoiceID: "INV-STALECREATE", Status: domain.DonationStatusCreated}
	donations := mocks.NewMockDonationRepository(ctrl)
	donations.EXPECT().ListByStatus(gomock.Any(), []domain.DonationStatus{domain.DonationStatusCreated}, gomock.Any(), 10).
		Return([]domain.Donation{stale}, nil)
	donations.EXPECT().ListByStatus(gomock.Any(), staged, gomock.Any(), 10).Return(nil, nil)

	orch := mocks.NewMockSettlementOrchestrator(ctrl)
	orch.EXPECT().Issue(gomock.Any(), gomock.Any()).Return(true, nil)

	releaser := &fakeReleaser{}
	job := NewReconcileJob(donations, orch, releaser, time.Minute, time.Minute, 10, zerolog.Nop())
	require.NoError(t, job.Execute(context.Background()))
	assert.Equal(t, 1, releaser.calls)
}

type fakeReleaser struct{ calls int }

func (f *fakeReleaser) ReleaseOrphaned(ctx context.Context, grace time.Duration, limit int) (int, error) {
	f.calls++
	return 0, nil
}

func TestWebhookReplayJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ev := domain.WebhookEvent{ID: uuid.New(), Provider: "nowpayments", DedupKey: "evt:1", SignatureValid: true}
	events := mocks.NewMockWebhookEventRepository(ctrl)
	events.EXPECT().ListUnprocessed(gomock.Any(), gomock.Any(), 50).Return([]domain.WebhookEvent{ev}, nil)

	proc := &fakeProcessor{}
	job := NewWebhookReplayJob(events, proc, 24*time.Hour, time.Minute, 50, zerolog.Nop())
	require.NoError(t, job.Execute(context.Background()))
	assert.Equal(t, []uuid.UUID{ev.ID}, proc.seen)
}

type fakeProcessor struct{ seen []uuid.UUID }

func (f *fakeProcessor) Process(ctx context.Context, ev *domain.WebhookEvent) (bool, error) {
	f.seen = append(f.seen, ev.ID)
	return false, nil
}

func TestScheduler_RunsJobsUntilCancelled(t *testing.T) {
	job := &countingJob{ran: make(chan struct{}, 8)}
	s, err := NewScheduler(zerolog.Nop(), job)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-job.ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

type countingJob struct{ ran chan struct{} }

func (j *countingJob) Name() string            { return "counting" }
func (j *countingJob) Interval() time.Duration { return 50 * time.Millisecond }
func (j *countingJob) Execute(ctx context.Context) error {
	select {
	case j.ran <- struct{}{}:
	default:
	}
	return nil
}
