package pipeline

import (
	"context"
	"fmt"
	"time"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// Job is a periodic maintenance task.
type Job interface {
	Name() string
	Interval() time.Duration
	Execute(ctx context.Context) error
}

// Scheduler runs maintenance jobs. A job that overruns its interval is
// rescheduled rather than run twice at once.
type Scheduler struct {
	scheduler gocron.Scheduler
	jobs      []Job
	log       zerolog.Logger
}

// NewScheduler creates a scheduler for jobs.
func NewScheduler(log zerolog.Logger, jobs ...Job) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, jobs: jobs, log: log.With().Str("component", "scheduler").Logger()}, nil
}

// Run registers every job, starts the scheduler and blocks until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, job := range s.jobs {
		_, err := s.scheduler.NewJob(
			gocron.DurationJob(job.Interval()),
			gocron.NewTask(func() { s.execute(ctx, job) }),
			gocron.WithName(job.Name()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("registering job %s: %w", job.Name(), err)
		}
	}
	s.scheduler.Start()
	s.log.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")

	<-ctx.Done()
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("stopping scheduler: %w", err)
	}
	s.log.Info().Msg("scheduler stopped")
	return nil
}

func (s *Scheduler) execute(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	if err := job.Execute(ctx); err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
		return
	}
	s.log.Debug().Str("job", job.Name()).Dur("took", time.Since(started)).Msg("job finished")
}

// ExpiryJob expires unpaid invoices older than the payment window.
type ExpiryJob struct {
	donations    ports.DonationRepository
	orchestrator ports.SettlementOrchestrator
	window       time.Duration
	interval     time.Duration
	batch        int
	now          func() time.Time
	log          zerolog.Logger
}

func NewExpiryJob(donations ports.DonationRepository, o ports.SettlementOrchestrator, window, interval time.Duration, batch int, log zerolog.Logger) *ExpiryJob {
	return &ExpiryJob{
		donations:    donations,
		orchestrator: o,
		window:       window,
		interval:     interval,
		batch:        batch,
		now:          time.Now,
		log:          log.With().Str("job", "expiry").Logger(),
	}
}

func (j *ExpiryJob) Name() string            { return "expiry" }
func (j *ExpiryJob) Interval() time.Duration { return j.interval }

func (j *ExpiryJob) Execute(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.window)
	unpaid, err := j.donations.ListByStatus(ctx, []domain.DonationStatus{
		domain.DonationStatusCreated, domain.DonationStatusAwaitingConfirmation,
	}, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("listing unpaid donations: %w", err)
	}
	expired := 0
	for i := range unpaid {
		d := &unpaid[i]
		if d.HasTxid() || d.CreatedAt.After(cutoff) {
			continue
		}
		applied, err := j.orchestrator.Expire(ctx, d.ID)
		if err != nil {
			j.log.Warn().Err(err).Str("invoice_id", d.InvoiceID).Msg("expiring donation failed")
			continue
		}
		if applied {
			expired++
		}
	}
	if expired > 0 {
		j.log.Info().Int("expired", expired).Msg("unpaid invoices expired")
	}
	return nil
}

// staged lists the statuses a settlement stage picks up from.
var staged = []domain.DonationStatus{
	domain.DonationStatusAwaitingConfirmation,
	domain.DonationStatusConfirmed,
	domain.DonationStatusComplianceApproved,
	domain.DonationStatusReceipted,
	domain.DonationStatusMinted,
}

// ReconcileJob repairs work lost between a state change and its follow-up:
// unissued invoices, missing stage tasks and addresses held by finished
// donations.
type ReconcileJob struct {
	donations    ports.DonationRepository
	orchestrator ports.SettlementOrchestrator
	pool         OrphanReleaser
	grace        time.Duration
	interval     time.Duration
	batch        int
	now          func() time.Time
	log          zerolog.Logger
}

// OrphanReleaser frees pool addresses whose holder is gone.
type OrphanReleaser interface {
	ReleaseOrphaned(ctx context.Context, grace time.Duration, limit int) (int, error)
}

func NewReconcileJob(donations ports.DonationRepository, o ports.SettlementOrchestrator, pool OrphanReleaser, grace, interval time.Duration, batch int, log zerolog.Logger) *ReconcileJob {
	return &ReconcileJob{
		donations:    donations,
		orchestrator: o,
		pool:         pool,
		grace:        grace,
		interval:     interval,
		batch:        batch,
		now:          time.Now,
		log:          log.With().Str("job", "reconcile").Logger(),
	}
}

func (j *ReconcileJob) Name() string            { return "reconcile" }
func (j *ReconcileJob) Interval() time.Duration { return j.interval }

func (j *ReconcileJob) Execute(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.grace)

	created, err := j.donations.ListByStatus(ctx, []domain.DonationStatus{domain.DonationStatusCreated}, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("listing created donations: %w", err)
	}
	issued := 0
	for i := range created {
		applied, err := j.orchestrator.Issue(ctx, &created[i])
		if err != nil {
			j.log.Warn().Err(err).Str("invoice_id", created[i].InvoiceID).Msg("issuing stale donation failed")
			continue
		}
		if applied {
			issued++
		}
	}

	stalled, err := j.donations.ListByStatus(ctx, staged, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("listing stalled donations: %w", err)
	}
	for i := range stalled {
		if err := j.orchestrator.EnqueueNext(ctx, &stalled[i]); err != nil {
			j.log.Warn().Err(err).Str("invoice_id", stalled[i].InvoiceID).Msg("re-enqueueing stage failed")
		}
	}

	released, err := j.pool.ReleaseOrphaned(ctx, j.grace, j.batch)
	if err != nil {
		return err
	}
	j.log.Debug().Int("issued", issued).Int("checked", len(stalled)).Int("released", released).Msg("reconciled")
	return nil
}

// EventProcessor dispatches a stored webhook event.
type EventProcessor interface {
	Process(ctx context.Context, ev *domain.WebhookEvent) (bool, error)
}

// WebhookReplayJob re-drives verified webhook events that were never
// processed, for example because the donation they name did not exist
// yet.
type WebhookReplayJob struct {
	events    ports.WebhookEventRepository
	processor EventProcessor
	window    time.Duration
	interval  time.Duration
	batch     int
	now       func() time.Time
	log       zerolog.Logger
}

func NewWebhookReplayJob(events ports.WebhookEventRepository, p EventProcessor, window, interval time.Duration, batch int, log zerolog.Logger) *WebhookReplayJob {
	return &WebhookReplayJob{
		events:    events,
		processor: p,
		window:    window,
		interval:  interval,
		batch:     batch,
		now:       time.Now,
		log:       log.With().Str("job", "webhook_replay").Logger(),
	}
}

func (j *WebhookReplayJob) Name() string            { return "webhook_replay" }
func (j *WebhookReplayJob) Interval() time.Duration { return j.interval }

func (j *WebhookReplayJob) Execute(ctx context.Context) error {
	pending, err := j.events.ListUnprocessed(ctx, j.now().UTC().Add(-j.window), j.batch)
	if err != nil {
		return fmt.Errorf("listing unprocessed events: %w", err)
	}
	for i := range pending {
		ev := &pending[i]
		if _, err := j.processor.Process(ctx, ev); err != nil {
			j.log.Warn().Err(err).Str("event_id", ev.ID.String()).Msg("webhook replay failed")
		}
	}
	return nil
}
