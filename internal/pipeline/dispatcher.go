package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
)

// DispatcherConfig tunes task claiming and execution.
type DispatcherConfig struct {
	WorkerID      string
	Workers       int
	BatchSize     int
	PollInterval  time.Duration
	StageTimeout  time.Duration
	LeaseDuration time.Duration
	Retry         RetryPolicy
}

// Dispatcher claims due settlement tasks and runs them on a bounded
// goroutine pool. A claimed task is leased to this worker, so each
// (donation, stage) has at most one execution in flight.
type Dispatcher struct {
	tasks        ports.TaskRepository
	donations    ports.DonationRepository
	orchestrator ports.SettlementOrchestrator
	stages       map[domain.Stage]Stage
	pool         *ants.Pool
	cfg          DispatcherConfig
	inflight     sync.WaitGroup
	now          func() time.Time
	log          zerolog.Logger
}

// NewDispatcher creates a dispatcher with its worker pool.
func NewDispatcher(
	tasks ports.TaskRepository,
	donations ports.DonationRepository,
	orchestrator ports.SettlementOrchestrator,
	stages []Stage,
	cfg DispatcherConfig,
	log zerolog.Logger,
) (*Dispatcher, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.Workers
	}
	if cfg.StageTimeout >= cfg.LeaseDuration {
		return nil, fmt.Errorf("stage timeout %s must be shorter than lease %s", cfg.StageTimeout, cfg.LeaseDuration)
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = DefaultRetryPolicy()
	}

	pool, err := ants.NewPool(cfg.Workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	byName := make(map[domain.Stage]Stage, len(stages))
	for _, s := range stages {
		byName[s.Name()] = s
	}
	return &Dispatcher{
		tasks:        tasks,
		donations:    donations,
		orchestrator: orchestrator,
		stages:       byName,
		pool:         pool,
		cfg:          cfg,
		now:          time.Now,
		log:          log.With().Str("component", "dispatcher").Str("worker_id", cfg.WorkerID).Logger(),
	}, nil
}

// Run polls for due tasks until ctx is cancelled, then waits for in-flight
// stages to return.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info().Int("workers", d.cfg.Workers).Dur("poll_interval", d.cfg.PollInterval).Msg("dispatcher started")
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.Tick(ctx); err != nil {
			d.log.Error().Err(err).Msg("claiming tasks failed")
		}
		select {
		case <-ctx.Done():
			d.Drain()
			d.pool.Release()
			d.log.Info().Msg("dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick claims up to the pool's free capacity and submits each task. It
// returns the number of tasks submitted.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	free := d.pool.Free()
	if free > d.cfg.BatchSize {
		free = d.cfg.BatchSize
	}
	if free <= 0 || ctx.Err() != nil {
		return 0, nil
	}

	claimed, err := d.tasks.ClaimDue(ctx, d.cfg.WorkerID, d.now().UTC(), d.cfg.LeaseDuration, free)
	if err != nil {
		return 0, err
	}
	submitted := 0
	for i := range claimed {
		t := claimed[i]
		d.inflight.Add(1)
		err := d.pool.Submit(func() {
			defer d.inflight.Done()
			d.execute(ctx, t)
		})
		if err != nil {
			// the lease lapses and the task is claimed again later
			d.inflight.Done()
			d.log.Warn().Err(err).Str("stage", string(t.Stage)).Msg("worker pool rejected task")
			continue
		}
		submitted++
	}
	return submitted, nil
}

// Drain blocks until every submitted task has finished.
func (d *Dispatcher) Drain() {
	d.inflight.Wait()
}

func (d *Dispatcher) execute(ctx context.Context, t domain.SettlementTask) {
	log := d.log.With().Str("donation_id", t.DonationID.String()).Str("stage", string(t.Stage)).
		Int("attempt", t.Attempt).Logger()

	stage, ok := d.stages[t.Stage]
	if !ok {
		log.Error().Msg("no handler for stage")
		d.complete(ctx, t, log)
		return
	}
	donation, err := d.donations.GetByID(ctx, t.DonationID)
	if err != nil {
		// leave the lease to lapse
		log.Error().Err(err).Msg("loading donation failed")
		return
	}
	if donation == nil || donation.IsTerminal() || !applies(stage, donation.Status) {
		log.Debug().Msg("task no longer applies")
		d.complete(ctx, t, log)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, d.cfg.StageTimeout)
	started := d.now()
	runErr := stage.Run(runCtx, donation)
	cancel()

	if ctx.Err() != nil && runErr != nil {
		// shutting down; the task is picked up again after the lease
		log.Info().Err(runErr).Msg("stage interrupted by shutdown")
		return
	}

	outcome := Classify(runErr)
	log = log.With().Str("outcome", outcome.String()).Dur("took", d.now().Sub(started)).Logger()
	switch outcome {
	case OutcomeSuccess:
		log.Info().Msg("stage completed")
		d.complete(ctx, t, log)
	case OutcomeNotReady:
		log.Debug().Msg("stage not ready")
		t.NextRunAt = d.now().UTC().Add(d.cfg.PollInterval)
		d.reschedule(ctx, t, log)
	case OutcomeRetryable:
		t.Attempt++
		msg := runErr.Error()
		t.LastError = &msg
		if d.cfg.Retry.Exhausted(t.Attempt) {
			log.Error().Err(runErr).Msg("stage retries exhausted")
			d.deadLetter(ctx, t, domain.DeadLetterExhausted, msg, domain.DonationStatusFailed, domain.ReasonRetriesExhausted, log)
			return
		}
		delay := d.cfg.Retry.Delay(t.Attempt)
		log.Warn().Err(runErr).Dur("retry_in", delay).Msg("stage failed, will retry")
		t.NextRunAt = d.now().UTC().Add(delay)
		d.reschedule(ctx, t, log)
	case OutcomeFatal:
		var fatal *FatalError
		errors.As(runErr, &fatal)
		log.Error().Err(runErr).Str("reason_code", fatal.Reason).Msg("stage failed permanently")
		d.deadLetter(ctx, t, domain.DeadLetterFatal, runErr.Error(), fatal.Status, fatal.Reason, log)
	}
}

func (d *Dispatcher) complete(ctx context.Context, t domain.SettlementTask, log zerolog.Logger) {
	if err := d.tasks.Complete(ctx, t.DonationID, t.Stage, d.cfg.WorkerID); err != nil {
		log.Error().Err(err).Msg("completing task failed")
	}
}

func (d *Dispatcher) reschedule(ctx context.Context, t domain.SettlementTask, log zerolog.Logger) {
	if err := d.tasks.Reschedule(ctx, &t, d.cfg.WorkerID); err != nil {
		log.Error().Err(err).Msg("rescheduling task failed")
	}
}

func (d *Dispatcher) deadLetter(
	ctx context.Context,
	t domain.SettlementTask,
	kind domain.DeadLetterKind,
	lastError string,
	status domain.DonationStatus,
	reason string,
	log zerolog.Logger,
) {
	if err := d.tasks.DeadLetter(ctx, &t, kind, lastError); err != nil {
		log.Error().Err(err).Msg("dead-lettering task failed")
		return
	}
	if _, err := d.orchestrator.Terminate(ctx, t.DonationID, status, reason); err != nil {
		log.Error().Err(err).Msg("terminating donation failed")
	}
}
