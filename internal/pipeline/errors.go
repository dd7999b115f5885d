package pipeline

import (
	"context"
	"errors"
	"fmt"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"
)

// ErrNotReady means the stage has nothing to do yet. The task is polled
// again without consuming an attempt.
var ErrNotReady = errors.New("stage not ready")

// RetryableError is a transient stage failure.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retry wraps err as retryable.
func Retry(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// FatalError ends the donation in Status with the donor-facing Reason.
type FatalError struct {
	Status domain.DonationStatus
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("fatal (%s)", e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Outcome is how the dispatcher treats a stage result.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNotReady
	OutcomeRetryable
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotReady:
		return "not_ready"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// Classify maps a stage error onto an outcome. Anything unrecognised,
// including a deadline, is retryable.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return OutcomeFatal
	}
	if errors.Is(err, ErrNotReady) {
		return OutcomeNotReady
	}
	return OutcomeRetryable
}

// collaboratorError classifies a failed collaborator call. Permanent
// failures fail the donation; the rest are retried.
func collaboratorError(op string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", op, err)
	if errors.Is(err, ports.ErrPermanent) {
		return &FatalError{
			Status: domain.DonationStatusFailed,
			Reason: domain.ReasonCollaboratorRejected,
			Err:    wrapped,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retry(fmt.Errorf("%s timed out: %w", op, err))
	}
	return Retry(wrapped)
}
