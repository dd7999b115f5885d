package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeSuccess},
		{"not ready", ErrNotReady, OutcomeNotReady},
		{"wrapped not ready", fmt.Errorf("chain: %w", ErrNotReady), OutcomeNotReady},
		{"retryable", Retry(errors.New("503")), OutcomeRetryable},
		{"deadline", context.DeadlineExceeded, OutcomeRetryable},
		{"unclassified", errors.New("boom"), OutcomeRetryable},
		{"fatal", &FatalError{Status: domain.DonationStatusFailed, Reason: "x"}, OutcomeFatal},
		{"wrapped fatal", fmt.Errorf("stage: %w", &FatalError{Reason: "x"}), OutcomeFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestCollaboratorError(t *testing.T) {
	assert.NoError(t, collaboratorError("op", nil))

	err := collaboratorError("minting", fmt.Errorf("custody said 422: %w", ports.ErrPermanent))
	var fatal *FatalError
	assert.ErrorAs(t, err, &fatal)
	assert.Equal(t, domain.DonationStatusFailed, fatal.Status)
	assert.Equal(t, domain.ReasonCollaboratorRejected, fatal.Reason)

	err = collaboratorError("sweeping", context.DeadlineExceeded)
	assert.Equal(t, OutcomeRetryable, Classify(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Base: 30 * time.Second, Factor: 2, Max: 30 * time.Minute, Jitter: 0}

	assert.Equal(t, 30*time.Second, p.Delay(1))
	assert.Equal(t, 60*time.Second, p.Delay(2))
	assert.Equal(t, 120*time.Second, p.Delay(3))
	assert.Equal(t, 30*time.Minute, p.Delay(20), "capped")

	jittered := DefaultRetryPolicy()
	for i := 0; i < 50; i++ {
		d := jittered.Delay(1)
		assert.GreaterOrEqual(t, d, 24*time.Second)
		assert.LessOrEqual(t, d, 36*time.Second)
	}

	assert.False(t, p.Exhausted(4))
	assert.True(t, p.Exhausted(5))
}
