package pipeline

import (
	"context"
	"slices"

	"donation-gateway/internal/core/domain"
)

// Stage is one step of settlement. Run must be safe to repeat: a stage can
// be re-run after a crash between its side effect and the transition.
type Stage interface {
	Name() domain.Stage
	// Preconditions lists the statuses Run applies to. Tasks found in any
	// other status complete without running.
	Preconditions() []domain.DonationStatus
	Run(ctx context.Context, d *domain.Donation) error
}

func applies(s Stage, status domain.DonationStatus) bool {
	return slices.Contains(s.Preconditions(), status)
}
