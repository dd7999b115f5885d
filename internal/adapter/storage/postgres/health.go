package postgres

import (
	"context"
	"fmt"
)

// HealthCheck pings PostgreSQL through the donations table, so an
// unmigrated database reports unhealthy.
type HealthCheck struct {
	pool Pool
}

func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	if _, err := h.pool.Exec(ctx, "SELECT 1 FROM donations LIMIT 1"); err != nil {
		return fmt.Errorf("donations table unreachable: %w", err)
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "postgresql"
}
