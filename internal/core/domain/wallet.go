package domain

import (
	"time"

	"github.com/google/uuid"
)

// WalletAddress is a custodial receiving address owned by the pool.
type WalletAddress struct {
	Address     string     `json:"address"`
	Chain       string     `json:"chain"`
	Active      bool       `json:"active"`
	AllocatedTo *uuid.UUID `json:"allocated_to,omitempty"`
	AllocatedAt *time.Time `json:"allocated_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// IsFree reports whether the address can be handed to a new donation.
func (w *WalletAddress) IsFree() bool {
	return w.Active && w.AllocatedTo == nil
}
