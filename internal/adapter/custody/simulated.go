package custody

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"donation-gateway/internal/core/ports"

	"github.com/google/uuid"
)

// Simulated is an in-process custody service. Ids are derived from the
// donation id so repeats return the same result.
type Simulated struct {
	mu     sync.Mutex
	mints  map[uuid.UUID]string
	sweeps map[uuid.UUID]string
}

// NewSimulated creates an empty simulated custody service.
func NewSimulated() *Simulated {
	return &Simulated{
		mints:  make(map[uuid.UUID]string),
		sweeps: make(map[uuid.UUID]string),
	}
}

func (s *Simulated) LookupMint(ctx context.Context, donationID uuid.UUID) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.mints[donationID]
	return id, ok, nil
}

func (s *Simulated) Mint(ctx context.Context, req ports.MintRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.mints[req.DonationID]; ok {
		return id, nil
	}
	id := "nft-" + digest("mint", req.DonationID)[:16]
	s.mints[req.DonationID] = id
	return id, nil
}

func (s *Simulated) LookupSweep(ctx context.Context, donationID uuid.UUID) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txid, ok := s.sweeps[donationID]
	return txid, ok, nil
}

func (s *Simulated) Sweep(ctx context.Context, req ports.SweepRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if txid, ok := s.sweeps[req.DonationID]; ok {
		return txid, nil
	}
	txid := digest("sweep", req.DonationID)
	s.sweeps[req.DonationID] = txid
	return txid, nil
}

// Counts reports how many mints and sweeps were performed.
func (s *Simulated) Counts() (mints, sweeps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mints), len(s.sweeps)
}

func digest(kind string, id uuid.UUID) string {
	sum := sha256.Sum256([]byte(kind + ":" + id.String()))
	return hex.EncodeToString(sum[:])
}
