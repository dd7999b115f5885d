package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is the verbatim record of an inbound provider callback.
type WebhookEvent struct {
	ID             uuid.UUID `json:"id"`
	Provider       string    `json:"provider"`
	DedupKey       string    `json:"dedup_key"`
	RawPayload     []byte    `json:"-"`
	SignatureValid bool      `json:"signature_valid"`
	Processed      bool      `json:"processed"`
	ReceivedAt     time.Time `json:"received_at"`
}

// BuildDedupKey picks the provider event id when present, else a body digest.
func BuildDedupKey(providerEventID string, rawBody []byte) string {
	if providerEventID != "" {
		return "evt:" + providerEventID
	}
	sum := sha256.Sum256(rawBody)
	return "sha256:" + hex.EncodeToString(sum[:])
}
