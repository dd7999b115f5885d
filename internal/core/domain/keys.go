package domain

import (
	"strings"

	"github.com/google/uuid"
)

// NewInvoiceID returns a server-generated invoice id, INV- plus 12 hex chars.
func NewInvoiceID() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "INV-" + strings.ToUpper(hex[:12])
}

// BuildInvoiceLockKey scopes the creation lock to one invoice id.
func BuildInvoiceLockKey(invoiceID string) string {
	return "invoice:" + invoiceID
}

// BuildWebhookGuardKey scopes the processing guard to one provider event.
func BuildWebhookGuardKey(provider, dedupKey string) string {
	return "webhook:" + provider + ":" + dedupKey
}
