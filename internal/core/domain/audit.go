package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionCreateDonation     AuditAction = "CREATE_DONATION"
	AuditActionWebhookReceived    AuditAction = "WEBHOOK_RECEIVED"
	AuditActionAdminLogin         AuditAction = "ADMIN_LOGIN"
	AuditActionComplianceDecision AuditAction = "COMPLIANCE_DECISION"
	AuditActionWalletAdded        AuditAction = "WALLET_ADDED"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	Actor        string      `json:"actor,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
