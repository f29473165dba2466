// internal/model/audit_log.go
package model

import "time"

// AuditLog is an append-only record of a state-changing action.
type AuditLog struct {
	ID             int            `db:"id" json:"id"`
	Action         string         `db:"action" json:"action"`
	Resource       string         `db:"resource" json:"resource"`
	ResourceID     int            `db:"resource_id" json:"resource_id"`
	UserID         int            `db:"user_id" json:"user_id"`
	OrganizationID int            `db:"organization_id" json:"organization_id"`
	Metadata       map[string]any `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}
