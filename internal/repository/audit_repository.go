package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/textpulse/sms-marketing-backend/internal/model"
)

// AuditLogRepositoryInterface is append-only; audit rows are never updated.
type AuditLogRepositoryInterface interface {
	Append(entry *model.AuditLog) error
}

type AuditLogRepository struct {
	DB *sql.DB
}

func (r *AuditLogRepository) Append(entry *model.AuditLog) error {
	entry.CreatedAt = time.Now()

	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO audit_logs (action, resource, resource_id, user_id, organization_id, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id
    `
	return r.DB.QueryRow(
		query,
		entry.Action, entry.Resource, entry.ResourceID,
		entry.UserID, entry.OrganizationID, metadata, entry.CreatedAt,
	).Scan(&entry.ID)
}

var _ AuditLogRepositoryInterface = (*AuditLogRepository)(nil)
