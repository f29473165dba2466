package repository

import (
	"database/sql"
	"time"

	"github.com/textpulse/sms-marketing-backend/internal/model"
)

type MessageRepositoryInterface interface {
	CreateBatch(campaignID int, messages []*model.Message) error
	ListPending(campaignID int) ([]*model.Message, error)
	CountByCampaign(campaignID int) (int, error)

	// ClaimForSend flips one pending message to sent. False means the
	// row was no longer pending (a concurrent cancel took it) and the
	// message must not go to the gateway.
	ClaimForSend(id int) (bool, error)
	MarkSent(id int, status model.MessageStatus, externalID string) error
	MarkFailed(id int, lastError string) error
	CancelPending(campaignID int) (int, error)
	CountByStatus(campaignID int) (map[model.MessageStatus]int, error)
	UpdateStatusByExternalID(externalID string, status model.MessageStatus, lastError string) error
}

type MessageRepository struct {
	DB *sql.DB
}

// CreateBatch inserts the per-recipient snapshot rows for a campaign.
// Runs in a transaction so a half-expanded recipient set never persists.
func (r *MessageRepository) CreateBatch(campaignID int, messages []*model.Message) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	query := `
        INSERT INTO messages (campaign_id, contact_id, phone_number, content, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)
        RETURNING id
    `
	now := time.Now()
	for _, m := range messages {
		m.CampaignID = campaignID
		m.Status = model.MessageStatusPending
		m.CreatedAt = now
		m.UpdatedAt = now
		if err := tx.QueryRow(query, m.CampaignID, m.ContactID, m.PhoneNumber, m.Content, m.Status, now).Scan(&m.ID); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (r *MessageRepository) ListPending(campaignID int) ([]*model.Message, error) {
	query := `
        SELECT id, campaign_id, contact_id, phone_number, content, status, external_id, last_error, created_at, updated_at
        FROM messages
        WHERE campaign_id=$1 AND status=$2
        ORDER BY id
    `
	rows, err := r.DB.Query(query, campaignID, model.MessageStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*model.Message{}
	for rows.Next() {
		m := &model.Message{}
		var externalID, lastError sql.NullString
		if err := rows.Scan(
			&m.ID, &m.CampaignID, &m.ContactID, &m.PhoneNumber, &m.Content,
			&m.Status, &externalID, &lastError, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		m.ExternalID = externalID.String
		m.LastError = lastError.String
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *MessageRepository) CountByCampaign(campaignID int) (int, error) {
	var count int
	err := r.DB.QueryRow(`SELECT COUNT(*) FROM messages WHERE campaign_id=$1`, campaignID).Scan(&count)
	return count, err
}

func (r *MessageRepository) ClaimForSend(id int) (bool, error) {
	query := `UPDATE messages SET status=$1, updated_at=NOW() WHERE id=$2 AND status=$3`
	res, err := r.DB.Exec(query, model.MessageStatusSent, id, model.MessageStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *MessageRepository) MarkSent(id int, status model.MessageStatus, externalID string) error {
	query := `UPDATE messages SET status=$1, external_id=$2, last_error=NULL, updated_at=NOW() WHERE id=$3`
	_, err := r.DB.Exec(query, status, externalID, id)
	return err
}

func (r *MessageRepository) MarkFailed(id int, lastError string) error {
	query := `UPDATE messages SET status=$1, last_error=$2, updated_at=NOW() WHERE id=$3`
	_, err := r.DB.Exec(query, model.MessageStatusFailed, lastError, id)
	return err
}

// CancelPending moves still-pending messages to cancelled. Messages whose
// send already completed keep their real outcome.
func (r *MessageRepository) CancelPending(campaignID int) (int, error) {
	query := `UPDATE messages SET status=$1, updated_at=NOW() WHERE campaign_id=$2 AND status=$3`
	res, err := r.DB.Exec(query, model.MessageStatusCancelled, campaignID, model.MessageStatusPending)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *MessageRepository) CountByStatus(campaignID int) (map[model.MessageStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM messages WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[model.MessageStatus]int{
		model.MessageStatusPending:   0,
		model.MessageStatusSent:      0,
		model.MessageStatusDelivered: 0,
		model.MessageStatusFailed:    0,
		model.MessageStatusCancelled: 0,
	}
	for rows.Next() {
		var status model.MessageStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// UpdateStatusByExternalID applies a provider delivery receipt.
func (r *MessageRepository) UpdateStatusByExternalID(externalID string, status model.MessageStatus, lastError string) error {
	query := `UPDATE messages SET status=$1, last_error=NULLIF($2, ''), updated_at=NOW() WHERE external_id=$3`
	_, err := r.DB.Exec(query, status, lastError, externalID)
	return err
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
