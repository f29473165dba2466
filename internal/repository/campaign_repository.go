package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/textpulse/sms-marketing-backend/internal/errors"
	"github.com/textpulse/sms-marketing-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	GetByID(organizationID, id int) (*model.Campaign, error)
	ListCampaigns(organizationID, offset, limit int, status string) ([]*model.Campaign, int, error)
	ListDue(now time.Time) ([]*model.Campaign, error)

	// TransitionStatus performs a compare-and-swap: the status only moves
	// to `to` if the current status is one of `from`. Returns false when
	// no row matched, which is how concurrent dispatchers lose the race.
	TransitionStatus(id int, from []model.CampaignStatus, to model.CampaignStatus) (bool, error)
	UpdateScheduledAt(id int, scheduledAt time.Time) error
	UpdateRecipientCount(id, count int) error

	// MarkSent finalizes a dispatch. False means the campaign left
	// `sending` underneath the loop (cancelled mid-dispatch), and the
	// terminal status must stand.
	MarkSent(id, sentCount, failedCount int, sentAt time.Time) (bool, error)
	AttachGroups(campaignID int, groupIDs []int) error
}

type CampaignRepository struct {
	DB *sql.DB
}

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	query := `
        INSERT INTO campaigns (organization_id, name, message, status, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id
    `
	return r.DB.QueryRow(query, c.OrganizationID, c.Name, c.Message, c.Status, c.ScheduledAt, c.CreatedAt).Scan(&c.ID)
}

// GetByID is always organization-scoped for tenant isolation.
func (r *CampaignRepository) GetByID(organizationID, id int) (*model.Campaign, error) {
	query := `
        SELECT id, organization_id, name, message, status, scheduled_at, sent_at,
               recipient_count, sent_count, failed_count, created_at, updated_at
        FROM campaigns WHERE id=$1 AND organization_id=$2
    `
	var c model.Campaign
	err := r.DB.QueryRow(query, id, organizationID).Scan(
		&c.ID, &c.OrganizationID, &c.Name, &c.Message, &c.Status,
		&c.ScheduledAt, &c.SentAt, &c.RecipientCount, &c.SentCount,
		&c.FailedCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) ListCampaigns(organizationID, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `
        SELECT id, organization_id, name, message, status, scheduled_at, sent_at,
               recipient_count, sent_count, failed_count, created_at, updated_at
        FROM campaigns WHERE organization_id=$1
    `
	args := []interface{}{organizationID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c := &model.Campaign{}
		if err := rows.Scan(
			&c.ID, &c.OrganizationID, &c.Name, &c.Message, &c.Status,
			&c.ScheduledAt, &c.SentAt, &c.RecipientCount, &c.SentCount,
			&c.FailedCount, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE organization_id=$1`
	countArgs := []interface{}{organizationID}
	if status != "" {
		countQuery += ` AND status=$2`
		countArgs = append(countArgs, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// ListDue returns scheduled campaigns whose scheduled_at has passed.
func (r *CampaignRepository) ListDue(now time.Time) ([]*model.Campaign, error) {
	query := `
        SELECT id, organization_id, name, message, status, scheduled_at, sent_at,
               recipient_count, sent_count, failed_count, created_at, updated_at
        FROM campaigns
        WHERE status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
        ORDER BY scheduled_at
    `
	rows, err := r.DB.Query(query, model.CampaignStatusScheduled, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	due := []*model.Campaign{}
	for rows.Next() {
		c := &model.Campaign{}
		if err := rows.Scan(
			&c.ID, &c.OrganizationID, &c.Name, &c.Message, &c.Status,
			&c.ScheduledAt, &c.SentAt, &c.RecipientCount, &c.SentCount,
			&c.FailedCount, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		due = append(due, c)
	}
	return due, rows.Err()
}

func (r *CampaignRepository) TransitionStatus(id int, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	query := `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2 AND status = ANY($3)`
	res, err := r.DB.Exec(query, to, id, pq.Array(fromStrs))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignRepository) UpdateScheduledAt(id int, scheduledAt time.Time) error {
	query := `UPDATE campaigns SET scheduled_at=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, scheduledAt, id)
	return err
}

func (r *CampaignRepository) UpdateRecipientCount(id, count int) error {
	query := `UPDATE campaigns SET recipient_count=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, count, id)
	return err
}

func (r *CampaignRepository) MarkSent(id, sentCount, failedCount int, sentAt time.Time) (bool, error) {
	query := `
        UPDATE campaigns
        SET status=$1, sent_at=$2, sent_count=$3, failed_count=$4, updated_at=NOW()
        WHERE id=$5 AND status=$6
    `
	res, err := r.DB.Exec(query, model.CampaignStatusSent, sentAt, sentCount, failedCount, id, model.CampaignStatusSending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AttachGroups links target contact groups to a campaign.
func (r *CampaignRepository) AttachGroups(campaignID int, groupIDs []int) error {
	query := `
        INSERT INTO campaign_groups (campaign_id, group_id)
        SELECT $1, g FROM unnest($2::int[]) AS g
        ON CONFLICT DO NOTHING
    `
	_, err := r.DB.Exec(query, campaignID, pq.Array(groupIDs))
	return err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
