// internal/model/campaign.go
package model

import "time"

// CampaignStatus represents valid campaign statuses
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusSent      CampaignStatus = "sent"
	CampaignStatusFailed    CampaignStatus = "failed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

type Campaign struct {
	ID             int            `db:"id" json:"id"`
	OrganizationID int            `db:"organization_id" json:"organization_id"`
	Name           string         `db:"name" json:"name"`
	Message        string         `db:"message" json:"message"`
	Status         CampaignStatus `db:"status" json:"status"`
	ScheduledAt    *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	SentAt         *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
	RecipientCount int            `db:"recipient_count" json:"recipient_count"`
	SentCount      int            `db:"sent_count" json:"sent_count"`
	FailedCount    int            `db:"failed_count" json:"failed_count"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// IsTerminal reports whether the campaign can never be dispatched again.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusSent || s == CampaignStatusCancelled
}
