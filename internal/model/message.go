// internal/model/message.go
package model

import "time"

// MessageStatus represents valid per-recipient message statuses
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusCancelled MessageStatus = "cancelled"
)

// Message is one per-recipient unit of a campaign dispatch. PhoneNumber
// and Content are snapshots taken at creation time, so later contact or
// template edits never rewrite send history.
type Message struct {
	ID          int           `db:"id" json:"id"`
	CampaignID  int           `db:"campaign_id" json:"campaign_id"`
	ContactID   int           `db:"contact_id" json:"contact_id"`
	PhoneNumber string        `db:"phone_number" json:"phone_number"`
	Content     string        `db:"content" json:"content"`
	Status      MessageStatus `db:"status" json:"status"`
	ExternalID  string        `db:"external_id" json:"external_id,omitempty"`
	LastError   string        `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}
