package repository

import (
	"database/sql"

	appErrors "github.com/textpulse/sms-marketing-backend/internal/errors"
	"github.com/textpulse/sms-marketing-backend/internal/model"
)

// ContactRepositoryInterface defines methods used by the dispatcher
type ContactRepositoryInterface interface {
	GetByID(organizationID, id int) (*model.Contact, error)
	ListRecipients(organizationID, campaignID int) ([]model.Contact, error)
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *sql.DB
}

// GetByID fetches a contact by ID within the organization
func (r *ContactRepository) GetByID(organizationID, id int) (*model.Contact, error) {
	query := `
        SELECT id, organization_id, phone, first_name, last_name
        FROM contacts
        WHERE id = $1 AND organization_id = $2
    `
	row := r.DB.QueryRow(query, id, organizationID)

	var c model.Contact
	if err := row.Scan(&c.ID, &c.OrganizationID, &c.Phone, &c.FirstName, &c.LastName); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewContactNotFound(id)
		}
		return nil, err
	}
	return &c, nil
}

// ListRecipients expands a campaign's target groups into the distinct
// contacts that will each receive one message.
func (r *ContactRepository) ListRecipients(organizationID, campaignID int) ([]model.Contact, error) {
	query := `
        SELECT DISTINCT c.id, c.organization_id, c.phone, c.first_name, c.last_name
        FROM contacts c
        JOIN contact_group_members m ON m.contact_id = c.id
        JOIN campaign_groups cg ON cg.group_id = m.group_id
        WHERE cg.campaign_id = $1 AND c.organization_id = $2 AND c.phone <> ''
        ORDER BY c.id
    `
	rows, err := r.DB.Query(query, campaignID, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Phone, &c.FirstName, &c.LastName); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
