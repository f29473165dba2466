// internal/model/contact.go
package model

type Contact struct {
	ID             int    `db:"id" json:"id"`
	OrganizationID int    `db:"organization_id" json:"organization_id"`
	Phone          string `db:"phone" json:"phone"`
	FirstName      string `db:"first_name" json:"first_name"`
	LastName       string `db:"last_name" json:"last_name"`
}

type ContactGroup struct {
	ID             int    `db:"id" json:"id"`
	OrganizationID int    `db:"organization_id" json:"organization_id"`
	Name           string `db:"name" json:"name"`
}
