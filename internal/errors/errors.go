// internal/errors/errors.go
package appErrors

import "fmt"

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrContactNotFound is a sentinel error
type ErrContactNotFound struct {
	ContactID int
}

func (e *ErrContactNotFound) Error() string {
	return fmt.Sprintf("contact with ID %d not found", e.ContactID)
}

func NewContactNotFound(id int) error {
	return &ErrContactNotFound{ContactID: id}
}

// ErrInvalidState signals an operation attempted from an illegal
// campaign status (send an already-sent campaign, cancel twice, ...).
type ErrInvalidState struct {
	CampaignID int
	Status     string
	Reason     string
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("campaign %d in status %q: %s", e.CampaignID, e.Status, e.Reason)
}

func NewInvalidState(id int, status, reason string) error {
	return &ErrInvalidState{CampaignID: id, Status: status, Reason: reason}
}

// ErrValidation signals malformed caller input.
type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ErrValidation{Field: field, Reason: reason}
}
