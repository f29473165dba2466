// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/textpulse/sms-marketing-backend/internal/auth"
	appErrors "github.com/textpulse/sms-marketing-backend/internal/errors"
	"github.com/textpulse/sms-marketing-backend/internal/gateway"
	"github.com/textpulse/sms-marketing-backend/internal/model"
	"github.com/textpulse/sms-marketing-backend/internal/repository"
	"github.com/textpulse/sms-marketing-backend/internal/service"
)

type CampaignController struct {
	Dispatcher   *service.CampaignDispatcher
	CampaignRepo repository.CampaignRepositoryInterface
	MessageRepo  repository.MessageRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	Gateway      gateway.Sender
}

// SendCampaign handles POST /campaigns/{id}/send
func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	campaignID, err := campaignIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	report, err := c.Dispatcher.SendCampaignNow(r.Context(), identity.OrganizationID, identity.UserID, campaignID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, report)
}

// CancelCampaign handles POST /campaigns/{id}/cancel
func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	campaignID, err := campaignIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	campaign, err := c.Dispatcher.CancelCampaign(r.Context(), identity.OrganizationID, identity.UserID, campaignID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, campaign)
}

// RescheduleCampaign handles PATCH /campaigns/{id}/schedule
func (c *CampaignController) RescheduleCampaign(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	campaignID, err := campaignIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	var body struct {
		ScheduledAt string `json:"scheduled_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	scheduledAt, err := time.Parse(time.RFC3339, body.ScheduledAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "scheduled_at must be RFC3339")
		return
	}

	campaign, err := c.Dispatcher.RescheduleCampaign(r.Context(), identity.OrganizationID, campaignID, scheduledAt)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, campaign)
}

// CreateCampaign handles POST /campaigns
func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body struct {
		Name        string  `json:"name"`
		Message     string  `json:"message"`
		ScheduledAt *string `json:"scheduled_at"`
		GroupIDs    []int   `json:"group_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.Name == "" || body.Message == "" {
		writeError(w, http.StatusBadRequest, "name and message are required")
		return
	}

	campaign := &model.Campaign{
		OrganizationID: identity.OrganizationID,
		Name:           body.Name,
		Message:        body.Message,
		Status:         model.CampaignStatusDraft,
	}
	if body.ScheduledAt != nil {
		t, err := time.Parse(time.RFC3339, *body.ScheduledAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "scheduled_at must be RFC3339")
			return
		}
		if !t.After(time.Now()) {
			writeError(w, http.StatusBadRequest, "scheduled_at must be in the future")
			return
		}
		campaign.ScheduledAt = &t
		campaign.Status = model.CampaignStatusScheduled
	}

	if err := c.CampaignRepo.Create(campaign); err != nil {
		respondError(w, err)
		return
	}
	if len(body.GroupIDs) > 0 {
		if err := c.CampaignRepo.AttachGroups(campaign.ID, body.GroupIDs); err != nil {
			respondError(w, err)
			return
		}
	}

	writeData(w, campaign)
}

// GetCampaign handles GET /campaigns/{id}, returning the campaign plus
// its message status counts
func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	campaignID, err := campaignIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	campaign, err := c.CampaignRepo.GetByID(identity.OrganizationID, campaignID)
	if err != nil {
		respondError(w, err)
		return
	}

	stats, err := c.MessageRepo.CountByStatus(campaignID)
	if err != nil {
		respondError(w, err)
		return
	}

	writeData(w, map[string]interface{}{
		"campaign": campaign,
		"stats":    stats,
	})
}

// ListCampaigns handles GET /campaigns
func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	status := r.URL.Query().Get("status")

	campaigns, total, err := c.CampaignRepo.ListCampaigns(identity.OrganizationID, (page-1)*pageSize, pageSize, status)
	if err != nil {
		respondError(w, err)
		return
	}

	totalPages := (total + pageSize - 1) / pageSize
	writeData(w, map[string]interface{}{
		"campaigns": campaigns,
		"pagination": map[string]int{
			"page":        page,
			"page_size":   pageSize,
			"total_count": total,
			"total_pages": totalPages,
		},
	})
}

// GetContact handles GET /contacts/{id}
func (c *CampaignController) GetContact(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	contactID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return
	}

	contact, err := c.ContactRepo.GetByID(identity.OrganizationID, contactID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, contact)
}

// GatewayStatus handles GET /gateway/status, the operator-facing
// provider health probe
func (c *CampaignController) GatewayStatus(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	status, err := c.Gateway.GetAccountStatus(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, status)
}

func campaignIDParam(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "id"))
}

func writeData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// respondError maps domain errors onto HTTP statuses
func respondError(w http.ResponseWriter, err error) {
	var notFound *appErrors.ErrCampaignNotFound
	var contactNotFound *appErrors.ErrContactNotFound
	var invalidState *appErrors.ErrInvalidState
	var validation *appErrors.ErrValidation
	var gatewayErr *gateway.GatewayError

	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &contactNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &invalidState):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &gatewayErr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
