// internal/service/dispatcher.go
package service

import (
	"context"
	"fmt"
	"log"
	"time"

	appErrors "github.com/textpulse/sms-marketing-backend/internal/errors"
	"github.com/textpulse/sms-marketing-backend/internal/gateway"
	"github.com/textpulse/sms-marketing-backend/internal/model"
	"github.com/textpulse/sms-marketing-backend/internal/queue"
	"github.com/textpulse/sms-marketing-backend/internal/repository"
)

// CampaignDispatcher drives a campaign through its send lifecycle:
// eligibility check, recipient fan-out, the per-message send loop and
// the final counter reconciliation.
type CampaignDispatcher struct {
	CampaignRepo repository.CampaignRepositoryInterface
	MessageRepo  repository.MessageRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	AuditRepo    repository.AuditLogRepositoryInterface
	Gateway      gateway.Sender
	Events       queue.Publisher
}

// SendReport summarizes one dispatch
type SendReport struct {
	CampaignID  int                  `json:"campaign_id"`
	Status      model.CampaignStatus `json:"status"`
	SentCount   int                  `json:"sent_count"`
	FailedCount int                  `json:"failed_count"`
}

// SendCampaignNow dispatches a campaign immediately. Only draft and
// scheduled campaigns are eligible; the status transition to `sending`
// is a compare-and-swap, so two concurrent calls for the same campaign
// resolve to exactly one dispatch.
func (d *CampaignDispatcher) SendCampaignNow(ctx context.Context, organizationID, userID, campaignID int) (*SendReport, error) {
	campaign, err := d.CampaignRepo.GetByID(organizationID, campaignID)
	if err != nil {
		return nil, err
	}

	switch campaign.Status {
	case model.CampaignStatusSent:
		return nil, appErrors.NewInvalidState(campaignID, string(campaign.Status), "campaign already sent")
	case model.CampaignStatusSending:
		return nil, appErrors.NewInvalidState(campaignID, string(campaign.Status), "send already in progress")
	case model.CampaignStatusFailed:
		return nil, appErrors.NewInvalidState(campaignID, string(campaign.Status), "campaign is in failure state")
	case model.CampaignStatusCancelled:
		return nil, appErrors.NewInvalidState(campaignID, string(campaign.Status), "campaign is cancelled")
	}

	ok, err := d.CampaignRepo.TransitionStatus(
		campaignID,
		[]model.CampaignStatus{model.CampaignStatusDraft, model.CampaignStatusScheduled},
		model.CampaignStatusSending,
	)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race against a concurrent dispatch of the same campaign.
		return nil, appErrors.NewInvalidState(campaignID, string(model.CampaignStatusSending), "send already in progress")
	}

	// Pre-flight credential exchange. A rejection here means the dispatch
	// could not start at all: the one path to a campaign-level `failed`.
	// The transition is conditional on still holding `sending`, so a
	// cancel that lands first keeps its terminal status.
	if _, err := d.Gateway.GetAccessToken(ctx); err != nil {
		if _, uerr := d.CampaignRepo.TransitionStatus(campaignID, []model.CampaignStatus{model.CampaignStatusSending}, model.CampaignStatusFailed); uerr != nil {
			log.Println("⚠️ failed to mark campaign failed:", uerr)
		}
		d.writeAudit(campaign, userID, "campaign_send_failed", map[string]any{"error": err.Error()})
		d.publish(queue.TopicCampaignFailed, campaign, map[string]any{"error": err.Error()})
		return nil, err
	}

	report, err := d.runSendLoop(ctx, campaign)
	if err != nil {
		// Orchestration failure: roll back to draft so the send can be
		// retried, then surface the error. Conditional for the same
		// reason as above.
		if _, uerr := d.CampaignRepo.TransitionStatus(campaignID, []model.CampaignStatus{model.CampaignStatusSending}, model.CampaignStatusDraft); uerr != nil {
			log.Println("⚠️ failed to revert campaign to draft:", uerr)
		}
		d.writeAudit(campaign, userID, "campaign_send_reverted", map[string]any{"error": err.Error()})
		return nil, err
	}

	// A cancel that won the race mid-loop already wrote its own audit
	// entry and event; only a completed dispatch reports `sent`.
	if report.Status == model.CampaignStatusSent {
		d.writeAudit(campaign, userID, "campaign_sent", map[string]any{
			"sent_count":   report.SentCount,
			"failed_count": report.FailedCount,
		})
		d.publish(queue.TopicCampaignSent, campaign, map[string]any{
			"sent_count":   report.SentCount,
			"failed_count": report.FailedCount,
		})
	}
	return report, nil
}

// runSendLoop materializes the recipient set if needed, sends each
// pending message and reconciles the campaign counters. Per-message
// gateway failures are recorded and the loop continues; only storage
// errors abort.
func (d *CampaignDispatcher) runSendLoop(ctx context.Context, campaign *model.Campaign) (*SendReport, error) {
	existing, err := d.MessageRepo.CountByCampaign(campaign.ID)
	if err != nil {
		return nil, err
	}
	if existing == 0 {
		if err := d.expandRecipients(campaign); err != nil {
			return nil, err
		}
	}

	pending, err := d.MessageRepo.ListPending(campaign.ID)
	if err != nil {
		return nil, err
	}

	for _, msg := range pending {
		// Claim the row before touching the gateway. The pending list is
		// a snapshot; a cancel may have taken some of these rows since.
		claimed, err := d.MessageRepo.ClaimForSend(msg.ID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			continue
		}

		result, err := d.Gateway.SendSMS(ctx, msg.PhoneNumber, msg.Content)
		if err != nil {
			log.Printf("⚠️ send failed for message %d (campaign %d): %v\n", msg.ID, campaign.ID, err)
			if uerr := d.MessageRepo.MarkFailed(msg.ID, err.Error()); uerr != nil {
				return nil, uerr
			}
			continue
		}

		status := model.MessageStatusSent
		if result.Status == string(model.MessageStatusDelivered) {
			status = model.MessageStatusDelivered
		}
		if uerr := d.MessageRepo.MarkSent(msg.ID, status, result.ExternalID); uerr != nil {
			return nil, uerr
		}
	}

	counts, err := d.MessageRepo.CountByStatus(campaign.ID)
	if err != nil {
		return nil, err
	}
	sentCount := counts[model.MessageStatusSent] + counts[model.MessageStatusDelivered]
	failedCount := counts[model.MessageStatusFailed]

	// Per-message failures stay at message granularity: the campaign
	// still terminates in `sent`. The finalizer only fires if the
	// campaign is still `sending`; a mid-loop cancel is terminal.
	ok, err := d.CampaignRepo.MarkSent(campaign.ID, sentCount, failedCount, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Printf("campaign %d was cancelled mid-dispatch: %d sent, %d failed\n", campaign.ID, sentCount, failedCount)
		return &SendReport{
			CampaignID:  campaign.ID,
			Status:      model.CampaignStatusCancelled,
			SentCount:   sentCount,
			FailedCount: failedCount,
		}, nil
	}

	log.Printf("✅ campaign %d dispatched: %d sent, %d failed\n", campaign.ID, sentCount, failedCount)
	return &SendReport{
		CampaignID:  campaign.ID,
		Status:      model.CampaignStatusSent,
		SentCount:   sentCount,
		FailedCount: failedCount,
	}, nil
}

// expandRecipients snapshots every target contact into a pending message
// row. Phone and rendered content are frozen here.
func (d *CampaignDispatcher) expandRecipients(campaign *model.Campaign) error {
	contacts, err := d.ContactRepo.ListRecipients(campaign.OrganizationID, campaign.ID)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		return fmt.Errorf("campaign %d has no recipients", campaign.ID)
	}

	messages := make([]*model.Message, 0, len(contacts))
	for _, c := range contacts {
		messages = append(messages, &model.Message{
			ContactID:   c.ID,
			PhoneNumber: c.Phone,
			Content:     RenderForContact(campaign.Message, c),
		})
	}
	if err := d.MessageRepo.CreateBatch(campaign.ID, messages); err != nil {
		return err
	}
	return d.CampaignRepo.UpdateRecipientCount(campaign.ID, len(messages))
}

// CancelCampaign moves a campaign to cancelled. Pending messages are
// cancelled with it; sends that already completed keep their outcome.
func (d *CampaignDispatcher) CancelCampaign(ctx context.Context, organizationID, userID, campaignID int) (*model.Campaign, error) {
	campaign, err := d.CampaignRepo.GetByID(organizationID, campaignID)
	if err != nil {
		return nil, err
	}

	switch campaign.Status {
	case model.CampaignStatusSent:
		return nil, appErrors.NewInvalidState(campaignID, string(campaign.Status), "campaign already sent")
	case model.CampaignStatusCancelled:
		return nil, appErrors.NewInvalidState(campaignID, string(campaign.Status), "campaign already cancelled")
	}

	ok, err := d.CampaignRepo.TransitionStatus(
		campaignID,
		[]model.CampaignStatus{
			model.CampaignStatusDraft,
			model.CampaignStatusScheduled,
			model.CampaignStatusSending,
			model.CampaignStatusFailed,
		},
		model.CampaignStatusCancelled,
	)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.NewInvalidState(campaignID, string(campaign.Status), "campaign already sent or cancelled")
	}

	cancelled, err := d.MessageRepo.CancelPending(campaignID)
	if err != nil {
		return nil, err
	}

	d.writeAudit(campaign, userID, "campaign_cancelled", map[string]any{
		"previous_status":    string(campaign.Status),
		"cancelled_messages": cancelled,
	})
	d.publish(queue.TopicCampaignCancelled, campaign, map[string]any{
		"previous_status":    string(campaign.Status),
		"cancelled_messages": cancelled,
	})

	campaign.Status = model.CampaignStatusCancelled
	return campaign, nil
}

// RescheduleCampaign moves a scheduled campaign's send time. Only the
// scheduled_at field changes; message state is untouched.
func (d *CampaignDispatcher) RescheduleCampaign(ctx context.Context, organizationID, campaignID int, scheduledAt time.Time) (*model.Campaign, error) {
	campaign, err := d.CampaignRepo.GetByID(organizationID, campaignID)
	if err != nil {
		return nil, err
	}

	if campaign.Status != model.CampaignStatusScheduled {
		return nil, appErrors.NewInvalidState(campaignID, string(campaign.Status), "campaign is not scheduled")
	}
	if !scheduledAt.After(time.Now()) {
		return nil, appErrors.NewValidation("scheduled_at", "must be in the future")
	}

	if err := d.CampaignRepo.UpdateScheduledAt(campaignID, scheduledAt); err != nil {
		return nil, err
	}
	campaign.ScheduledAt = &scheduledAt
	return campaign, nil
}

// Audit writes are best-effort: losing one must never fail the dispatch
// it describes.
func (d *CampaignDispatcher) writeAudit(campaign *model.Campaign, userID int, action string, metadata map[string]any) {
	if d.AuditRepo == nil {
		return
	}
	entry := &model.AuditLog{
		Action:         action,
		Resource:       "campaign",
		ResourceID:     campaign.ID,
		UserID:         userID,
		OrganizationID: campaign.OrganizationID,
		Metadata:       metadata,
	}
	if err := d.AuditRepo.Append(entry); err != nil {
		log.Println("⚠️ failed to write audit log:", err)
	}
}

func (d *CampaignDispatcher) publish(topic string, campaign *model.Campaign, payload map[string]any) {
	if d.Events == nil {
		return
	}
	event := queue.Event{
		Type:           topic,
		CampaignID:     campaign.ID,
		OrganizationID: campaign.OrganizationID,
		Payload:        payload,
		OccurredAt:     time.Now(),
	}
	if err := d.Events.Publish(topic, event); err != nil {
		log.Println("⚠️ failed to publish event", topic, ":", err)
	}
}
