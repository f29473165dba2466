package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	appErrors "github.com/textpulse/sms-marketing-backend/internal/errors"
	"github.com/textpulse/sms-marketing-backend/internal/gateway"
	"github.com/textpulse/sms-marketing-backend/internal/model"
	"github.com/textpulse/sms-marketing-backend/internal/service"
)

// --- In-memory repositories ---

type memCampaignRepo struct {
	mu        sync.Mutex
	nextID    int
	campaigns map[int]*model.Campaign

	failUpdateRecipients bool
}

func newMemCampaignRepo() *memCampaignRepo {
	return &memCampaignRepo{nextID: 1, campaigns: map[int]*model.Campaign{}}
}

func (r *memCampaignRepo) Create(c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = r.nextID
	r.nextID++
	copied := *c
	r.campaigns[c.ID] = &copied
	return nil
}

func (r *memCampaignRepo) GetByID(organizationID, id int) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.OrganizationID != organizationID {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	copied := *c
	return &copied, nil
}

func (r *memCampaignRepo) ListCampaigns(organizationID, offset, limit int, status string) ([]*model.Campaign, int, error) {
	return nil, 0, nil
}

func (r *memCampaignRepo) ListDue(now time.Time) ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	due := []*model.Campaign{}
	for id := 1; id < r.nextID; id++ {
		c, ok := r.campaigns[id]
		if ok && c.Status == model.CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			copied := *c
			due = append(due, &copied)
		}
	}
	return due, nil
}

func (r *memCampaignRepo) TransitionStatus(id int, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (r *memCampaignRepo) UpdateScheduledAt(id int, scheduledAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; ok {
		c.ScheduledAt = &scheduledAt
	}
	return nil
}

func (r *memCampaignRepo) UpdateRecipientCount(id, count int) error {
	if r.failUpdateRecipients {
		return errors.New("storage unavailable")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; ok {
		c.RecipientCount = count
	}
	return nil
}

func (r *memCampaignRepo) MarkSent(id, sentCount, failedCount int, sentAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != model.CampaignStatusSending {
		return false, nil
	}
	c.Status = model.CampaignStatusSent
	c.SentAt = &sentAt
	c.SentCount = sentCount
	c.FailedCount = failedCount
	return true, nil
}

func (r *memCampaignRepo) AttachGroups(campaignID int, groupIDs []int) error { return nil }

func (r *memCampaignRepo) status(id int) model.CampaignStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.campaigns[id].Status
}

type memMessageRepo struct {
	mu       sync.Mutex
	nextID   int
	messages map[int]*model.Message
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{nextID: 1, messages: map[int]*model.Message{}}
}

func (r *memMessageRepo) CreateBatch(campaignID int, messages []*model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range messages {
		m.ID = r.nextID
		r.nextID++
		m.CampaignID = campaignID
		m.Status = model.MessageStatusPending
		copied := *m
		r.messages[m.ID] = &copied
	}
	return nil
}

func (r *memMessageRepo) ListPending(campaignID int) ([]*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := []*model.Message{}
	for id := 1; id < r.nextID; id++ {
		m, ok := r.messages[id]
		if ok && m.CampaignID == campaignID && m.Status == model.MessageStatusPending {
			copied := *m
			pending = append(pending, &copied)
		}
	}
	return pending, nil
}

func (r *memMessageRepo) CountByCampaign(campaignID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, m := range r.messages {
		if m.CampaignID == campaignID {
			count++
		}
	}
	return count, nil
}

func (r *memMessageRepo) ClaimForSend(id int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok || m.Status != model.MessageStatusPending {
		return false, nil
	}
	m.Status = model.MessageStatusSent
	return true, nil
}

func (r *memMessageRepo) MarkSent(id int, status model.MessageStatus, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.messages[id]; ok {
		m.Status = status
		m.ExternalID = externalID
		m.LastError = ""
	}
	return nil
}

func (r *memMessageRepo) MarkFailed(id int, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.messages[id]; ok {
		m.Status = model.MessageStatusFailed
		m.LastError = lastError
	}
	return nil
}

func (r *memMessageRepo) CancelPending(campaignID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancelled := 0
	for _, m := range r.messages {
		if m.CampaignID == campaignID && m.Status == model.MessageStatusPending {
			m.Status = model.MessageStatusCancelled
			cancelled++
		}
	}
	return cancelled, nil
}

func (r *memMessageRepo) CountByStatus(campaignID int) (map[model.MessageStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := map[model.MessageStatus]int{}
	for _, m := range r.messages {
		if m.CampaignID == campaignID {
			stats[m.Status]++
		}
	}
	return stats, nil
}

func (r *memMessageRepo) UpdateStatusByExternalID(externalID string, status model.MessageStatus, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ExternalID == externalID {
			m.Status = status
			m.LastError = lastError
		}
	}
	return nil
}

func (r *memMessageRepo) byStatus(campaignID int, status model.MessageStatus) []*model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Message{}
	for _, m := range r.messages {
		if m.CampaignID == campaignID && m.Status == status {
			copied := *m
			out = append(out, &copied)
		}
	}
	return out
}

func (r *memMessageRepo) seed(m *model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.ID = r.nextID
	r.nextID++
	copied := *m
	r.messages[m.ID] = &copied
}

type memContactRepo struct {
	contacts []model.Contact
}

func (r *memContactRepo) GetByID(organizationID, id int) (*model.Contact, error) {
	for _, c := range r.contacts {
		if c.ID == id && c.OrganizationID == organizationID {
			return &c, nil
		}
	}
	return nil, appErrors.NewContactNotFound(id)
}

func (r *memContactRepo) ListRecipients(organizationID, campaignID int) ([]model.Contact, error) {
	return r.contacts, nil
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditLog
}

func (r *memAuditRepo) Append(entry *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memAuditRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	actions := make([]string, len(r.entries))
	for i, e := range r.entries {
		actions[i] = e.Action
	}
	return actions
}

// --- Fake gateway ---

type fakeGateway struct {
	mu        sync.Mutex
	tokenErr  error
	failPhone map[string]bool
	delay     time.Duration
	sends     []string
}

func (g *fakeGateway) GetAccessToken(ctx context.Context) (string, error) {
	if g.tokenErr != nil {
		return "", g.tokenErr
	}
	return "fake-token", nil
}

func (g *fakeGateway) SendSMS(ctx context.Context, phoneNumber, content string) (*gateway.SendResult, error) {
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.mu.Lock()
	g.sends = append(g.sends, phoneNumber)
	n := len(g.sends)
	g.mu.Unlock()

	if g.failPhone[phoneNumber] {
		return nil, &gateway.GatewayError{StatusCode: 500, Body: "provider rejected message"}
	}
	return &gateway.SendResult{ExternalID: fmt.Sprintf("EXT-%d", n), Status: "sent"}, nil
}

func (g *fakeGateway) GetAccountStatus(ctx context.Context) (*gateway.AccountStatus, error) {
	return &gateway.AccountStatus{Status: gateway.AccountActive}, nil
}

func (g *fakeGateway) sendCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sends)
}

// --- Helpers ---

func contact(org, id int, phone string) model.Contact {
	return model.Contact{ID: id, OrganizationID: org, Phone: phone, FirstName: "Contact", LastName: fmt.Sprintf("%d", id)}
}

func newDispatcher(contacts []model.Contact, gw *fakeGateway) (*service.CampaignDispatcher, *memCampaignRepo, *memMessageRepo, *memAuditRepo) {
	campaignRepo := newMemCampaignRepo()
	messageRepo := newMemMessageRepo()
	auditRepo := &memAuditRepo{}
	d := &service.CampaignDispatcher{
		CampaignRepo: campaignRepo,
		MessageRepo:  messageRepo,
		ContactRepo:  &memContactRepo{contacts: contacts},
		AuditRepo:    auditRepo,
		Gateway:      gw,
	}
	return d, campaignRepo, messageRepo, auditRepo
}

// --- Tests ---

func TestSendCampaignPartialFailure(t *testing.T) {
	contacts := []model.Contact{
		contact(1, 1, "+254700000001"),
		contact(1, 2, "+254700000002"),
		contact(1, 3, "+254700000003"),
		contact(1, 4, "+254700000004"),
		contact(1, 5, "+254700000005"),
	}
	gw := &fakeGateway{failPhone: map[string]bool{
		"+254700000002": true,
		"+254700000004": true,
	}}
	d, campaignRepo, messageRepo, _ := newDispatcher(contacts, gw)

	c := &model.Campaign{OrganizationID: 1, Name: "Promo", Message: "Hi {first_name}", Status: model.CampaignStatusDraft}
	campaignRepo.Create(c)

	report, err := d.SendCampaignNow(context.Background(), 1, 7, c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != model.CampaignStatusSent {
		t.Errorf("expected campaign status sent, got %s", report.Status)
	}
	if report.SentCount != 3 || report.FailedCount != 2 {
		t.Errorf("expected 3 sent / 2 failed, got %d / %d", report.SentCount, report.FailedCount)
	}

	failed := messageRepo.byStatus(c.ID, model.MessageStatusFailed)
	if len(failed) != 2 {
		t.Fatalf("expected 2 failed messages, got %d", len(failed))
	}
	for _, m := range failed {
		if m.LastError == "" {
			t.Errorf("failed message %d has no recorded error", m.ID)
		}
	}
	if got := campaignRepo.status(c.ID); got != model.CampaignStatusSent {
		t.Errorf("expected stored status sent, got %s", got)
	}
}

func TestSendCampaignRejectsIllegalStates(t *testing.T) {
	cases := []struct {
		status model.CampaignStatus
		want   string
	}{
		{model.CampaignStatusSent, "already sent"},
		{model.CampaignStatusSending, "in progress"},
		{model.CampaignStatusFailed, "failure state"},
		{model.CampaignStatusCancelled, "cancelled"},
	}

	for _, tc := range cases {
		d, campaignRepo, _, _ := newDispatcher(nil, &fakeGateway{})
		c := &model.Campaign{OrganizationID: 1, Name: "Promo", Message: "hi", Status: tc.status}
		campaignRepo.Create(c)

		_, err := d.SendCampaignNow(context.Background(), 1, 7, c.ID)
		var invalidState *appErrors.ErrInvalidState
		if !errors.As(err, &invalidState) {
			t.Fatalf("status %s: expected ErrInvalidState, got %v", tc.status, err)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("status %s: expected error containing %q, got %q", tc.status, tc.want, err.Error())
		}
		if got := campaignRepo.status(c.ID); got != tc.status {
			t.Errorf("status %s: campaign mutated to %s", tc.status, got)
		}
	}
}

func TestSendCampaignNotFound(t *testing.T) {
	d, campaignRepo, _, _ := newDispatcher(nil, &fakeGateway{})
	c := &model.Campaign{OrganizationID: 2, Name: "Other org", Message: "hi", Status: model.CampaignStatusDraft}
	campaignRepo.Create(c)

	// Wrong organization must look like a missing campaign.
	_, err := d.SendCampaignNow(context.Background(), 1, 7, c.ID)
	var notFound *appErrors.ErrCampaignNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrCampaignNotFound, got %v", err)
	}
}

func TestSendCampaignConcurrentDispatchesOnce(t *testing.T) {
	contacts := []model.Contact{
		contact(1, 1, "+254700000001"),
		contact(1, 2, "+254700000002"),
		contact(1, 3, "+254700000003"),
	}
	gw := &fakeGateway{delay: 10 * time.Millisecond}
	d, campaignRepo, _, _ := newDispatcher(contacts, gw)

	c := &model.Campaign{OrganizationID: 1, Name: "Promo", Message: "hi", Status: model.CampaignStatusDraft}
	campaignRepo.Create(c)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = d.SendCampaignNow(context.Background(), 1, 7, c.ID)
		}(i)
	}
	wg.Wait()

	var successes, rejections int
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		var invalidState *appErrors.ErrInvalidState
		if errors.As(err, &invalidState) {
			rejections++
		}
	}
	if successes != 1 || rejections != 1 {
		t.Fatalf("expected exactly one dispatch and one rejection, got %d/%d (%v)", successes, rejections, results)
	}
	if gw.sendCount() != 3 {
		t.Errorf("expected 3 sends total (no recipient sent twice), got %d", gw.sendCount())
	}
}

func TestSendCampaignAuthFailureMarksFailed(t *testing.T) {
	contacts := []model.Contact{contact(1, 1, "+254700000001")}
	gw := &fakeGateway{tokenErr: &gateway.GatewayError{StatusCode: 401, Body: "invalid_client"}}
	d, campaignRepo, _, auditRepo := newDispatcher(contacts, gw)

	c := &model.Campaign{OrganizationID: 1, Name: "Promo", Message: "hi", Status: model.CampaignStatusDraft}
	campaignRepo.Create(c)

	_, err := d.SendCampaignNow(context.Background(), 1, 7, c.ID)
	var gwErr *gateway.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if got := campaignRepo.status(c.ID); got != model.CampaignStatusFailed {
		t.Errorf("expected campaign failed after pre-flight rejection, got %s", got)
	}
	if gw.sendCount() != 0 {
		t.Errorf("expected no message attempts, got %d", gw.sendCount())
	}
	found := false
	for _, a := range auditRepo.actions() {
		if a == "campaign_send_failed" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected campaign_send_failed audit entry, got %v", auditRepo.actions())
	}
}

func TestSendCampaignOrchestrationErrorRevertsToDraft(t *testing.T) {
	contacts := []model.Contact{contact(1, 1, "+254700000001")}
	d, campaignRepo, _, auditRepo := newDispatcher(contacts, &fakeGateway{})
	campaignRepo.failUpdateRecipients = true

	c := &model.Campaign{OrganizationID: 1, Name: "Promo", Message: "hi", Status: model.CampaignStatusScheduled}
	campaignRepo.Create(c)

	_, err := d.SendCampaignNow(context.Background(), 1, 7, c.ID)
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := campaignRepo.status(c.ID); got != model.CampaignStatusDraft {
		t.Errorf("expected campaign reverted to draft, got %s", got)
	}
	found := false
	for _, a := range auditRepo.actions() {
		if a == "campaign_send_reverted" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected campaign_send_reverted audit entry, got %v", auditRepo.actions())
	}
}

func TestCancelCampaignIdempotence(t *testing.T) {
	d, campaignRepo, messageRepo, _ := newDispatcher(nil, &fakeGateway{})

	c := &model.Campaign{OrganizationID: 1, Name: "Promo", Message: "hi", Status: model.CampaignStatusScheduled}
	campaignRepo.Create(c)
	messageRepo.seed(&model.Message{CampaignID: c.ID, ContactID: 1, PhoneNumber: "+1", Content: "hi", Status: model.MessageStatusPending})

	cancelled, err := d.CancelCampaign(context.Background(), 1, 7, c.ID)
	if err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	if cancelled.Status != model.CampaignStatusCancelled {
		t.Errorf("expected cancelled status, got %s", cancelled.Status)
	}

	_, err = d.CancelCampaign(context.Background(), 1, 7, c.ID)
	var invalidState *appErrors.ErrInvalidState
	if !errors.As(err, &invalidState) {
		t.Fatalf("second cancel: expected ErrInvalidState, got %v", err)
	}
	if n := len(messageRepo.byStatus(c.ID, model.MessageStatusCancelled)); n != 1 {
		t.Errorf("expected exactly 1 cancelled message, got %d", n)
	}
}

func TestCancelSendingCampaignKeepsCompletedOutcomes(t *testing.T) {
	d, campaignRepo, messageRepo, auditRepo := newDispatcher(nil, &fakeGateway{})

	c := &model.Campaign{OrganizationID: 1, Name: "Promo", Message: "hi", Status: model.CampaignStatusSending}
	campaignRepo.Create(c)
	messageRepo.seed(&model.Message{CampaignID: c.ID, ContactID: 1, PhoneNumber: "+1", Content: "hi", Status: model.MessageStatusPending})
	messageRepo.seed(&model.Message{CampaignID: c.ID, ContactID: 2, PhoneNumber: "+2", Content: "hi", Status: model.MessageStatusPending})
	messageRepo.seed(&model.Message{CampaignID: c.ID, ContactID: 3, PhoneNumber: "+3", Content: "hi", Status: model.MessageStatusSent, ExternalID: "EXT-1"})

	cancelled, err := d.CancelCampaign(context.Background(), 1, 7, c.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != model.CampaignStatusCancelled {
		t.Errorf("expected cancelled status, got %s", cancelled.Status)
	}
	if n := len(messageRepo.byStatus(c.ID, model.MessageStatusCancelled)); n != 2 {
		t.Errorf("expected 2 cancelled messages, got %d", n)
	}
	if n := len(messageRepo.byStatus(c.ID, model.MessageStatusSent)); n != 1 {
		t.Errorf("expected the completed send to keep its outcome, got %d sent", n)
	}
	found := false
	for _, e := range auditRepo.entries {
		if e.Action == "campaign_cancelled" {
			found = true
			if e.Metadata["previous_status"] != string(model.CampaignStatusSending) {
				t.Errorf("audit entry missing prior status: %v", e.Metadata)
			}
		}
	}
	if !found {
		t.Error("expected campaign_cancelled audit entry")
	}
}

func TestCancelDuringDispatchLeavesCancelledTerminal(t *testing.T) {
	contacts := []model.Contact{
		contact(1, 1, "+254700000001"),
		contact(1, 2, "+254700000002"),
		contact(1, 3, "+254700000003"),
	}
	gw := &fakeGateway{delay: 100 * time.Millisecond}
	d, campaignRepo, messageRepo, _ := newDispatcher(contacts, gw)

	c := &model.Campaign{OrganizationID: 1, Name: "Slow", Message: "hi", Status: model.CampaignStatusDraft}
	campaignRepo.Create(c)

	var report *service.SendReport
	done := make(chan error, 1)
	go func() {
		var err error
		report, err = d.SendCampaignNow(context.Background(), 1, 7, c.ID)
		done <- err
	}()

	// Wait for the first message to be claimed (its gateway call is then
	// in flight), then cancel while the rest are still pending.
	deadline := time.Now().Add(time.Second)
	for len(messageRepo.byStatus(c.ID, model.MessageStatusSent)) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if _, err := d.CancelCampaign(context.Background(), 1, 7, c.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("dispatch errored: %v", err)
	}

	if got := campaignRepo.status(c.ID); got != model.CampaignStatusCancelled {
		t.Fatalf("cancelled must stay terminal, got %s", got)
	}
	if report.Status != model.CampaignStatusCancelled {
		t.Errorf("expected report to carry cancelled, got %s", report.Status)
	}
	if n := gw.sendCount(); n != 1 {
		t.Errorf("only the in-flight message may reach the gateway, got %d sends", n)
	}
	if n := len(messageRepo.byStatus(c.ID, model.MessageStatusCancelled)); n != 2 {
		t.Errorf("expected 2 messages to stay cancelled, got %d", n)
	}
	if n := len(messageRepo.byStatus(c.ID, model.MessageStatusSent)); n != 1 {
		t.Errorf("expected 1 sent message, got %d", n)
	}
}

func TestRescheduleCampaign(t *testing.T) {
	d, campaignRepo, _, _ := newDispatcher(nil, &fakeGateway{})

	at := time.Now().Add(time.Hour)
	c := &model.Campaign{OrganizationID: 1, Name: "Promo", Message: "hi", Status: model.CampaignStatusScheduled, ScheduledAt: &at}
	campaignRepo.Create(c)

	// Past date is a validation error, not a state error.
	_, err := d.RescheduleCampaign(context.Background(), 1, c.ID, time.Now().Add(-time.Minute))
	var validation *appErrors.ErrValidation
	if !errors.As(err, &validation) {
		t.Fatalf("expected ErrValidation for past date, got %v", err)
	}

	newAt := time.Now().Add(2 * time.Hour)
	updated, err := d.RescheduleCampaign(context.Background(), 1, c.ID, newAt)
	if err != nil {
		t.Fatalf("reschedule failed: %v", err)
	}
	if updated.Status != model.CampaignStatusScheduled {
		t.Errorf("expected status to stay scheduled, got %s", updated.Status)
	}
	if updated.ScheduledAt == nil || !updated.ScheduledAt.Equal(newAt) {
		t.Errorf("expected scheduled_at %v, got %v", newAt, updated.ScheduledAt)
	}

	draft := &model.Campaign{OrganizationID: 1, Name: "Draft", Message: "hi", Status: model.CampaignStatusDraft}
	campaignRepo.Create(draft)
	_, err = d.RescheduleCampaign(context.Background(), 1, draft.ID, newAt)
	var invalidState *appErrors.ErrInvalidState
	if !errors.As(err, &invalidState) {
		t.Fatalf("expected ErrInvalidState for non-scheduled campaign, got %v", err)
	}
}
