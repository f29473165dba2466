package main

import (
	"sync"
	"testing"

	"github.com/streadway/amqp"

	"github.com/textpulse/sms-marketing-backend/internal/model"
)

// MockMessageRepo stores messages in memory keyed by external id
type MockMessageRepo struct {
	mu   sync.Mutex
	msgs map[string]*model.Message
}

func (m *MockMessageRepo) UpdateStatusByExternalID(externalID string, status model.MessageStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.msgs[externalID]; ok {
		msg.Status = status
		msg.LastError = lastError
	}
	return nil
}

func (m *MockMessageRepo) CreateBatch(campaignID int, messages []*model.Message) error { return nil }
func (m *MockMessageRepo) ClaimForSend(id int) (bool, error)                           { return false, nil }
func (m *MockMessageRepo) ListPending(campaignID int) ([]*model.Message, error)       { return nil, nil }
func (m *MockMessageRepo) CountByCampaign(campaignID int) (int, error)                { return 0, nil }
func (m *MockMessageRepo) MarkSent(id int, status model.MessageStatus, externalID string) error {
	return nil
}
func (m *MockMessageRepo) MarkFailed(id int, lastError string) error { return nil }
func (m *MockMessageRepo) CancelPending(campaignID int) (int, error) { return 0, nil }
func (m *MockMessageRepo) CountByStatus(campaignID int) (map[model.MessageStatus]int, error) {
	return nil, nil
}

func TestApplyReceipt(t *testing.T) {
	repo := &MockMessageRepo{msgs: map[string]*model.Message{
		"MSG-1": {ID: 1, ExternalID: "MSG-1", Status: model.MessageStatusSent},
		"MSG-2": {ID: 2, ExternalID: "MSG-2", Status: model.MessageStatusSent},
	}}

	if err := applyReceipt(repo, DeliveryReceipt{ExternalID: "MSG-1", Status: "delivered"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.msgs["MSG-1"].Status != model.MessageStatusDelivered {
		t.Errorf("expected delivered, got %s", repo.msgs["MSG-1"].Status)
	}

	if err := applyReceipt(repo, DeliveryReceipt{ExternalID: "MSG-2", Status: "failed", Error: "handset unreachable"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.msgs["MSG-2"].Status != model.MessageStatusFailed {
		t.Errorf("expected failed, got %s", repo.msgs["MSG-2"].Status)
	}
	if repo.msgs["MSG-2"].LastError != "handset unreachable" {
		t.Errorf("expected last error recorded, got %q", repo.msgs["MSG-2"].LastError)
	}
}

func TestRetryCount(t *testing.T) {
	cases := []struct {
		name    string
		headers amqp.Table
		want    int32
	}{
		{"nil headers", nil, 0},
		{"missing header", amqp.Table{}, 0},
		{"int32", amqp.Table{"x-retry-count": int32(2)}, 2},
		{"int64", amqp.Table{"x-retry-count": int64(3)}, 3},
		{"int", amqp.Table{"x-retry-count": 1}, 1},
		{"unexpected type", amqp.Table{"x-retry-count": "2"}, 0},
	}
	for _, tc := range cases {
		if got := retryCount(tc.headers); got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestApplyReceiptIgnoresUnknownStatus(t *testing.T) {
	repo := &MockMessageRepo{msgs: map[string]*model.Message{
		"MSG-1": {ID: 1, ExternalID: "MSG-1", Status: model.MessageStatusSent},
	}}

	if err := applyReceipt(repo, DeliveryReceipt{ExternalID: "MSG-1", Status: "buffered"}); err != nil {
		t.Fatalf("unknown status should be dropped, got %v", err)
	}
	if repo.msgs["MSG-1"].Status != model.MessageStatusSent {
		t.Errorf("status should be untouched, got %s", repo.msgs["MSG-1"].Status)
	}

	if err := applyReceipt(repo, DeliveryReceipt{Status: "delivered"}); err != nil {
		t.Fatalf("receipt without external_id should be dropped, got %v", err)
	}
}
