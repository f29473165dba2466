package queue

import (
	"log"
	"sync"
	"time"
)

// Topics for campaign lifecycle events
const (
	TopicCampaignSent      = "campaign.sent"
	TopicCampaignCancelled = "campaign.cancelled"
	TopicCampaignFailed    = "campaign.failed"
)

// Event is the payload published on campaign lifecycle transitions.
// Consumers (analytics, webhooks, the receipt worker) get it as JSON.
type Event struct {
	Type           string         `json:"type"`
	CampaignID     int            `json:"campaign_id"`
	OrganizationID int            `json:"organization_id"`
	Payload        map[string]any `json:"payload,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// Publisher interface
type Publisher interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// InMemoryQueue is an in-process publisher used in tests and when no
// broker is configured.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]func(payload any) error),
	}
}

// Publish sends an event to all subscribers. Lifecycle events are
// fire-and-forget, so a topic without subscribers is not an error.
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	for _, handler := range handlers {
		go func(h func(payload any) error) {
			if err := h(payload); err != nil {
				log.Printf("⚠️ event handler failed for topic %s: %v\n", topic, err)
			}
		}(handler)
	}
	return nil
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

var _ Publisher = (*InMemoryQueue)(nil)
