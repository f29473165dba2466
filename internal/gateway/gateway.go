package gateway

import (
	"context"
	"fmt"

	"github.com/textpulse/sms-marketing-backend/internal/config"
)

// Sender abstracts the external SMS provider. The dispatcher never knows
// whether the real HTTP gateway or the simulated one is behind it.
type Sender interface {
	GetAccessToken(ctx context.Context) (string, error)
	SendSMS(ctx context.Context, phoneNumber, content string) (*SendResult, error)
	GetAccountStatus(ctx context.Context) (*AccountStatus, error)
}

// SendResult holds the provider's response for a single message
type SendResult struct {
	ExternalID string
	Status     string
}

// Account status values reported by GetAccountStatus
const (
	AccountActive    = "active"
	AccountExpired   = "expired"
	AccountNoCredits = "no_credits"
	AccountError     = "error"
	AccountUnknown   = "unknown"
)

// AccountStatus holds the operator-facing provider account state
type AccountStatus struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// GatewayError is a non-2xx provider response. The dispatcher records it
// on the affected message; it only aborts a dispatch when it happens
// before any message was attempted.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway request failed with status %d: %s", e.StatusCode, e.Body)
}

// FromConfig picks the gateway implementation. Simulation is used when
// explicitly configured or when no real credentials are present.
func FromConfig(cfg config.GatewayConfig) Sender {
	if cfg.Simulate || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return NewSimulatedGateway(0)
	}
	return NewHTTPGateway(cfg)
}
