package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SimulatedGateway stands in for the provider when credentials are
// missing or known to be expired. Deterministic success after a small
// artificial delay, same interface as the real thing.
type SimulatedGateway struct {
	Delay time.Duration
}

func NewSimulatedGateway(delay time.Duration) *SimulatedGateway {
	if delay == 0 {
		delay = 50 * time.Millisecond
	}
	return &SimulatedGateway{Delay: delay}
}

func (g *SimulatedGateway) GetAccessToken(ctx context.Context) (string, error) {
	return "simulated-access-token", nil
}

func (g *SimulatedGateway) SendSMS(ctx context.Context, phoneNumber, content string) (*SendResult, error) {
	select {
	case <-time.After(g.Delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &SendResult{
		ExternalID: fmt.Sprintf("SIM-%s", uuid.NewString()),
		Status:     "sent",
	}, nil
}

func (g *SimulatedGateway) GetAccountStatus(ctx context.Context) (*AccountStatus, error) {
	return &AccountStatus{
		Status:  AccountActive,
		Message: "simulated gateway is always active",
	}, nil
}

var _ Sender = (*SimulatedGateway)(nil)
