package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/textpulse/sms-marketing-backend/internal/config"
)

// HTTPGateway talks to the real SMS provider: an OAuth client-credentials
// token endpoint plus bearer-authenticated send and account endpoints.
type HTTPGateway struct {
	tokenURL     string
	sendURL      string
	accountURL   string
	clientID     string
	clientSecret string
	senderID     string
	httpClient   *http.Client

	// token cache; refreshes are serialized by the mutex so concurrent
	// sends never hit the token endpoint twice for the same expiry
	mu         sync.Mutex
	token      string
	tokenUntil time.Time
}

// NewHTTPGateway creates a gateway client for the configured provider
func NewHTTPGateway(cfg config.GatewayConfig) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGateway{
		tokenURL:     cfg.TokenURL,
		sendURL:      cfg.SendURL,
		accountURL:   cfg.AccountURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		senderID:     cfg.SenderID,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// GetAccessToken exchanges the client credentials for a bearer token.
// A still-valid cached token is reused; a 30s margin covers clock skew
// and the time a long send loop holds on to the token.
func (g *HTTPGateway) GetAccessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != "" && time.Now().Before(g.tokenUntil) {
		return g.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(g.clientID, g.clientSecret)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &GatewayError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned an empty access token")
	}

	g.token = tokenResp.AccessToken
	if tokenResp.ExpiresIn > 0 {
		g.tokenUntil = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - 30*time.Second)
	} else {
		g.tokenUntil = time.Time{} // unknown lifetime, re-authenticate next call
	}
	return g.token, nil
}

// SendSMS performs one authenticated send. Non-2xx responses come back
// as *GatewayError so the caller can treat them as per-message failures.
func (g *HTTPGateway) SendSMS(ctx context.Context, phoneNumber, content string) (*SendResult, error) {
	token, err := g.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	requestBody := map[string]any{
		"to":      phoneNumber,
		"from":    g.senderID,
		"message": content,
	}
	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.sendURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var response struct {
		MessageID string `json:"messageId"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &SendResult{ExternalID: response.MessageID, Status: response.Status}, nil
}

// GetAccountStatus probes the provider's account endpoint. Used for the
// operator health display, never on the send hot path.
func (g *HTTPGateway) GetAccountStatus(ctx context.Context) (*AccountStatus, error) {
	token, err := g.GetAccessToken(ctx)
	if err != nil {
		if gwErr, ok := err.(*GatewayError); ok && (gwErr.StatusCode == http.StatusUnauthorized || gwErr.StatusCode == http.StatusForbidden) {
			return &AccountStatus{Status: AccountExpired, Message: "provider credentials rejected"}, nil
		}
		return &AccountStatus{Status: AccountError, Message: err.Error()}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.accountURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &AccountStatus{Status: AccountError, Message: err.Error()}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &AccountStatus{Status: AccountError, Message: err.Error()}, nil
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AccountStatus{Status: AccountExpired, Message: "provider credentials rejected"}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &AccountStatus{
			Status:  AccountError,
			Message: fmt.Sprintf("account endpoint returned status %d", resp.StatusCode),
			Details: map[string]any{"body": string(body)},
		}, nil
	}

	var account struct {
		Balance   float64 `json:"balance"`
		ExpiresAt string  `json:"expiresAt"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return &AccountStatus{Status: AccountUnknown, Message: "unrecognized account response"}, nil
	}

	details := map[string]any{"balance": account.Balance, "expires_at": account.ExpiresAt}

	if account.ExpiresAt != "" {
		if expiry, err := time.Parse(time.RFC3339, account.ExpiresAt); err == nil && expiry.Before(time.Now()) {
			return &AccountStatus{Status: AccountExpired, Message: "provider contract has expired", Details: details}, nil
		}
	}
	if account.Balance <= 0 {
		return &AccountStatus{Status: AccountNoCredits, Message: "provider account has no credits", Details: details}, nil
	}
	return &AccountStatus{Status: AccountActive, Message: "provider account is active", Details: details}, nil
}

var _ Sender = (*HTTPGateway)(nil)
