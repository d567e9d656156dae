package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohamedkhairy/alert-dispatch/internal/models"
)

// WebhookAdapter delivers the alert payload as a JSON POST to an arbitrary
// HTTP endpoint configured on the rule
type WebhookAdapter struct {
	client *http.Client
}

// NewWebhookAdapter creates a generic webhook adapter
func NewWebhookAdapter(timeout time.Duration) *WebhookAdapter {
	return &WebhookAdapter{client: newHTTPClient(timeout)}
}

// Name returns the channel type
func (a *WebhookAdapter) Name() string {
	return "webhook"
}

// webhookPayload is the wire shape posted to webhook consumers
type webhookPayload struct {
	AlertID       string           `json:"alert_id"`
	RuleID        string           `json:"rule_id"`
	Symbol        string           `json:"symbol"`
	Title         string           `json:"title"`
	Message       string           `json:"message"`
	TriggerValue  float64          `json:"trigger_value"`
	ConditionsMet []string         `json:"conditions_met"`
	Snapshot      *models.Snapshot `json:"snapshot,omitempty"`
	CreatedAt     string           `json:"created_at"`
}

// Send posts the alert and treats any 2xx response as delivered
func (a *WebhookAdapter) Send(ctx context.Context, alert *models.Alert, cfg models.ChannelConfig) (string, error) {
	if !strings.HasPrefix(cfg.Target, "http://") && !strings.HasPrefix(cfg.Target, "https://") {
		return "", Permanent(fmt.Errorf("webhook: invalid endpoint %q", cfg.Target))
	}

	payload, err := json.Marshal(webhookPayload{
		AlertID:       alert.ID,
		RuleID:        alert.RuleID,
		Symbol:        alert.Symbol,
		Title:         alert.Title,
		Message:       alert.Message,
		TriggerValue:  alert.TriggerValue,
		ConditionsMet: alert.ConditionsMet,
		Snapshot:      alert.Snapshot,
		CreatedAt:     alert.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return "", Permanent(fmt.Errorf("webhook: failed to marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Target, bytes.NewReader(payload))
	if err != nil {
		return "", Permanent(fmt.Errorf("webhook: failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if secret := cfg.Settings["secret"]; secret != "" {
		req.Header.Set("X-Alert-Secret", secret)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("webhook: endpoint error %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", Permanent(fmt.Errorf("webhook: endpoint rejected with %d", resp.StatusCode))
	}

	// Webhook consumers assign no reference ID; echo the request ID header
	// when present.
	if ref := resp.Header.Get("X-Request-Id"); ref != "" {
		return ref, nil
	}
	return alert.ID, nil
}
