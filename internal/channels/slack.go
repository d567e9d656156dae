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

// SlackAdapter posts alerts to a Slack incoming webhook with attachment
// formatting
type SlackAdapter struct {
	client *http.Client
}

// NewSlackAdapter creates a Slack webhook adapter
func NewSlackAdapter(timeout time.Duration) *SlackAdapter {
	return &SlackAdapter{client: newHTTPClient(timeout)}
}

// Name returns the channel type
func (a *SlackAdapter) Name() string {
	return "slack"
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer"`
	TS     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Send posts a structured attachment to the configured incoming webhook
func (a *SlackAdapter) Send(ctx context.Context, alert *models.Alert, cfg models.ChannelConfig) (string, error) {
	if !strings.HasPrefix(cfg.Target, "https://") {
		return "", Permanent(fmt.Errorf("slack: invalid webhook URL %q", cfg.Target))
	}

	fields := []slackField{
		{Title: "Symbol", Value: alert.Symbol, Short: true},
		{Title: "Trigger value", Value: fmt.Sprintf("%.4f", alert.TriggerValue), Short: true},
	}
	if len(alert.ConditionsMet) > 0 {
		fields = append(fields, slackField{
			Title: "Conditions met",
			Value: strings.Join(alert.ConditionsMet, "\n"),
		})
	}

	payload, err := json.Marshal(map[string]interface{}{
		"attachments": []slackAttachment{{
			Color:  "#d9534f",
			Title:  alert.Title,
			Text:   alert.Message,
			Fields: fields,
			Footer: "alert-dispatch",
			TS:     alert.CreatedAt.Unix(),
		}},
	})
	if err != nil {
		return "", Permanent(fmt.Errorf("slack: failed to marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Target, bytes.NewReader(payload))
	if err != nil {
		return "", Permanent(fmt.Errorf("slack: failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack: request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("slack: server error %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Permanent(fmt.Errorf("slack: webhook rejected with %d", resp.StatusCode))
	}

	return alert.ID, nil
}
