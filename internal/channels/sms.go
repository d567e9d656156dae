package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohamedkhairy/alert-dispatch/internal/config"
	"github.com/mohamedkhairy/alert-dispatch/internal/models"
)

// smsMaxLength is the single-segment SMS limit; longer bodies are truncated
const smsMaxLength = 160

// SMSAdapter sends alerts through a Twilio-compatible SMS gateway
type SMSAdapter struct {
	apiURL    string
	accountID string
	authToken string
	from      string
	client    *http.Client
}

// NewSMSAdapter creates an SMS adapter
func NewSMSAdapter(cfg config.ChannelsConfig, timeout time.Duration) *SMSAdapter {
	return &SMSAdapter{
		apiURL:    cfg.SMSAPIURL,
		accountID: cfg.SMSAccountID,
		authToken: cfg.SMSAuthToken,
		from:      cfg.SMSFrom,
		client:    newHTTPClient(timeout),
	}
}

// Name returns the channel type
func (a *SMSAdapter) Name() string {
	return "sms"
}

type smsResponse struct {
	SID     string `json:"sid"`
	Message string `json:"message"`
}

// Send posts a truncated plain-text message to the gateway
func (a *SMSAdapter) Send(ctx context.Context, alert *models.Alert, cfg models.ChannelConfig) (string, error) {
	if a.accountID == "" || a.authToken == "" {
		return "", Permanent(fmt.Errorf("sms: %w", ErrMissingCredentials))
	}
	if cfg.Target == "" {
		return "", Permanent(fmt.Errorf("sms: phone number target is empty"))
	}

	body := fmt.Sprintf("%s: %s", alert.Title, alert.Message)
	if runes := []rune(body); len(runes) > smsMaxLength {
		// Truncate on a rune boundary so a multi-byte character is never
		// split mid-sequence.
		body = string(runes[:smsMaxLength-3]) + "..."
	}

	form := url.Values{}
	form.Set("To", cfg.Target)
	form.Set("From", a.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", a.apiURL, a.accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", Permanent(fmt.Errorf("sms: failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.accountID, a.authToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sms: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("sms: gateway error %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", Permanent(fmt.Errorf("sms: request rejected with %d: %s", resp.StatusCode, string(respBody)))
	}

	var smsResp smsResponse
	if err := json.Unmarshal(respBody, &smsResp); err != nil {
		return "", fmt.Errorf("sms: failed to decode response: %w", err)
	}
	return smsResp.SID, nil
}
