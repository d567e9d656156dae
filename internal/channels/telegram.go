package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mohamedkhairy/alert-dispatch/internal/config"
	"github.com/mohamedkhairy/alert-dispatch/internal/models"
)

// TelegramAdapter sends alerts through the Telegram Bot API
type TelegramAdapter struct {
	apiURL   string
	botToken string
	client   *http.Client
}

// NewTelegramAdapter creates a Telegram adapter
func NewTelegramAdapter(cfg config.ChannelsConfig, timeout time.Duration) *TelegramAdapter {
	return &TelegramAdapter{
		apiURL:   cfg.TelegramAPIURL,
		botToken: cfg.TelegramBotToken,
		client:   newHTTPClient(timeout),
	}
}

// Name returns the channel type
func (a *TelegramAdapter) Name() string {
	return "telegram"
}

type telegramResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Description string `json:"description"`
}

// Send posts a Markdown-formatted message to the configured chat
func (a *TelegramAdapter) Send(ctx context.Context, alert *models.Alert, cfg models.ChannelConfig) (string, error) {
	if a.botToken == "" {
		return "", Permanent(fmt.Errorf("telegram: %w", ErrMissingCredentials))
	}
	if cfg.Target == "" {
		return "", Permanent(fmt.Errorf("telegram: chat ID target is empty"))
	}

	text := fmt.Sprintf("*%s*\n%s", alert.Title, alert.Message)
	payload, err := json.Marshal(map[string]interface{}{
		"chat_id":    cfg.Target,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return "", Permanent(fmt.Errorf("telegram: failed to marshal payload: %w", err))
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", a.apiURL, a.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", Permanent(fmt.Errorf("telegram: failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("telegram: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("telegram: server error %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Permanent(fmt.Errorf("telegram: request rejected with %d: %s", resp.StatusCode, string(body)))
	}

	var tgResp telegramResponse
	if err := json.Unmarshal(body, &tgResp); err != nil {
		return "", fmt.Errorf("telegram: failed to decode response: %w", err)
	}
	if !tgResp.OK {
		return "", Permanent(fmt.Errorf("telegram: API error: %s", tgResp.Description))
	}

	return fmt.Sprintf("%d", tgResp.Result.MessageID), nil
}
