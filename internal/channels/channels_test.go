package channels

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/alert-dispatch/internal/config"
	"github.com/mohamedkhairy/alert-dispatch/internal/models"
)

func testAlert() *models.Alert {
	return &models.Alert{
		ID:            "alert-1",
		RuleID:        "rule-1",
		Symbol:        "AAPL",
		Title:         "Price Alert: AAPL",
		Message:       "AAPL breakout fired for AAPL at 105.00 (+5.00% vs previous close).",
		TriggerValue:  105,
		ConditionsMet: []string{"close > 100.00"},
		CreatedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewWebhookAdapter(time.Second))
	registry.Register(NewSlackAdapter(time.Second))

	adapter, ok := registry.Get("webhook")
	require.True(t, ok)
	assert.Equal(t, "webhook", adapter.Name())

	_, ok = registry.Get("pager")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"webhook", "slack"}, registry.Types())
}

func TestPermanentClassification(t *testing.T) {
	assert.False(t, IsPermanent(errors.New("timeout")))
	assert.True(t, IsPermanent(Permanent(errors.New("bad payload"))))

	// Permanence survives wrapping.
	wrapped := Permanent(errors.New("rejected"))
	assert.True(t, IsPermanent(wrapped))
	assert.Nil(t, Permanent(nil))
}

func TestWebhookAdapter_Send(t *testing.T) {
	var gotPayload webhookPayload
	var gotSecret string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("X-Alert-Secret")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotPayload)
		w.Header().Set("X-Request-Id", "req-42")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	adapter := NewWebhookAdapter(time.Second)
	ref, err := adapter.Send(context.Background(), testAlert(), models.ChannelConfig{
		Type:     "webhook",
		Target:   server.URL,
		Settings: map[string]string{"secret": "s3cret"},
	})

	require.NoError(t, err)
	assert.Equal(t, "req-42", ref)
	assert.Equal(t, "s3cret", gotSecret)
	assert.Equal(t, "alert-1", gotPayload.AlertID)
	assert.Equal(t, "AAPL", gotPayload.Symbol)
	assert.Equal(t, []string{"close > 100.00"}, gotPayload.ConditionsMet)
}

func TestWebhookAdapter_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"server error is transient", http.StatusBadGateway, false},
		{"client rejection is permanent", http.StatusBadRequest, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			adapter := NewWebhookAdapter(time.Second)
			_, err := adapter.Send(context.Background(), testAlert(), models.ChannelConfig{Target: server.URL})
			require.Error(t, err)
			assert.Equal(t, tt.permanent, IsPermanent(err))
		})
	}
}

func TestWebhookAdapter_InvalidEndpoint(t *testing.T) {
	adapter := NewWebhookAdapter(time.Second)
	_, err := adapter.Send(context.Background(), testAlert(), models.ChannelConfig{Target: "ftp://nope"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestSlackAdapter_RejectsNonHTTPSWebhook(t *testing.T) {
	adapter := NewSlackAdapter(time.Second)
	_, err := adapter.Send(context.Background(), testAlert(), models.ChannelConfig{Target: "http://hooks.example.com/T/B/x"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err), "non-https webhook URL must be rejected permanently")
}

func TestTelegramAdapter_Send(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":     true,
			"result": map[string]interface{}{"message_id": 987},
		})
	}))
	defer server.Close()

	adapter := NewTelegramAdapter(config.ChannelsConfig{
		TelegramAPIURL:   server.URL,
		TelegramBotToken: "bot-token",
	}, time.Second)

	ref, err := adapter.Send(context.Background(), testAlert(), models.ChannelConfig{Target: "chat-1"})
	require.NoError(t, err)
	assert.Equal(t, "987", ref)
	assert.Equal(t, "/botbot-token/sendMessage", gotPath)
	assert.Equal(t, "chat-1", gotBody["chat_id"])
	assert.Equal(t, "Markdown", gotBody["parse_mode"])
	assert.Contains(t, gotBody["text"], "*Price Alert: AAPL*")
}

func TestTelegramAdapter_MissingToken(t *testing.T) {
	adapter := NewTelegramAdapter(config.ChannelsConfig{}, time.Second)
	_, err := adapter.Send(context.Background(), testAlert(), models.ChannelConfig{Target: "chat-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.True(t, IsPermanent(err))
}

func TestTelegramAdapter_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":          false,
			"description": "chat not found",
		})
	}))
	defer server.Close()

	adapter := NewTelegramAdapter(config.ChannelsConfig{
		TelegramAPIURL:   server.URL,
		TelegramBotToken: "bot-token",
	}, time.Second)

	_, err := adapter.Send(context.Background(), testAlert(), models.ChannelConfig{Target: "chat-1"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Contains(t, err.Error(), "chat not found")
}

func TestSMSAdapter_Send(t *testing.T) {
	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		require.Equal(t, "acct-1", user)
		require.Equal(t, "token-1", pass)
		r.ParseForm()
		gotForm = map[string]string{
			"To":   r.PostFormValue("To"),
			"From": r.PostFormValue("From"),
			"Body": r.PostFormValue("Body"),
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"sid": "SM123"})
	}))
	defer server.Close()

	adapter := NewSMSAdapter(config.ChannelsConfig{
		SMSAPIURL:    server.URL,
		SMSAccountID: "acct-1",
		SMSAuthToken: "token-1",
		SMSFrom:      "+15550100",
	}, time.Second)

	ref, err := adapter.Send(context.Background(), testAlert(), models.ChannelConfig{Target: "+15550199"})
	require.NoError(t, err)
	assert.Equal(t, "SM123", ref)
	assert.Equal(t, "+15550199", gotForm["To"])
	assert.Equal(t, "+15550100", gotForm["From"])
	assert.True(t, strings.HasPrefix(gotForm["Body"], "Price Alert: AAPL:"))
}

func TestSMSAdapter_TruncatesLongBody(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotBody = r.PostFormValue("Body")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"sid": "SM123"})
	}))
	defer server.Close()

	adapter := NewSMSAdapter(config.ChannelsConfig{
		SMSAPIURL:    server.URL,
		SMSAccountID: "acct-1",
		SMSAuthToken: "token-1",
	}, time.Second)

	alert := testAlert()
	alert.Message = strings.Repeat("volume spike on heavy flow. ", 20)

	_, err := adapter.Send(context.Background(), alert, models.ChannelConfig{Target: "+15550199"})
	require.NoError(t, err)
	assert.Len(t, gotBody, smsMaxLength)
	assert.True(t, strings.HasSuffix(gotBody, "..."))
}

func TestSMSAdapter_TruncatesOnRuneBoundary(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotBody = r.PostFormValue("Body")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"sid": "SM123"})
	}))
	defer server.Close()

	adapter := NewSMSAdapter(config.ChannelsConfig{
		SMSAPIURL:    server.URL,
		SMSAccountID: "acct-1",
		SMSAuthToken: "token-1",
	}, time.Second)

	alert := testAlert()
	alert.Message = strings.Repeat("上昇トレンド ", 40)

	_, err := adapter.Send(context.Background(), alert, models.ChannelConfig{Target: "+15550199"})
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(gotBody), "truncation must not split a multi-byte rune")
	assert.Equal(t, smsMaxLength, utf8.RuneCountInString(gotBody))
	assert.True(t, strings.HasSuffix(gotBody, "..."))
}

func TestEmailAdapter_Send(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	adapter := NewEmailAdapter(config.ChannelsConfig{
		SMTPHost:  "mail.example.com",
		SMTPPort:  587,
		SMTPUser:  "alerts",
		EmailFrom: "alerts@example.com",
	})
	adapter.sendMail = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotFrom = from
		gotTo = to
		gotMsg = msg
		return nil
	}

	ref, err := adapter.Send(context.Background(), testAlert(), models.ChannelConfig{Target: "ops@example.com"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "<") && strings.HasSuffix(ref, "@alert-dispatch>"))
	assert.Equal(t, "mail.example.com:587", gotAddr)
	assert.Equal(t, "alerts@example.com", gotFrom)
	assert.Equal(t, []string{"ops@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: Price Alert: AAPL")
	assert.Contains(t, string(gotMsg), "Content-Type: text/html")
	assert.Contains(t, string(gotMsg), "<li>close > 100.00</li>")
}

func TestEmailAdapter_InvalidRecipient(t *testing.T) {
	adapter := NewEmailAdapter(config.ChannelsConfig{SMTPHost: "mail.example.com", SMTPPort: 587})
	_, err := adapter.Send(context.Background(), testAlert(), models.ChannelConfig{Target: "not-an-address"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestEmailAdapter_MissingHost(t *testing.T) {
	adapter := NewEmailAdapter(config.ChannelsConfig{})
	_, err := adapter.Send(context.Background(), testAlert(), models.ChannelConfig{Target: "ops@example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestEmailAdapter_TransportFailureIsTransient(t *testing.T) {
	adapter := NewEmailAdapter(config.ChannelsConfig{SMTPHost: "mail.example.com", SMTPPort: 587})
	adapter.sendMail = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		return errors.New("connection refused")
	}

	_, err := adapter.Send(context.Background(), testAlert(), models.ChannelConfig{Target: "ops@example.com"})
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}
