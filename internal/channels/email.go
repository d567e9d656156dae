package channels

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"

	"github.com/mohamedkhairy/alert-dispatch/internal/config"
	"github.com/mohamedkhairy/alert-dispatch/internal/models"
)

// EmailAdapter sends alerts as HTML email over SMTP
type EmailAdapter struct {
	host     string
	port     int
	user     string
	password string
	from     string

	// sendMail is swappable for tests; defaults to smtp.SendMail
	sendMail func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailAdapter creates an SMTP email adapter
func NewEmailAdapter(cfg config.ChannelsConfig) *EmailAdapter {
	return &EmailAdapter{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     cfg.EmailFrom,
		sendMail: smtp.SendMail,
	}
}

// Name returns the channel type
func (a *EmailAdapter) Name() string {
	return "email"
}

// Send delivers the alert as an HTML email. SMTP has no downstream message
// ID, so the Message-ID header we generate is returned as the external ref.
func (a *EmailAdapter) Send(ctx context.Context, alert *models.Alert, cfg models.ChannelConfig) (string, error) {
	if a.host == "" {
		return "", Permanent(fmt.Errorf("email: %w", ErrMissingCredentials))
	}
	if cfg.Target == "" || !strings.Contains(cfg.Target, "@") {
		return "", Permanent(fmt.Errorf("email: invalid recipient address %q", cfg.Target))
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("email: %w", err)
	}

	messageID := fmt.Sprintf("<%s@alert-dispatch>", uuid.New().String())
	body := a.formatHTML(alert)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", a.from)
	fmt.Fprintf(&msg, "To: %s\r\n", cfg.Target)
	fmt.Fprintf(&msg, "Subject: %s\r\n", alert.Title)
	fmt.Fprintf(&msg, "Message-ID: %s\r\n", messageID)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if a.user != "" {
		auth = smtp.PlainAuth("", a.user, a.password, a.host)
	}

	addr := fmt.Sprintf("%s:%d", a.host, a.port)
	if err := a.sendMail(addr, auth, a.from, []string{cfg.Target}, []byte(msg.String())); err != nil {
		return "", fmt.Errorf("email: failed to send to %s: %w", cfg.Target, err)
	}

	return messageID, nil
}

func (a *EmailAdapter) formatHTML(alert *models.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>%s</h2>", alert.Title)
	fmt.Fprintf(&b, "<p>%s</p>", alert.Message)
	if len(alert.ConditionsMet) > 0 {
		b.WriteString("<ul>")
		for _, cond := range alert.ConditionsMet {
			fmt.Fprintf(&b, "<li>%s</li>", cond)
		}
		b.WriteString("</ul>")
	}
	fmt.Fprintf(&b, "<p><small>Alert %s for %s at %s</small></p>",
		alert.ID, alert.Symbol, alert.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	return b.String()
}
