package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPConfig holds SMTP delivery settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// SMTPNotifier sends invitation emails over plain SMTP.
type SMTPNotifier struct {
	config SMTPConfig
	server string
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPNotifier constructs an SMTP-backed notifier.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPNotifier{
		config: cfg,
		server: cfg.Host + ":" + cfg.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// Configured reports whether enough settings are present to attempt delivery.
func (n *SMTPNotifier) Configured() bool {
	return n.config.Host != "" && n.config.Port != "" && n.config.From != ""
}

// SendInvitation implements Notifier.
func (n *SMTPNotifier) SendInvitation(_ context.Context, invitation Invitation) error {
	if !n.Configured() {
		return fmt.Errorf("smtp notifier not configured")
	}

	from := n.config.From
	if n.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", n.config.FromName, n.config.From)
	}

	subject := fmt.Sprintf("%s invited you to collaborate on %s", invitation.InviterName, invitation.ProjectName)
	lines := []string{
		fmt.Sprintf("Hi %s,", displayName(invitation)),
		"",
		fmt.Sprintf("%s invited you to join %q as %s.", invitation.InviterName, invitation.ProjectName, invitation.Permission),
	}
	if invitation.Message != "" {
		lines = append(lines, "", invitation.Message)
	}
	body := strings.Join(lines, "\r\n")

	msg := []byte(fmt.Sprintf(
		"To: %s\r\nFrom: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		invitation.RecipientEmail, from, subject, body,
	))

	return n.send(n.server, n.auth, n.config.From, []string{invitation.RecipientEmail}, msg)
}

func displayName(invitation Invitation) string {
	if invitation.RecipientName != "" {
		return invitation.RecipientName
	}
	return invitation.RecipientEmail
}
