package output

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/jhillyerd/enmime"

	"meetprep/internal/models"
)

// MailerConfig describes the SMTP relay and the brief's sender and recipient.
type MailerConfig struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
	To       string
}

// Mailer delivers prep briefs by email.
type Mailer struct {
	cfg    MailerConfig
	logger *slog.Logger
}

// NewMailer creates a Mailer.
func NewMailer(cfg MailerConfig, logger *slog.Logger) *Mailer {
	return &Mailer{cfg: cfg, logger: logger}
}

// Deliver emails the text brief of one record.
func (m *Mailer) Deliver(rec *models.MeetingPrepRecord) error {
	subject := fmt.Sprintf("[%s] Meeting prep: %s", rec.Priority, rec.Event.Title)

	err := enmime.Builder().
		From("meetprep", m.cfg.From).
		To("", m.cfg.To).
		Subject(subject).
		Text([]byte(FormatText(rec))).
		Send(smtpSender(m.cfg))
	if err != nil {
		return fmt.Errorf("failed to send prep brief for %q: %w", rec.Event.Title, err)
	}

	m.logger.Info("Sent prep brief", "eventTitle", rec.Event.Title, "to", m.cfg.To)
	return nil
}

// smtpSender implements enmime.Sender. It upgrades to TLS when the server offers
// STARTTLS and authenticates with PLAIN when credentials are set.
type smtpSender MailerConfig

func (s smtpSender) Send(reversePath string, recipients []string, msg []byte) error {
	c, err := smtp.Dial(s.Addr)
	if err != nil {
		return fmt.Errorf("failed to dial SMTP server: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		host, _, _ := net.SplitHostPort(s.Addr)
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	if s.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.Username, s.Password)); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}
	if err := c.SendMail(reversePath, recipients, bytes.NewReader(msg)); err != nil {
		return err
	}
	return c.Quit()
}
