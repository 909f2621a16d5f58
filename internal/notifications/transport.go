package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"convertd/internal/config"
	"convertd/internal/logging"
	"convertd/internal/services"
)

// Transport delivers a rendered message.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// NewTransport returns an SMTP transport when mail is enabled and a log
// transport otherwise.
func NewTransport(cfg config.Mail, logger *slog.Logger) Transport {
	if !cfg.Enabled {
		return &LogTransport{logger: logging.NewComponentLogger(logger, "mail")}
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMTPTransport{cfg: cfg, timeout: timeout}
}

// SMTPTransport sends mail through an SMTP relay.
type SMTPTransport struct {
	cfg     config.Mail
	timeout time.Duration
}

func tlsPolicy(value string) mail.TLSPolicy {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "mandatory":
		return mail.TLSMandatory
	case "none":
		return mail.NoTLS
	default:
		return mail.TLSOpportunistic
	}
}

// Send dials the relay and delivers msg. Address errors are validation
// failures; everything else is transient.
func (s *SMTPTransport) Send(ctx context.Context, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return services.Wrap(services.ErrConfiguration, "notify", "smtp", "invalid from address", err)
	}
	if err := m.To(msg.To); err != nil {
		return services.Wrap(services.ErrValidation, "notify", "smtp", "invalid recipient", err)
	}
	m.Subject(msg.Subject)
	// HTML must be the last alternative.
	if msg.Text != "" {
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	} else {
		m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(tlsPolicy(s.cfg.TLSPolicy)),
		mail.WithTimeout(s.timeout),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "notify", "smtp", "build client", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return services.Wrap(services.ErrTransient, "notify", "smtp", fmt.Sprintf("deliver to %s", msg.To), err)
	}
	return nil
}

// LogTransport records messages instead of sending them.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport builds a log transport.
func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logging.NewComponentLogger(logger, "mail")}
}

// Send logs the envelope and body sizes of msg.
func (l *LogTransport) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("log transport: recipient is required")
	}
	logging.WithContext(ctx, l.logger).Info("mail delivery disabled; message logged",
		logging.String("to", msg.To),
		logging.String("subject", msg.Subject),
		logging.Int("body_bytes", len(msg.HTML)),
		logging.Int("text_bytes", len(msg.Text)),
		logging.String(logging.FieldEventType, "mail_logged"),
	)
	return nil
}
