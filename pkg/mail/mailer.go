package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// ErrSMTPDisabled signals that SMTP delivery is disabled via configuration.
var ErrSMTPDisabled = errors.New("smtp: delivery disabled")

// Message represents an outbound email.
type Message struct {
	From     string
	To       []string
	Subject  string
	Body     string
	HTMLBody string
}

// Mailer defines behaviour for sending email messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSettings capture the runtime configuration required by the SMTP mailer.
// Encryption is one of "starttls" (default), "ssl" or "none".
type SMTPSettings struct {
	Enabled    bool
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Encryption string
	Timeout    time.Duration
}

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

type smtpMailer struct {
	cfg    SMTPSettings
	client sender
}

// NewSMTPMailer builds a Mailer backed by go-mail. A disabled configuration returns a
// mailer whose Send always reports ErrSMTPDisabled.
func NewSMTPMailer(cfg SMTPSettings) (Mailer, error) {
	if err := validateSMTPConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if !cfg.Enabled {
		return &smtpMailer{cfg: cfg}, nil
	}

	client, err := gomail.NewClient(cfg.Host, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("smtp: new client: %w", err)
	}

	return &smtpMailer{cfg: cfg, client: client}, nil
}

func clientOptions(cfg SMTPSettings) []gomail.Option {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTimeout(cfg.Timeout),
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Encryption)) {
	case "ssl":
		opts = append(opts, gomail.WithSSL())
	case "none":
		opts = append(opts, gomail.WithTLSPortPolicy(gomail.NoTLS))
	default:
		opts = append(opts, gomail.WithTLSPortPolicy(gomail.TLSMandatory))
	}

	if strings.TrimSpace(cfg.Username) != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	return opts
}

func (m *smtpMailer) Send(ctx context.Context, msg Message) error {
	if !m.cfg.Enabled || m.client == nil {
		return ErrSMTPDisabled
	}

	out, err := buildMessage(m.cfg, msg)
	if err != nil {
		return err
	}

	if err := m.client.DialAndSendWithContext(ctx, out); err != nil {
		return fmt.Errorf("smtp: send: %w", err)
	}
	return nil
}

func buildMessage(cfg SMTPSettings, msg Message) (*gomail.Msg, error) {
	recipients := uniqueAddresses(msg.To)
	if len(recipients) == 0 {
		return nil, errors.New("smtp: at least one recipient is required")
	}

	from := strings.TrimSpace(msg.From)
	if from == "" {
		from = cfg.From
	}
	if from == "" {
		return nil, errors.New("smtp: sender address is required")
	}

	out := gomail.NewMsg()
	if err := out.From(from); err != nil {
		return nil, fmt.Errorf("smtp: invalid from address: %w", err)
	}
	if err := out.To(recipients...); err != nil {
		return nil, fmt.Errorf("smtp: invalid recipient address: %w", err)
	}
	out.Subject(escapeHeader(msg.Subject))
	out.SetBodyString(gomail.TypeTextPlain, msg.Body)
	if msg.HTMLBody != "" {
		out.AddAlternativeString(gomail.TypeTextHTML, msg.HTMLBody)
	}
	return out, nil
}

func validateSMTPConfig(cfg SMTPSettings) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return errors.New("smtp: host is required when enabled")
	}
	if cfg.Port == 0 {
		return errors.New("smtp: port is required when enabled")
	}
	return nil
}

func uniqueAddresses(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	var result []string
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, exists := seen[addr]; exists {
			continue
		}
		seen[addr] = struct{}{}
		result = append(result, addr)
	}
	return result
}

func escapeHeader(value string) string {
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	return value
}
