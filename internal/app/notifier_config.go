package app

import (
	"strings"

	"github.com/charlesng35/magiclink/internal/notify"
	"github.com/charlesng35/magiclink/pkg/mail"
)

// Supported notifier drivers.
const (
	NotifierDriverLog     = "log"
	NotifierDriverSMTP    = "smtp"
	NotifierDriverWebhook = "webhook"
)

// Backend returns the normalised notifier driver, defaulting to log.
func (c NotifierConfig) Backend() string {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "" {
		return NotifierDriverLog
	}
	return driver
}

// SMTPSettings converts NotifierConfig to the mail package representation.
func (c NotifierConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:    c.Backend() == NotifierDriverSMTP,
		Host:       strings.TrimSpace(c.SMTP.Host),
		Port:       c.SMTP.Port,
		Username:   c.SMTP.Username,
		Password:   c.SMTP.Password,
		From:       strings.TrimSpace(c.SMTP.From),
		Encryption: c.SMTP.Encryption,
		Timeout:    c.SMTP.Timeout,
	}
}

// WebhookSettings converts NotifierConfig to the notify package representation.
func (c NotifierConfig) WebhookSettings() notify.WebhookConfig {
	return notify.WebhookConfig{
		URL:     strings.TrimSpace(c.Webhook.URL),
		Secret:  c.Webhook.Secret,
		Timeout: c.Webhook.Timeout,
	}
}
