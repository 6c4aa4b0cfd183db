// Package notify delivers sign-in links to end users.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/magiclink/pkg/logger"
	"github.com/charlesng35/magiclink/pkg/mail"
)

// Message is the payload handed to a Notifier.
type Message struct {
	Subject string
	Body    string
	Link    string
}

// Notifier delivers a message to an address. Delivery is best effort; callers
// decide what to do with the returned error.
type Notifier interface {
	Send(ctx context.Context, address string, msg Message) error
}

// LogNotifier writes messages to the application log. It is the default
// delivery channel in development, where the link is read off the console.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier returns a notifier writing to log, or to the "notify" module logger when nil.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = logger.WithModule("notify")
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(_ context.Context, address string, msg Message) error {
	n.log.Info("magic link issued",
		zap.String("address", address),
		zap.String("subject", msg.Subject),
		zap.String("link", msg.Link),
	)
	return nil
}

// MailNotifier sends messages over SMTP.
type MailNotifier struct {
	mailer mail.Mailer
}

// NewMailNotifier wraps a mailer.
func NewMailNotifier(mailer mail.Mailer) (*MailNotifier, error) {
	if mailer == nil {
		return nil, errors.New("notify: mailer is required")
	}
	return &MailNotifier{mailer: mailer}, nil
}

func (n *MailNotifier) Send(ctx context.Context, address string, msg Message) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return errors.New("notify: address is required")
	}
	err := n.mailer.Send(ctx, mail.Message{
		To:      []string{address},
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if err != nil {
		return fmt.Errorf("notify: mail: %w", err)
	}
	return nil
}
