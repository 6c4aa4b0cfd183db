package mail

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	gomail "github.com/wneessen/go-mail"
)

type recordingSender struct {
	sent []*gomail.Msg
	err  error
}

func (r *recordingSender) DialAndSendWithContext(_ context.Context, messages ...*gomail.Msg) error {
	r.sent = append(r.sent, messages...)
	return r.err
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
	})
	if err == nil || !strings.Contains(err.Error(), "host is required") {
		t.Fatalf("expected host validation error, got %v", err)
	}

	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: false,
	})
	if err != nil {
		t.Fatalf("expected disabled configuration to succeed: %v", err)
	}

	if mailer == nil {
		t.Fatal("expected mailer to be returned")
	}
}

func TestSMTPMailerSendDisabled(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: false,
	})
	if err != nil {
		t.Fatalf("unexpected error creating mailer: %v", err)
	}

	err = mailer.Send(context.Background(), Message{
		To:      []string{"test@example.com"},
		Subject: "Test",
		Body:    "Hello",
	})
	if !errors.Is(err, ErrSMTPDisabled) {
		t.Fatalf("expected ErrSMTPDisabled, got %v", err)
	}
}

func TestSMTPMailerSendDelegatesToClient(t *testing.T) {
	rec := &recordingSender{}
	mailer := &smtpMailer{
		cfg:    SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 587, From: "no-reply@example.com"},
		client: rec,
	}

	err := mailer.Send(context.Background(), Message{
		To:      []string{"a@example.com", "a@example.com", " "},
		Subject: "Sign in",
		Body:    "link",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(rec.sent))
	}

	recipients, err := rec.sent[0].GetRecipients()
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(recipients) != 1 || recipients[0] != "a@example.com" {
		t.Fatalf("expected deduplicated recipient, got %v", recipients)
	}
}

func TestSMTPMailerSendWrapsClientError(t *testing.T) {
	boom := errors.New("connection refused")
	mailer := &smtpMailer{
		cfg:    SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 587, From: "no-reply@example.com"},
		client: &recordingSender{err: boom},
	}

	err := mailer.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "s", Body: "b"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
}

func TestBuildMessage(t *testing.T) {
	msg, err := buildMessage(SMTPSettings{From: "from@example.com"}, Message{
		To:      []string{"to@example.com"},
		Subject: "Subject\r\nBreak",
		Body:    "Body",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	content := buf.String()
	if !strings.Contains(content, "from@example.com") {
		t.Fatalf("expected from header, got %q", content)
	}
	if !strings.Contains(content, "Subject  Break") {
		t.Fatalf("expected sanitised subject, got %q", content)
	}
	if !strings.Contains(content, "Body") {
		t.Fatalf("expected body, got %q", content)
	}
}

func TestBuildMessageRequiresSenderAndRecipient(t *testing.T) {
	if _, err := buildMessage(SMTPSettings{}, Message{To: []string{"to@example.com"}}); err == nil {
		t.Fatal("expected missing sender error")
	}
	if _, err := buildMessage(SMTPSettings{From: "from@example.com"}, Message{}); err == nil {
		t.Fatal("expected missing recipient error")
	}
}
