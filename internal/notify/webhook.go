package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when a secret is configured.
const SignatureHeader = "X-Magiclink-Signature"

const defaultWebhookTimeout = 5 * time.Second

// WebhookConfig configures WebhookNotifier.
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

type webhookPayload struct {
	Address string `json:"address"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Link    string `json:"link"`
}

// WebhookNotifier POSTs messages as JSON to an HTTP endpoint, for delivery
// channels other than email.
type WebhookNotifier struct {
	endpoint string
	secret   []byte
	client   *http.Client
}

// NewWebhookNotifier validates cfg and builds the notifier.
func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, errors.New("notify: webhook url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("notify: invalid webhook url %q", raw)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	return &WebhookNotifier{
		endpoint: parsed.String(),
		secret:   []byte(cfg.Secret),
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (n *WebhookNotifier) Send(ctx context.Context, address string, msg Message) error {
	body, err := json.Marshal(webhookPayload{
		Address: address,
		Subject: msg.Subject,
		Body:    msg.Body,
		Link:    msg.Link,
	})
	if err != nil {
		return fmt.Errorf("notify: encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(n.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(n.secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
