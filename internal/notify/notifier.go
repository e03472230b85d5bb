// Package notify delivers rule-firing notifications to seller-facing
// channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier sends a notification to a named channel.
type Notifier interface {
	Notify(ctx context.Context, channel, subject, body string) error
}

// ErrUnknownChannel is wrapped when no endpoint is configured for the
// requested channel.
type ErrUnknownChannel struct{ Channel string }

func (e *ErrUnknownChannel) Error() string {
	return fmt.Sprintf("no webhook configured for channel %q", e.Channel)
}

// WebhookNotifier posts JSON payloads to per-channel webhook URLs.
type WebhookNotifier struct {
	endpoints  map[string]string
	httpClient *http.Client
}

func NewWebhookNotifier(endpoints map[string]string, timeout time.Duration) *WebhookNotifier {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	SentAt  string `json:"sent_at"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, channel, subject, body string) error {
	url, ok := n.endpoints[channel]
	if !ok {
		return &ErrUnknownChannel{Channel: channel}
	}

	payload, err := json.Marshal(webhookPayload{
		Subject: subject,
		Body:    body,
		SentAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned http %d", resp.StatusCode)
	}
	return nil
}
