package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultWebhookTimeout = 5 * time.Second

// DispatchError reports a failed alert notification.
type DispatchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("webhook %s: non-2xx response: %d", e.URL, e.StatusCode)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Notifier delivers alert notifications to an external system.
type Notifier interface {
	Notify(ctx context.Context, n *AlertNotification) error
}

// WebhookNotifier POSTs alert notifications as JSON. Delivery is attempted
// once; failures are returned to the caller and never retried.
type WebhookNotifier struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration, client *http.Client) *WebhookNotifier {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &WebhookNotifier{
		url:     strings.TrimSpace(url),
		timeout: timeout,
		client:  client,
	}
}

type webhookPayload struct {
	Alert     interface{} `json:"alert"`
	Rule      interface{} `json:"rule"`
	Event     interface{} `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Severity  string      `json:"severity"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, n *AlertNotification) error {
	if w.url == "" {
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		Alert:     n.Alert,
		Rule:      ruleSnapshot(n.Rule, n.Observed),
		Event:     n.Event,
		Timestamp: n.Timestamp,
		Severity:  n.Severity,
	})
	if err != nil {
		return &DispatchError{URL: w.url, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return &DispatchError{URL: w.url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return &DispatchError{URL: w.url, Err: err}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &DispatchError{URL: w.url, StatusCode: resp.StatusCode}
	}

	log.Debug().
		Str("rule", n.Rule.Name).
		Int("response_status", resp.StatusCode).
		Msg("Webhook delivered")
	return nil
}
