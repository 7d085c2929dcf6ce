// internal/events/webhook.go
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookNotifier доставляет события пулов на внешний webhook в виде JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
	subs   []Subscription
}

// NewWebhookNotifier создает notifier. timeout <= 0 означает значение по умолчанию.
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.Named("webhook"),
	}
}

// Attach subscribes the notifier to every pool event type on bus.
func (n *WebhookNotifier) Attach(bus *Bus) {
	for _, typ := range AllTypes {
		n.subs = append(n.subs, bus.Subscribe(typ, n))
	}
}

// Detach removes the notifier's subscriptions.
func (n *WebhookNotifier) Detach() {
	for _, s := range n.subs {
		s.Unsubscribe()
	}
	n.subs = nil
}

// Handle posts the event. Delivery failures are logged and returned to the
// bus; nothing is retried.
func (n *WebhookNotifier) Handle(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("Webhook delivery failed",
			zap.String("event_type", string(event.Type())),
			zap.Error(err))
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		n.logger.Warn("Webhook rejected event",
			zap.String("event_type", string(event.Type())),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Debug("Webhook delivered", zap.String("event_type", string(event.Type())))
	return nil
}
