package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// WebhookNotifier POSTs each event as JSON to a configured endpoint, for
// routing governance events to chat integrations or a SIEM. Failures are
// logged and dropped; the workflow has already committed by the time an event
// is delivered, so there is nothing to roll back.
type WebhookNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

// NewWebhookNotifier creates a notifier posting to url with the given extra
// headers (e.g. an Authorization header for the receiving system).
func NewWebhookNotifier(url string, headers map[string]string, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

type webhookPayload struct {
	Timestamp  time.Time      `json:"timestamp"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor"`
	Details    map[string]any `json:"details,omitempty"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, event Event) {
	body, err := json.Marshal(webhookPayload{
		Timestamp:  time.Now().UTC(),
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Action:     event.Action,
		Actor:      event.Actor,
		Details:    event.Details,
	})
	if err != nil {
		n.logger.Error("failed to encode webhook payload", slog.String("error", err.Error()))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("failed to build webhook request", slog.String("error", err.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed",
			slog.String("url", n.url),
			slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.Warn("webhook endpoint rejected event",
			slog.String("url", n.url),
			slog.Int("status", resp.StatusCode))
	}
}
