package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"pivotwatch/internal/model"
)

// maxErrorBody bounds how much of a failed response body ends up in the message.
const maxErrorBody = 200

// WebhookNotifier POSTs the alert JSON to a generic HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
// url: The HTTP endpoint to POST alerts to.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookNotifier) Deliver(ctx context.Context, alert model.Alert) (bool, string) {
	body, err := json.Marshal(alert)
	if err != nil {
		return false, fmt.Sprintf("Webhook Error: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Sprintf("Webhook Error: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("Webhook Error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return false, fmt.Sprintf("Webhook Failed: %d - %s", resp.StatusCode, text)
	}

	log.Printf("[webhook] sent alert %s to %s", alert.ID, w.url)
	return true, fmt.Sprintf("Webhook OK: %d", resp.StatusCode)
}
