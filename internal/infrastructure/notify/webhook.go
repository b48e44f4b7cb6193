package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"TxnPipeline/internal/domain"
	"TxnPipeline/internal/ports"
)

// WebhookNotifier posts run summaries as JSON to an operations endpoint,
// replacing the scheduler-side failure emails of the old deployment.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

var _ ports.Notifier = (*WebhookNotifier)(nil)

// NewWebhookNotifier registers the destination URL.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// PublishSummary posts the summary; failed runs go out with the same shape,
// marked incomplete.
func (n *WebhookNotifier) PublishSummary(ctx context.Context, summary domain.RunSummary) error {
	if n.url == "" || n.client == nil {
		return fmt.Errorf("webhook notifier misconfigured")
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook error: %s", resp.Status)
	}

	return nil
}
