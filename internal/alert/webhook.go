package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Webhook delivers events as a JSON POST to a URL.
type Webhook struct {
	URL    string
	client *http.Client
}

// NewWebhook returns a webhook sink. timeout bounds each request on top of
// the delivery context.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{URL: url, client: &http.Client{Timeout: timeout}}
}

// Name implements Sink.
func (w *Webhook) Name() string { return "webhook" }

// Deliver implements Sink.
func (w *Webhook) Deliver(ctx context.Context, ev Event) error {
	return Fire(ctx, w.client, w.URL, ev)
}

// Fire POSTs ev as JSON to url. Returns an error if the request fails or
// the server responds with a non-2xx status.
func Fire(ctx context.Context, client *http.Client, url string, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d from %s", resp.StatusCode, url)
	}
	return nil
}
