package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	logx "notifyd/pkg/logx"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPChat posts chat messages to Slack/Teams-style incoming webhooks.
// Both integrations accept a JSON body with a "text" field.
type HTTPChat struct {
	Client  *http.Client
	Timeout time.Duration
	Log     logx.Logger
}

func (c *HTTPChat) SendChatMessage(ctx context.Context, webhookURL, room, message string, opts map[string]string) (string, error) {
	body := map[string]string{"text": message}
	if room != "" {
		body["channel"] = room
	}
	for k, v := range opts {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	if err := c.post(ctx, webhookURL, payload); err != nil {
		return "", err
	}
	// Incoming webhooks do not return a message id.
	return "", nil
}

func (c *HTTPChat) post(ctx context.Context, url string, payload []byte) error {
	return postJSON(ctx, c.client(), c.timeout(), url, payload)
}

func (c *HTTPChat) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *HTTPChat) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultHTTPTimeout
}

// HTTPWebhook delivers generic webhook notifications: an HTTP POST of the
// JSON envelope built by the engine. Non-2xx responses are failures.
type HTTPWebhook struct {
	Client  *http.Client
	Timeout time.Duration
	Log     logx.Logger
}

func (w *HTTPWebhook) SendWebhook(ctx context.Context, url string, payload []byte) error {
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return postJSON(ctx, client, timeout, url, payload)
}

func postJSON(ctx context.Context, client *http.Client, timeout time.Duration, url string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook endpoint returned %s", resp.Status)
	}
	return nil
}
