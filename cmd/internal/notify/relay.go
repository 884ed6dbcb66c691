package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lightlink/cmd/internal/outbox"
)

// ErrRelayDisabled is returned when no webhook URL is configured.
var ErrRelayDisabled = errors.New("notify: webhook relay disabled")

// Relay posts to the moderation webhook.
type Relay interface {
	Post(ctx context.Context, embed outbox.Relay) error
	PostText(ctx context.Context, content string) error
}

// WebhookRelay posts Discord-style JSON payloads.
type WebhookRelay struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookRelay returns a relay for url. An empty url yields a relay that
// always returns ErrRelayDisabled.
func NewWebhookRelay(url string, client *http.Client) *WebhookRelay {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookRelay{
		url:    strings.TrimSpace(url),
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether a webhook URL is configured.
func (r *WebhookRelay) Enabled() bool { return r != nil && r.url != "" }

type webhookEmbed struct {
	outbox.Relay
	Timestamp string `json:"timestamp"`
}

func (r *WebhookRelay) Post(ctx context.Context, embed outbox.Relay) error {
	return r.post(ctx, map[string]any{
		"embeds": []webhookEmbed{{Relay: embed, Timestamp: r.stamp(embed.Timestamp)}},
	})
}

func (r *WebhookRelay) stamp(at time.Time) string {
	if at.IsZero() {
		at = r.now()
	}
	return at.UTC().Format(time.RFC3339)
}

func (r *WebhookRelay) PostText(ctx context.Context, content string) error {
	return r.post(ctx, map[string]any{"content": content})
}

func (r *WebhookRelay) post(ctx context.Context, body any) error {
	if !r.Enabled() {
		return ErrRelayDisabled
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
