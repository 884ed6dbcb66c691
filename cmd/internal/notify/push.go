package notify

import (
	"context"
	"crypto/ecdh"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"lightlink/cmd/internal/store"
)

// PushOutcome is the per-endpoint result of a push attempt.
type PushOutcome int

const (
	PushDelivered PushOutcome = iota
	PushGone
	PushFailed
)

func (o PushOutcome) String() string {
	switch o {
	case PushDelivered:
		return "delivered"
	case PushGone:
		return "gone"
	default:
		return "failed"
	}
}

// PushTransport delivers one payload to one endpoint.
type PushTransport interface {
	Deliver(ctx context.Context, sub store.PushSubscription, payload []byte) (PushOutcome, error)
}

// VAPIDConfig holds the application server keys used to sign push requests.
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
	TTL        int
}

// Enabled reports whether both keys are configured.
func (c VAPIDConfig) Enabled() bool {
	return strings.TrimSpace(c.PublicKey) != "" && strings.TrimSpace(c.PrivateKey) != ""
}

// WebPush is a PushTransport speaking Web Push with VAPID.
type WebPush struct {
	opts webpush.Options
}

// NewWebPush validates the key pair and returns a transport.
func NewWebPush(cfg VAPIDConfig, client *http.Client) (*WebPush, error) {
	if err := CheckVAPIDKeys(cfg.PublicKey, cfg.PrivateKey); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 60 * 60 * 24
	}
	subject := strings.TrimPrefix(strings.TrimSpace(cfg.Subject), "mailto:")
	if subject == "" {
		subject = "admin@lightlink.space"
	}
	return &WebPush{opts: webpush.Options{
		HTTPClient:      client,
		Subscriber:      subject,
		VAPIDPublicKey:  cfg.PublicKey,
		VAPIDPrivateKey: cfg.PrivateKey,
		TTL:             ttl,
		Urgency:         webpush.UrgencyNormal,
	}}, nil
}

// Deliver sends payload. 404 and 410 responses report the endpoint as gone.
func (w *WebPush) Deliver(ctx context.Context, sub store.PushSubscription, payload []byte) (PushOutcome, error) {
	opts := w.opts
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}, &opts)
	if err != nil {
		return PushFailed, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return PushGone, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return PushDelivered, nil
	default:
		return PushFailed, fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
}

// GenerateVAPIDKeys returns a fresh (public, private) key pair, base64url encoded.
func GenerateVAPIDKeys() (string, string, error) {
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", err
	}
	return pub, priv, nil
}

// CheckVAPIDKeys validates that the keys decode to a matching P-256 pair.
func CheckVAPIDKeys(publicKey, privateKey string) error {
	publicKey = strings.TrimSpace(publicKey)
	privateKey = strings.TrimSpace(privateKey)
	if publicKey == "" || privateKey == "" {
		return errors.New("notify: VAPID keys are not configured")
	}

	pubRaw, err := decodeB64URL(publicKey)
	if err != nil {
		return fmt.Errorf("notify: VAPID public key: %w", err)
	}
	privRaw, err := decodeB64URL(privateKey)
	if err != nil {
		return fmt.Errorf("notify: VAPID private key: %w", err)
	}

	if len(privRaw) < 32 {
		privRaw = append(make([]byte, 32-len(privRaw)), privRaw...)
	}
	priv, err := ecdh.P256().NewPrivateKey(privRaw)
	if err != nil {
		return fmt.Errorf("notify: VAPID private key: %w", err)
	}
	pub, err := ecdh.P256().NewPublicKey(pubRaw)
	if err != nil {
		return fmt.Errorf("notify: VAPID public key: %w", err)
	}
	if !priv.PublicKey().Equal(pub) {
		return errors.New("notify: VAPID public key does not match private key")
	}
	return nil
}

func decodeB64URL(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}
