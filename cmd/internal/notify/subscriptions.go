package notify

import (
	"encoding/base64"
	"errors"
	"net/url"
	"slices"
	"strings"
	"time"

	"lightlink/cmd/internal/store"
)

// EndpointKey encodes a push endpoint as a compact, URL-safe dedupe key.
func EndpointKey(endpoint string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strings.TrimSpace(endpoint)))
}

// ParseEndpointKey decodes a key produced by EndpointKey.
func ParseEndpointKey(key string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", errors.New("notify: malformed endpoint key")
	}
	if len(raw) == 0 {
		return "", errors.New("notify: empty endpoint key")
	}
	return string(raw), nil
}

// ValidateSubscription checks the fields a transport needs.
func ValidateSubscription(sub store.PushSubscription) error {
	u, err := url.Parse(strings.TrimSpace(sub.Endpoint))
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return errors.New("notify: endpoint must be an https URL")
	}
	if strings.TrimSpace(sub.Keys.P256dh) == "" || strings.TrimSpace(sub.Keys.Auth) == "" {
		return errors.New("notify: missing subscription keys")
	}
	return nil
}

// Subscribe records sub for name unless an endpoint with the same key exists.
// It reports whether the list changed. Must be called under the store lock.
func Subscribe(st *store.State, name string, sub store.PushSubscription, now time.Time) bool {
	key := EndpointKey(sub.Endpoint)
	for _, have := range st.PushSubs[name] {
		if EndpointKey(have.Endpoint) == key {
			return false
		}
	}
	sub.Endpoint = strings.TrimSpace(sub.Endpoint)
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	st.PushSubs[name] = append(st.PushSubs[name], sub)
	return true
}

// Prune drops name's subscriptions whose endpoint key is in gone and returns how many went.
func Prune(st *store.State, name string, gone []string) int {
	list, ok := st.PushSubs[name]
	if !ok || len(gone) == 0 {
		return 0
	}
	before := len(list)
	list = slices.DeleteFunc(list, func(s store.PushSubscription) bool {
		return slices.Contains(gone, EndpointKey(s.Endpoint))
	})
	if len(list) == 0 {
		delete(st.PushSubs, name)
	} else {
		st.PushSubs[name] = list
	}
	return before - len(list)
}
