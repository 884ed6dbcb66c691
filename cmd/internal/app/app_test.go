package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightlink/cmd/internal/store"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://lightlink.example.com", want: "wss://lightlink.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Backend = BackendMemory
	cfg.AdminSecret = "app-test-secret"

	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func get(t *testing.T, base, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(base + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func post(t *testing.T, base, path, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(base+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestApp_HTTPSurface(t *testing.T) {
	a := newTestApp(t)
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	code, body := get(t, ts.URL, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)

	code, _ = get(t, ts.URL, "/readyz")
	assert.Equal(t, http.StatusOK, code)

	code, body = get(t, ts.URL, "/api/announcements")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"announcements":[]}`, body)

	code, body = get(t, ts.URL, "/api/check-ban")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"banned":false}`, body)

	code, _ = get(t, ts.URL, "/api/check-warning")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = get(t, ts.URL, "/api/check-warning?username=alice")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"warning":false}`, body)

	code, _ = get(t, ts.URL, "/api/vapid-public-key")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = post(t, ts.URL, "/api/feedback", `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = post(t, ts.URL, "/api/feedback", `{"message":"love it"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = post(t, ts.URL, "/api/push-subscribe", `{"username":"alice","subscription":{"endpoint":""}}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = post(t, ts.URL, "/api/push-subscribe", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = get(t, ts.URL, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "lightlink_sessions")
}

func TestApp_CheckWarningPullsOnce(t *testing.T) {
	a := newTestApp(t)
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	require.NoError(t, a.store.Write(context.Background(), func(st *store.State) error {
		st.EnsureIdentity("alice", a.store.Now())
		st.Warnings["alice"] = &store.Warning{Message: "be nice", At: a.store.Now()}
		return nil
	}))

	code, body := get(t, ts.URL, "/api/check-warning?username=alice")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"warning":true,"message":"be nice"}`, body)

	_, body = get(t, ts.URL, "/api/check-warning?username=alice")
	assert.JSONEq(t, `{"warning":false}`, body)
}

func TestApp_FeedbackRelayed(t *testing.T) {
	var got struct {
		Content string `json:"content"`
	}
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	cfg := DefaultConfig()
	cfg.Backend = BackendMemory
	cfg.WebhookURL = hook.URL
	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer func() { _ = a.Close(context.Background()) }()

	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	code, _ := post(t, ts.URL, "/api/feedback", `{"message":"great app","contact":"me@example.com"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, got.Content, "great app")
	assert.Contains(t, got.Content, "Contact: me@example.com")
}
