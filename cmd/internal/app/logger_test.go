package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: " warn ", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewHandler_JSONByDefault(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, "info", "", false))
	log.Debug("hidden")
	log.Info("store.save.ok", "bytes", 42)

	line := strings.TrimSpace(buf.String())
	if strings.Contains(line, "hidden") {
		t.Fatalf("debug record leaked at info level: %q", line)
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", line, err)
	}
	if rec["msg"] != "store.save.ok" || rec["bytes"] != float64(42) {
		t.Fatalf("unexpected record: %v", rec)
	}
	if _, ok := rec["source"]; !ok {
		t.Fatalf("records must carry source: %v", rec)
	}
}

func TestNewHandler_PrettyFormats(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"pretty", "TEXT", " console "} {
		var buf bytes.Buffer
		log := slog.New(newHandler(&buf, "debug", format, false))
		log.Debug("hub.bind", "identity", "alice")

		out := buf.String()
		if strings.HasPrefix(strings.TrimSpace(out), "{") {
			t.Fatalf("format %q produced JSON: %q", format, out)
		}
		if !strings.Contains(out, "hub.bind") || !strings.Contains(out, "alice") {
			t.Fatalf("format %q lost fields: %q", format, out)
		}
	}
}
