package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const (
	prettyIndent    = "    "
	defaultLogWidth = 100
	minLogWidth     = 40
)

type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
	color  bool
	mu     *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, colored bool) slog.Handler {
	h := &prettyHandler{
		w:     w,
		color: colored,
		mu:    &sync.Mutex{},
	}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	head := h.paint(ts.Format("15:04:05.000"), color.Faint) + " " +
		levelTag(r.Level, h.color) + " " +
		h.paint(r.Message, color.Bold)

	segments := []string{head}

	if h.opts.AddSource && r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		if frame.File != "" {
			segments = append(segments, "src="+h.paint(fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line), color.Faint))
		}
	}

	for _, a := range h.attrs {
		segments = h.appendAttr(segments, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		segments = h.appendAttr(segments, a, "")
		return true
	})

	out := strings.Join(wrapSegments(segments, " ", h.terminalWidth(), prettyIndent), "\n") + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, out)
	return err
}

// terminalWidth prefers LIGHTLINK_LOG_WIDTH, then COLUMNS. Values narrower
// than minLogWidth are ignored.
func (h *prettyHandler) terminalWidth() int {
	for _, key := range []string{"LIGHTLINK_LOG_WIDTH", "COLUMNS"} {
		if n := EnvInt(key, 0); n >= minLogWidth {
			return n
		}
	}
	return defaultLogWidth
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

func (h *prettyHandler) appendAttr(segments []string, a slog.Attr, parent string) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return segments
	}

	key := strings.TrimSpace(a.Key)
	if key == "" {
		return segments
	}

	fullKey := key
	if parent != "" {
		fullKey = parent + "." + key
	}
	if len(h.groups) > 0 && parent == "" {
		fullKey = strings.Join(h.groups, ".") + "." + fullKey
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			segments = h.appendAttr(segments, ga, fullKey)
		}
		return segments
	}

	return append(segments, remapPrettyKey(fullKey)+"="+h.prettyValue(fullKey, a.Value))
}

func (h *prettyHandler) prettyValue(key string, v slog.Value) string {
	switch strings.TrimSpace(key) {
	case "method":
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), h.color)
	case "path":
		return h.paint(strings.TrimSpace(v.String()), color.FgCyan)
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), h.color)
		}
	case "status_class", "class":
		return colorizeStatusClass(strings.TrimSpace(v.String()), h.color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, h.color)
		}
	case "result":
		return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), h.color)
	case "err":
		return h.paint(quoteIfNeeded(valueToString(v)), color.FgRed)
	}

	return quoteIfNeeded(valueToString(v))
}

func (h *prettyHandler) paint(s string, attrs ...color.Attribute) string {
	return paint(s, h.color, attrs...)
}

// paint renders s with attrs regardless of color.NoColor; the handler decides.
func paint(s string, on bool, attrs ...color.Attribute) string {
	if !on || s == "" {
		return s
	}
	c := color.New(attrs...)
	c.EnableColor()
	return c.Sprint(s)
}

func remapPrettyKey(k string) string {
	switch k {
	case "status_class":
		return "class"
	case "duration_ms":
		return "duration"
	default:
		return k
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		if v.Bool() {
			return "true"
		}
		return "false"
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func levelTag(level slog.Level, on bool) string {
	switch {
	case level >= slog.LevelError:
		return paint("[ERROR]", on, color.FgRed, color.Bold)
	case level >= slog.LevelWarn:
		return paint("[WARN]", on, color.FgYellow)
	case level < slog.LevelInfo:
		return paint("[DEBUG]", on, color.FgMagenta)
	default:
		return paint("[INFO]", on, color.FgBlue)
	}
}

func colorizeHTTPMethod(m string, on bool) string {
	switch m {
	case "GET":
		return paint(m, on, color.FgGreen)
	case "POST":
		return paint(m, on, color.FgYellow)
	case "PUT", "PATCH":
		return paint(m, on, color.FgBlue)
	case "DELETE":
		return paint(m, on, color.FgRed)
	default:
		return paint(m, on, color.FgMagenta)
	}
}

func colorizeStatusCode(code int, on bool) string {
	s := strconv.Itoa(code)
	switch {
	case code >= 500:
		return paint(s, on, color.FgRed, color.Bold)
	case code >= 400:
		return paint(s, on, color.FgYellow)
	case code >= 300:
		return paint(s, on, color.FgCyan)
	default:
		return paint(s, on, color.FgGreen)
	}
}

func colorizeStatusClass(class string, on bool) string {
	switch class {
	case "5xx":
		return paint(class, on, color.FgRed)
	case "4xx":
		return paint(class, on, color.FgYellow)
	case "3xx":
		return paint(class, on, color.FgCyan)
	default:
		return paint(class, on, color.FgGreen)
	}
}

func colorizeDurationMS(ms int64, on bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return paint(s, on, color.FgRed)
	case ms >= 250:
		return paint(s, on, color.FgYellow)
	default:
		return paint(s, on, color.Faint)
	}
}

func colorizeResult(result string, on bool) string {
	switch result {
	case "success", "ok":
		return paint(result, on, color.FgGreen)
	case "redirect":
		return paint(result, on, color.FgCyan)
	case "client_error", "rejected":
		return paint(result, on, color.FgYellow)
	case "server_error", "error":
		return paint(result, on, color.FgRed)
	default:
		return result
	}
}

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// stripANSI removes color escapes so widths measure visible characters.
func stripANSI(s string) string {
	return ansiRE.ReplaceAllString(s, "")
}

func visualLen(s string) int {
	return len([]rune(stripANSI(s)))
}

// truncate cuts s to at most n visible runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if visualLen(s) <= n {
		return s
	}
	if n <= 1 {
		return "…"
	}
	r := []rune(stripANSI(s))
	return string(r[:n-1]) + "…"
}

// wrapSegments joins segments with sep into lines no wider than width.
// Continuation lines start with indent. A segment that cannot fit on a line
// of its own is truncated. width <= 0 keeps everything on one line.
func wrapSegments(segments []string, sep string, width int, indent string) []string {
	if len(segments) == 0 {
		return nil
	}
	if width <= 0 {
		return []string{strings.Join(segments, sep)}
	}

	var (
		lines []string
		cur   strings.Builder
		curW  int
	)
	for i, seg := range segments {
		switch {
		case i == 0:
			seg = truncate(seg, width)
			cur.WriteString(seg)
			curW = visualLen(seg)
		case curW+len(sep)+visualLen(seg) > width:
			lines = append(lines, cur.String())
			cur.Reset()
			seg = truncate(seg, width-len(indent))
			cur.WriteString(indent)
			cur.WriteString(seg)
			curW = len(indent) + visualLen(seg)
		default:
			cur.WriteString(sep)
			cur.WriteString(seg)
			curW += len(sep) + visualLen(seg)
		}
	}
	return append(lines, cur.String())
}
