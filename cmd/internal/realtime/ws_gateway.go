package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"lightlink/cmd/identity"
	"lightlink/cmd/internal/metrics"
	"lightlink/cmd/internal/outbox"
	v1 "lightlink/contracts/realtime/v1"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Browser clients are served from arbitrary hosts, so origins are not
	// required by default; an allowlist tightens that.
	wsDefaultOriginRequired = false

	defaultKickReason = "Banned."
)

// GatewayConfig tunes the websocket gateway.
type GatewayConfig struct {
	DevInsecure    bool
	OriginRequired bool
	// AllowedOrigins is the origin allowlist. Empty accepts any origin.
	AllowedOrigins []string
	TrustProxy     bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// GatewayConfigFromEnv reads LIGHTLINK_WS_* over the defaults.
func GatewayConfigFromEnv() GatewayConfig {
	return GatewayConfig{
		// NOTE: InsecureSkipVerify is a dev-only knob. It disables the origin check in Accept.
		DevInsecure:    envBoolWS("LIGHTLINK_WS_DEV_INSECURE", false),
		OriginRequired: envBoolWS("LIGHTLINK_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired),
		AllowedOrigins: envCSVWS("LIGHTLINK_WS_ALLOWED_ORIGINS", ""),
		TrustProxy:     envBoolWS("LIGHTLINK_TRUST_PROXY", true),

		WriteTimeout:    envDurationWS("LIGHTLINK_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout),
		ReadIdleTimeout: envDurationWS("LIGHTLINK_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle),
		SendQueueSize:   envIntWS("LIGHTLINK_WS_SEND_QUEUE", wsDefaultSendQueueSize),

		HeartbeatEvery:   envDurationWS("LIGHTLINK_WS_HEARTBEAT_INTERVAL", heartbeatInterval),
		HeartbeatTimeout: envDurationWS("LIGHTLINK_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout),

		RateEvents: envIntWS("LIGHTLINK_WS_RATE_EVENTS", rateLimitEvents),
		RateWindow: envDurationWS("LIGHTLINK_WS_RATE_WINDOW", rateLimitWindow),
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = wsDefaultWriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = wsDefaultReadIdle
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = wsDefaultSendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	return c
}

// WSGateway is the WebSocket entrypoint for Lightlink realtime.
//
// It enforces origin policy, subprotocol selection, rate limits and heartbeats,
// binds each session to an identity on hello, routes validated envelopes to
// the managers and delivers their outcomes.
type WSGateway struct {
	log    *slog.Logger
	hub    *Hub
	svc    Services
	router *Router
	cfg    GatewayConfig

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	now func() time.Time
}

// NewWSGateway constructs a gateway. A nil hub gets a fresh one.
func NewWSGateway(log *slog.Logger, hub *Hub, svc Services, cfg GatewayConfig) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	cfg = cfg.withDefaults()

	g := &WSGateway{
		log:    log,
		hub:    hub,
		svc:    svc,
		router: NewRouter(svc),
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins)
	return g
}

// Hub returns the session hub.
func (g *WSGateway) Hub() *Hub { return g.hub }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	originPatterns := g.originPatterns
	if len(g.cfg.AllowedOrigins) == 0 {
		originPatterns = []string{"*"}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(g.now())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	addr := ClientIP(r, g.cfg.TrustProxy)
	client := NewClient(sessionID, addr, g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Broadcast safety: client.Send remains open and hub removal happens before client.Close.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.disconnect(client)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	g.hub.Register(client)
	g.svc.Metrics.SessionOpened()
	defer g.svc.Metrics.SessionClosed()
	g.log.Info("ws.open", "session_id", sessionID, "addr", addr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
				if env.Type == v1.TypeForceDisconnect {
					shutdown(websocket.StatusPolicyViolation, "disconnected")
					return
				}
			}
		}
	}()

	if g.rejectBanned(ctx, client) {
		select {
		case <-writerDone:
		case <-time.After(g.cfg.WriteTimeout):
			shutdown(websocket.StatusPolicyViolation, "banned")
		}
		return
	}

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(g.now()) {
			g.trySendError(client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(client, "bad_envelope", err.Error())
			continue readLoop
		}

		if env.Type == v1.TypeHello {
			if err := g.onHello(ctx, client, env); err != nil {
				g.trySendError(client, "hello_failed", err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}
			continue readLoop
		}

		if client.Name() == "" {
			g.trySendError(client, "hello_required", "send hello first")
			continue readLoop
		}
		g.dispatch(ctx, client, env)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

// rejectBanned sends force_disconnect to a session from a banned address.
func (g *WSGateway) rejectBanned(ctx context.Context, client *Client) bool {
	if g.svc.Moderation == nil {
		return false
	}
	ban, banned, err := g.svc.Moderation.CheckBan(ctx, client.Addr)
	if err != nil {
		g.log.Warn("ws.ban_check.fail", "session_id", client.SessionID, "err", err)
		return false
	}
	if !banned {
		return false
	}
	reason := ban.Reason
	if reason == "" {
		reason = defaultKickReason
	}
	g.log.Info("ws.reject.banned", "session_id", client.SessionID, "addr", client.Addr)
	g.send(client, v1.TypeForceDisconnect, v1.ForceDisconnectPayload{Reason: reason})
	return true
}

func (g *WSGateway) onHello(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.HelloPayload
	if err := env.Decode(&p); err != nil {
		return err
	}

	name, out, err := g.svc.Accounts.Resolve(ctx, p)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}
	out.Bind = name

	g.send(client, v1.TypeHelloAck, v1.HelloAckPayload{SessionID: client.SessionID, Username: name})
	g.deliver(client, out)
	g.send(client, v1.TypeInit, g.svc.Accounts.Init(name))

	list, err := g.svc.Notifications.List(ctx, client.Caller())
	if err != nil {
		return fmt.Errorf("notifications: %w", err)
	}
	g.deliver(client, list)

	g.log.Info("ws.hello", "session_id", client.SessionID, "identity", name)
	g.svc.Metrics.Command(v1.TypeHello, metrics.ResultOK)
	return nil
}

// dispatch runs one command and maps its error to the client reply.
func (g *WSGateway) dispatch(ctx context.Context, client *Client, env v1.Envelope) {
	caller := client.Caller()
	out, err := g.router.Handle(ctx, caller, env)
	if err == nil {
		g.svc.Metrics.Command(env.Type, metrics.ResultOK)
		g.deliver(client, out)
		return
	}

	switch {
	case errors.Is(err, context.Canceled):
		return
	case errors.Is(err, errBadPayload):
		g.svc.Metrics.Command(env.Type, metrics.ResultRejected)
		g.trySendError(client, "bad_payload", err.Error())
	case errors.Is(err, errUnsupported):
		g.svc.Metrics.Command(env.Type, metrics.ResultRejected)
		g.trySendError(client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
	case identity.IsUnauthenticated(err):
		g.svc.Metrics.Command(env.Type, metrics.ResultRejected)
		if msg := identity.PublicMessage(err); msg != "" {
			g.send(client, v1.TypeAuthError, v1.AuthErrorPayload{Msg: msg})
		}
	case isDomainErr(err):
		g.svc.Metrics.Command(env.Type, metrics.ResultRejected)
		if msg := identity.PublicMessage(err); msg != "" {
			g.send(client, v1.TypeSystem, v1.SystemPayload{Msg: msg})
		}
		g.log.Debug("ws.command.rejected", "session_id", client.SessionID, "type", env.Type, "err", err)
	default:
		g.svc.Metrics.Command(env.Type, metrics.ResultError)
		g.log.Error("ws.command.fail", "session_id", client.SessionID, "identity", caller.Name, "type", env.Type, "err", err)
		g.trySendError(client, "internal", "internal error")
	}
}

func isDomainErr(err error) bool {
	return identity.IsInvalidInput(err) || identity.IsForbidden(err) ||
		identity.IsNotFound(err) || identity.IsConflict(err)
}

// disconnect unregisters client. When it was the identity's last session the
// identity leaves every call.
func (g *WSGateway) disconnect(client *Client) {
	name, last := g.hub.Unregister(client)
	g.log.Info("ws.close", "session_id", client.SessionID, "identity", name)
	if last && name != "" && g.svc.Calls != nil {
		g.deliver(nil, g.svc.Calls.DisconnectNow(name))
	}
}

// ---- outcome delivery ----

// deliver applies an outcome: rebinding, renames, events, init refreshes,
// broadcasts and kicks, in that order. Pushes, emails and relays go to the
// dispatcher. origin may be nil when no session originated the outcome.
func (g *WSGateway) deliver(origin *Client, out outbox.Outcome) {
	if out.Empty() {
		return
	}

	if out.Bind != "" && origin != nil {
		prev, prevGone := g.hub.Bind(origin, out.Bind)
		if prevGone && prev != "" && g.svc.Calls != nil {
			g.deliver(nil, g.svc.Calls.DisconnectNow(prev))
		}
	}
	for _, rn := range out.Renames {
		g.hub.Rename(rn.From, rn.To)
	}

	for _, e := range out.Events {
		env, ok := g.envelope(e.Type, e.Payload)
		if !ok {
			continue
		}
		if e.To == "" {
			if origin != nil && !origin.offer(env) {
				g.log.Debug("ws.drop", "session_id", origin.SessionID, "type", e.Type)
			}
			continue
		}
		g.hub.SendTo(e.To, env)
	}

	for _, name := range out.Refresh {
		if env, ok := g.envelope(v1.TypeInit, g.svc.Accounts.Init(name)); ok {
			g.hub.SendTo(name, env)
		}
	}

	for _, e := range out.Broadcast {
		if env, ok := g.envelope(e.Type, e.Payload); ok {
			g.hub.SendAll(env)
		}
	}

	for _, k := range out.Kicks {
		g.kick(k)
	}

	if g.svc.Dispatcher != nil {
		g.svc.Dispatcher.Dispatch(out)
	}
}

// kick sends force_disconnect to every session of the identity. The writer
// closes the connection after flushing it; a session whose queue is full is
// closed right away.
func (g *WSGateway) kick(k outbox.Kick) {
	reason := k.Reason
	if reason == "" {
		reason = defaultKickReason
	}
	env, ok := g.envelope(v1.TypeForceDisconnect, v1.ForceDisconnectPayload{Reason: reason})
	if !ok {
		return
	}
	for _, c := range g.hub.Clients(k.Identity) {
		if !c.offer(env) {
			c.Close()
		}
		g.log.Info("ws.kick", "session_id", c.SessionID, "identity", k.Identity)
	}
}

// ---- send helpers ----

func (g *WSGateway) envelope(typ string, payload any) (v1.Envelope, bool) {
	raw, err := outbox.EncodePayload(payload)
	if err != nil {
		g.log.Error("ws.encode.fail", "type", typ, "err", err)
		return v1.Envelope{}, false
	}
	return newEnvelope(typ, raw, g.now()), true
}

func (g *WSGateway) send(client *Client, typ string, payload any) {
	if env, ok := g.envelope(typ, payload); ok {
		client.offer(env)
	}
}

func (g *WSGateway) trySendError(client *Client, code, msg string) {
	g.send(client, v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewEnvelopeID(ts),
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return nil
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return []string{"*"}
		}
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
