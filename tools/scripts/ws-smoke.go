// Package main provides a CI-friendly WebSocket smoke test for Lightlink realtime.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack binding of two named identities
//   - send_dm fanout to sender and peer
//   - dm_history fetch
//   - mark_read -> receipt_update
//   - group creation and group_msg fanout
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "lightlink/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		prefix  = flag.String("prefix", "smoke", "Username prefix for the two test identities")
		text    = flag.String("text", "hello lightlink 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	suffix := time.Now().UnixNano() % 1_000_000

	a := mustConnect(root, fmt.Sprintf("%s_a%d", *prefix, suffix), *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, fmt.Sprintf("%s_b%d", *prefix, suffix), *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: %s=%s %s=%s origin=%q\n", a.name, a.sessionID, b.name, b.sessionID, *origin)
	}

	key, msgID := mustSendDM(root, a, b, *text, *timeout)
	mustHistoryContains(root, b, a.name, key, msgID, *text, *timeout)
	mustMarkRead(root, b, a, key, *timeout)

	groupID := mustCreateGroup(root, a, b, *timeout)
	mustGroupMessage(root, a, b, groupID, *text, *timeout)

	fmt.Printf("OK: %s=%s %s=%s dm_key=%s msg_id=%s group_id=%s\n", a.name, a.sessionID, b.name, b.sessionID, key, msgID, groupID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	c.mustSend(parent, v1.TypeHello, v1.HelloPayload{Username: name}, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)

	var p v1.HelloAckPayload
	mustDecode(ack, &p, name)
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing session_id (%s)", name)
	}
	if p.Username != name {
		fatalf("hello_ack bound %q, want %q", p.Username, name)
	}
	c.sessionID = p.SessionID

	c.mustReadUntilType(parent, v1.TypeInit, stepTimeout)
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if env.V != v1.Version || strings.TrimSpace(env.Type) == "" {
				c.fail(fmt.Errorf("bad envelope: v=%q type=%q", env.V, env.Type))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func mustSendDM(parent context.Context, from, to *smokeClient, text string, stepTimeout time.Duration) (key, msgID string) {
	from.mustSend(parent, v1.TypeSendDM, v1.SendDMPayload{Target: to.name, Text: text}, stepTimeout)

	var echo v1.DMPayload
	mustDecode(from.mustReadUntilType(parent, v1.TypeDM, stepTimeout), &echo, from.name)

	var got v1.DMPayload
	mustDecode(to.mustReadUntilType(parent, v1.TypeDM, stepTimeout), &got, to.name)

	if got.Key != echo.Key || got.Entry.ID != echo.Entry.ID {
		fatalf("dm mismatch: sender=%s/%s peer=%s/%s", echo.Key, echo.Entry.ID, got.Key, got.Entry.ID)
	}
	if got.Entry.From != from.name {
		fatalf("dm from mismatch: got=%q want=%q", got.Entry.From, from.name)
	}
	if got.Entry.Text != text {
		fatalf("dm text mismatch: got=%q want=%q", got.Entry.Text, text)
	}
	if got.Entry.Status != "sent" {
		fatalf("dm status mismatch: got=%q want=%q", got.Entry.Status, "sent")
	}
	return got.Key, got.Entry.ID
}

func mustHistoryContains(parent context.Context, c *smokeClient, peer, key, msgID, text string, stepTimeout time.Duration) {
	c.mustSend(parent, v1.TypeGetDM, v1.TargetPayload{Target: peer}, stepTimeout)

	var p v1.DMHistoryPayload
	mustDecode(c.mustReadUntilType(parent, v1.TypeDMHistory, stepTimeout), &p, c.name)

	if p.Key != key {
		fatalf("dm_history key mismatch: got=%q want=%q", p.Key, key)
	}
	for _, m := range p.History {
		if m.ID == msgID {
			if m.Text != text {
				fatalf("dm_history text mismatch: got=%q want=%q", m.Text, text)
			}
			return
		}
	}
	fatalf("dm_history missing message %s (%d entries)", msgID, len(p.History))
}

func mustMarkRead(parent context.Context, reader, sender *smokeClient, key string, stepTimeout time.Duration) {
	reader.mustSend(parent, v1.TypeMarkRead, v1.TargetPayload{Target: sender.name}, stepTimeout)

	var p v1.ReceiptUpdatePayload
	mustDecode(sender.mustReadUntilType(parent, v1.TypeReceiptUpdate, stepTimeout), &p, sender.name)

	if p.Key != key || p.Type != "read" || p.By != reader.name {
		fatalf("receipt_update mismatch: key=%q type=%q by=%q", p.Key, p.Type, p.By)
	}
}

func mustCreateGroup(parent context.Context, owner, member *smokeClient, stepTimeout time.Duration) string {
	owner.mustSend(parent, v1.TypeCreateGroup, v1.CreateGroupPayload{
		Label:   "smoke",
		Members: []string{member.name},
	}, stepTimeout)

	var mine, theirs v1.Group
	mustDecode(owner.mustReadUntilType(parent, v1.TypeGroupCreated, stepTimeout), &mine, owner.name)
	mustDecode(member.mustReadUntilType(parent, v1.TypeGroupCreated, stepTimeout), &theirs, member.name)

	if mine.ID == "" || mine.ID != theirs.ID {
		fatalf("group_created mismatch: owner=%q member=%q", mine.ID, theirs.ID)
	}
	return mine.ID
}

func mustGroupMessage(parent context.Context, from, to *smokeClient, groupID, text string, stepTimeout time.Duration) {
	from.mustSend(parent, v1.TypeSendGroup, v1.SendGroupPayload{GroupID: groupID, Text: text}, stepTimeout)

	var p v1.GroupMsgPayload
	mustDecode(to.mustReadUntilType(parent, v1.TypeGroupMsg, stepTimeout), &p, to.name)

	if p.GroupID != groupID || p.Entry.From != from.name || p.Entry.Text != text {
		fatalf("group_msg mismatch: group=%q from=%q text=%q", p.GroupID, p.Entry.From, p.Entry.Text)
	}
}

// mustReadUntilType skips unrelated events such as notifications and system
// notices, and fails fast on protocol errors.
func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			switch env.Type {
			case wantType:
				return env
			case v1.TypeError:
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			case v1.TypeForceDisconnect:
				var fp v1.ForceDisconnectPayload
				_ = json.Unmarshal(env.Payload, &fp)
				fatalf("disconnected (%s) while waiting for %q: %s", c.name, wantType, fp.Reason)
			}
		}
	}
}

func (c *smokeClient) mustSend(parent context.Context, typ string, payload any, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      fmt.Sprintf("%s-%s-%d", c.name, typ, time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustDecode(env v1.Envelope, dst any, who string) {
	if err := env.Decode(dst); err != nil {
		fatalf("decode %s payload (%s): %v", env.Type, who, err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
