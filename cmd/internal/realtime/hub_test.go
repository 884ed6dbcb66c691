package realtime

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "lightlink/contracts/realtime/v1"
)

func testEnvelope(typ string) v1.Envelope {
	return newEnvelope(typ, nil, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func drain(c *Client) []string {
	var types []string
	for {
		select {
		case env := <-c.Send:
			types = append(types, env.Type)
		default:
			return types
		}
	}
}

func TestHub_BindRebindAndUnregister(t *testing.T) {
	h := NewHub(nil)
	a1 := NewClient("s1", "10.0.0.1", 8)
	a2 := NewClient("s2", "10.0.0.2", 8)
	h.Register(a1)
	h.Register(a2)
	require.Equal(t, 2, h.Len())

	prev, gone := h.Bind(a1, "alice")
	assert.Equal(t, "", prev)
	assert.False(t, gone)
	h.Bind(a2, "alice")
	assert.True(t, h.Online("alice"))
	assert.Len(t, h.Clients("alice"), 2)

	prev, gone = h.Bind(a2, "bob")
	assert.Equal(t, "alice", prev)
	assert.False(t, gone, "alice still has s1")

	h.SendTo("alice", testEnvelope(v1.TypeSystem))
	assert.Equal(t, []string{v1.TypeSystem}, drain(a1))
	assert.Empty(t, drain(a2))

	name, last := h.Unregister(a1)
	assert.Equal(t, "alice", name)
	assert.True(t, last)
	assert.False(t, h.Online("alice"))

	name, last = h.Unregister(a2)
	assert.Equal(t, "bob", name)
	assert.True(t, last)
	assert.Equal(t, 0, h.Len())
}

func TestHub_RenameMovesSessions(t *testing.T) {
	h := NewHub(nil)
	c := NewClient("s1", "", 8)
	h.Register(c)
	h.Bind(c, "old")

	h.Rename("old", "new")
	assert.False(t, h.Online("old"))
	assert.True(t, h.Online("new"))
	assert.Equal(t, "new", c.Name())

	h.SendTo("new", testEnvelope(v1.TypeInit))
	assert.Equal(t, []string{v1.TypeInit}, drain(c))
}

func TestHub_SendAllReachesUnboundSessions(t *testing.T) {
	h := NewHub(nil)
	bound := NewClient("s1", "", 8)
	guest := NewClient("s2", "", 8)
	h.Register(bound)
	h.Register(guest)
	h.Bind(bound, "alice")

	h.SendAll(testEnvelope(v1.TypeSystem))
	assert.Len(t, drain(bound), 1)
	assert.Len(t, drain(guest), 1)

	sessions := h.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "s1", sessions[0].Session)
	assert.Equal(t, "alice", sessions[0].Name)
	assert.Equal(t, "", sessions[1].Name)
}

func TestClient_OfferDropsWhenFullOrClosed(t *testing.T) {
	c := NewClient("s1", "", 1)
	for i := 0; i < cap(c.Send); i++ {
		require.True(t, c.offer(testEnvelope(v1.TypeSystem)))
	}
	assert.False(t, c.offer(testEnvelope(v1.TypeSystem)))

	drain(c)
	c.Close()
	c.Close()
	assert.False(t, c.offer(testEnvelope(v1.TypeSystem)))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	r.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")

	assert.Equal(t, "192.0.2.10", ClientIP(r, false))
	assert.Equal(t, "203.0.113.7", ClientIP(r, true))

	r.Header.Set("X-Real-Ip", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", ClientIP(r, true))

	r.Header.Set("Cf-Connecting-Ip", "198.51.100.9")
	assert.Equal(t, "198.51.100.9", ClientIP(r, true))
}

func TestRouter_CoversEveryCommand(t *testing.T) {
	r := NewRouter(Services{})
	for typ := range v1.Commands {
		if typ == v1.TypeHello {
			assert.False(t, r.Handles(typ))
			continue
		}
		assert.True(t, r.Handles(typ), typ)
	}
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, 10*time.Second)

	for i := range 3 {
		require.True(t, rl.Allow(t0.Add(time.Duration(i)*time.Second)), "event %d", i)
	}
	assert.False(t, rl.Allow(t0.Add(5*time.Second)), "limit reached inside the window")

	// The first event (t0) leaves the window at t0+10s.
	assert.True(t, rl.Allow(t0.Add(10*time.Second)))
	assert.False(t, rl.Allow(t0.Add(10*time.Second)), "t0+1s is still inside the window")
	assert.True(t, rl.Allow(t0.Add(11*time.Second)))
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Len(t, rl.ring, rateLimitEvents)
	assert.Equal(t, rateLimitWindow, rl.window)
}
