package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value returns the sample of the named family whose labels match.
func value(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func TestCollectors(t *testing.T) {
	t.Parallel()
	m := New()

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	assert.Equal(t, 1.0, value(t, m, "lightlink_sessions", nil))

	m.Command("send_dm", ResultOK)
	m.Command("send_dm", ResultOK)
	m.Command("login", ResultRejected)
	assert.Equal(t, 2.0, value(t, m, "lightlink_commands_total", map[string]string{"type": "send_dm", "result": ResultOK}))
	assert.Equal(t, 1.0, value(t, m, "lightlink_commands_total", map[string]string{"type": "login", "result": ResultRejected}))

	m.SnapshotSaved(nil)
	m.SnapshotSaved(errors.New("disk full"))
	assert.Equal(t, 1.0, value(t, m, "lightlink_snapshot_saves_total", map[string]string{"result": ResultError}))

	m.Pruned(3)
	m.Pruned(0)
	assert.Equal(t, 3.0, value(t, m, "lightlink_retention_pruned_messages_total", nil))

	m.PushResult("gone")
	m.ExternalFailure("webhook")
	assert.Equal(t, 1.0, value(t, m, "lightlink_push_deliveries_total", map[string]string{"outcome": "gone"}))
	assert.Equal(t, 1.0, value(t, m, "lightlink_external_failures_total", map[string]string{"kind": "webhook"}))
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.SessionOpened()
	m.Command("x", ResultOK)
	m.SnapshotSaved(nil)
	m.Pruned(1)
	assert.Nil(t, m.Registry())
}

func TestHandler(t *testing.T) {
	t.Parallel()
	m := New()
	m.Command("hello", ResultOK)

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `lightlink_commands_total{result="ok",type="hello"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
