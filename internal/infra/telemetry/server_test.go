package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"breakout_go/internal/engine"
	"breakout_go/internal/infra"
	"breakout_go/internal/service"
	"breakout_go/internal/strategy"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *Hub, *service.StateService, *infra.Metrics) {
	t.Helper()
	m := &infra.Metrics{}
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	hub := NewHub()
	states := service.NewStateService()
	srv := NewServer("127.0.0.1:0", hub, states, m, reg)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, hub, states, m
}

func get(t *testing.T, url string) (int, string, http.Header) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body), resp.Header
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts, _, _, m := newTestServer(t)
	m.RecordCycle(time.Millisecond)
	m.SetLookback(22)

	code, body, hdr := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, hdr.Get("X-Request-ID"))

	var health map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["cycles"])

	code, body, _ = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "breakout_cycles_total 1")
	assert.Contains(t, body, "breakout_lookback 22")
}

func TestServer_State(t *testing.T) {
	ts, _, states, _ := newTestServer(t)

	st := engine.NewState("TSLA", strategy.DefaultParams())
	st.Cycles = 4
	states.UpdateState(st)

	code, body, _ := get(t, ts.URL+"/state")
	assert.Equal(t, http.StatusOK, code)
	var all []service.Snapshot
	require.NoError(t, json.Unmarshal([]byte(body), &all))
	require.Len(t, all, 1)
	assert.Equal(t, uint64(4), all[0].Cycles)

	code, body, _ = get(t, ts.URL+"/state/TSLA")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"lookback":20`)

	code, _, _ = get(t, ts.URL+"/state/AAPL")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHub_BroadcastsToClients(t *testing.T) {
	ts, hub, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	HubSink{Hub: hub}.Emit("Data Chart", "Stop Price", decimal.RequireFromString("105.6"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string      `json:"type"`
		Data SeriesPoint `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "series", msg.Type)
	assert.Equal(t, "Stop Price", msg.Data.Label)
	assert.True(t, msg.Data.Value.Equal(decimal.RequireFromString("105.6")))
}
