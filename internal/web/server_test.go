package web

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/overtemp/internal/logic"
	"github.com/sweeney/overtemp/internal/metrics"
	"github.com/sweeney/overtemp/internal/status"
)

type fakeBackoff []float64

func (f fakeBackoff) ChannelBackoff(id int) float64 {
	if id < 0 || id >= len(f) {
		return 0
	}
	return f[id]
}

func (f fakeBackoff) ChannelCount() int { return len(f) }

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		Period:    5 * time.Minute,
		Heartbeat: 15 * time.Minute,
		Channels:  2,
		Broker:    "tcp://192.168.1.200:1883",
		HTTPPort:  ":80",
	}
	tr := status.NewTracker(start, cfg)

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	m.Observe(sampleChannels(), nil)

	srv := New(":0", tr, fakeBackoff{1.5, 0}, m.Handler())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr
}

func sampleChannels() []logic.ChannelSnapshot {
	return []logic.ChannelSnapshot{
		{
			ID:      0,
			State:   logic.StateBackOff,
			Backoff: 1.5,
			Sensors: []logic.SensorSnapshot{
				{Type: logic.SensorDPA0, Temperature: 45, Stage: logic.StageInitialBackoff, PBO: 1.5, Active: true},
			},
		},
		{ID: 1, State: logic.StateNormal},
	}
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.Update(sampleChannels())
	tr.SetMQTTConnected(true)

	resp, body := get(t, ts.URL+"/index.json")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var sj status.StatusJSON
	require.NoError(t, json.Unmarshal([]byte(body), &sj))
	assert.True(t, sj.Status.Ready)
	assert.True(t, sj.Status.MQTT.Connected)
	assert.Equal(t, "tcp://192.168.1.200:1883", sj.Status.MQTT.Broker)
	assert.Equal(t, int64(300000), sj.Status.Config.PeriodMs)
	require.Len(t, sj.Status.Channels, 2)
	assert.Equal(t, "BACK_OFF", sj.Status.Channels[0].State)
}

func TestJSONNetworkInfo(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetNetwork(&status.NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"})

	_, body := get(t, ts.URL+"/index.json")
	var sj status.StatusJSON
	require.NoError(t, json.Unmarshal([]byte(body), &sj))
	require.NotNil(t, sj.Status.Network)
	assert.Equal(t, "192.168.1.42", sj.Status.Network.IP)
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.Update(sampleChannels())

	resp, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
	assert.Contains(t, body, `id="ch-state-0" class="backoff">BACK_OFF`)
	assert.Contains(t, body, "1.50 dB")
	assert.Contains(t, body, "DPA0 45.0")
	assert.NotContains(t, body, "mqtt.min.js", "live script only with a websocket broker")
}

func TestHTMLBeforeFirstTick(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := get(t, ts.URL+"/index.html")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "waiting for first tick")
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := get(t, ts.URL+"/nonexistent")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBackoffEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		query string
		code  int
		want  string
	}{
		{"?channel=0", http.StatusOK, `{"channel":0,"backoff_db":1.5}`},
		{"?channel=1", http.StatusOK, `{"channel":1,"backoff_db":0}`},
		{"", http.StatusOK, `[{"channel":0,"backoff_db":1.5},{"channel":1,"backoff_db":0}]`},
		{"?channel=2", http.StatusNotFound, `{"error":"no such channel"}`},
		{"?channel=-1", http.StatusNotFound, `{"error":"no such channel"}`},
		{"?channel=x", http.StatusBadRequest, `{"error":"channel must be an integer"}`},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, body := get(t, ts.URL+"/backoff"+tt.query)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.JSONEq(t, tt.want, body)
		})
	}
}

func TestBackoffEncodeFailure(t *testing.T) {
	srv := New(":0", status.NewTracker(time.Now(), status.Config{}), fakeBackoff{math.NaN()}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, query := range []string{"?channel=0", ""} {
		resp, body := get(t, ts.URL+"/backoff"+query)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, query)
		assert.NotEmpty(t, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `overtemp_channel_backoff_db{channel="0"} 1.5`)
}

func TestOptionalEndpointsOmitted(t *testing.T) {
	srv := New(":0", status.NewTracker(time.Now(), status.Config{}), nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, path := range []string{"/backoff", "/metrics"} {
		resp, _ := get(t, ts.URL+path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t)

	_, body := get(t, ts.URL+"/index.json")
	var sj1 status.StatusJSON
	require.NoError(t, json.Unmarshal([]byte(body), &sj1))
	assert.False(t, sj1.Status.Ready)

	chs := sampleChannels()
	chs[1].State = logic.StateHoldOff
	tr.Update(chs)

	_, body = get(t, ts.URL+"/index.json")
	var sj2 status.StatusJSON
	require.NoError(t, json.Unmarshal([]byte(body), &sj2))
	assert.True(t, sj2.Status.Ready)
	assert.Equal(t, "HOLD_OFF", sj2.Status.Channels[1].State)
}
