package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QHYCCD-QUARCS/guidelink/internal/channel"
	"github.com/QHYCCD-QUARCS/guidelink/internal/command"
	"github.com/QHYCCD-QUARCS/guidelink/internal/guider"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/config"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/monitoring"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/tracing"
	"github.com/QHYCCD-QUARCS/guidelink/internal/phdtest"
	"github.com/QHYCCD-QUARCS/guidelink/internal/protocol"
	"github.com/QHYCCD-QUARCS/guidelink/internal/telemetry"
)

type fixture struct {
	ch     *channel.Channel
	r      *phdtest.Responder
	svc    *guider.Service
	srv    *Server
	tracer *tracing.Tracer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ch := phdtest.NewMemoryChannel()
	r := phdtest.Start(ch)
	t.Cleanup(r.Close)

	tracer := tracing.New("guidelink", nil)
	t.Cleanup(tracer.Close)

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	client := command.New(ch, command.Options{Metrics: metrics})
	svc := guider.New(client, telemetry.NewReader(ch), nil, telemetry.LoopOptions{Metrics: metrics}, guider.Options{
		SettleDelay: time.Millisecond,
		Tracer:      tracer,
	})

	cfg := config.Default().Server
	cfg.RateLimit = 0
	cfg.AllowOrigins = []string{"*"}

	srv := New(cfg, Deps{Guider: svc, Control: svc, Metrics: metrics, Gatherer: reg, Version: "test", Tracer: tracer}, true, nil)
	return &fixture{ch: ch, r: r, svc: svc, srv: srv, tracer: tracer}
}

func (f *fixture) publish(t *testing.T) *telemetry.Sample {
	t.Helper()
	img := make([]byte, 64*48)
	for i := range img {
		img[i] = byte(i)
	}
	require.NoError(t, phdtest.WriteFrame(f.ch, phdtest.Frame{
		Width: 64, Height: 48, BitDepth: 8,
		RaOffset: 0.5, DecOffset: 0.5, PixelScale: 1,
		StarCount: 2, Stars: [][2]uint16{{10, 10}, {20, 30}},
		Image: img,
	}))
	s, err := f.svc.Loop().Step()
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func (f *fixture) do(method, path string, header map[string]string) *httptest.ResponseRecorder {
	return f.send(method, path, "", header)
}

func (f *fixture) send(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)

	w = f.do(http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "guider")
	assert.Contains(t, body, "metrics")
	assert.NotContains(t, body, "process")
}

func TestLatestSample(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/telemetry/latest", nil).Code)

	s := f.publish(t)
	w := f.do(http.MethodGet, "/telemetry/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Sample struct {
			ID    string `json:"id"`
			Width int    `json:"width"`
			Phase string `json:"phase"`
		} `json:"sample"`
		Secondary []telemetry.StarPoint `json:"secondary_stars"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, s.ID, body.Sample.ID)
	assert.Equal(t, 64, body.Sample.Width)
	assert.Equal(t, "calibrating", body.Sample.Phase)
	assert.Equal(t, []telemetry.StarPoint{{X: 20, Y: 30}}, body.Secondary)
	assert.NotContains(t, w.Body.String(), "image")
}

func TestLatestFrame(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/telemetry/frame", nil).Code)

	s := f.publish(t)

	w := f.do(http.MethodGet, "/telemetry/frame", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, s.Image, w.Body.Bytes())
	assert.Equal(t, "64", w.Header().Get("X-Frame-Width"))
	assert.Equal(t, "48", w.Header().Get("X-Frame-Height"))
	assert.Equal(t, "8", w.Header().Get("X-Frame-Depth"))
	assert.Equal(t, s.ID, w.Header().Get("X-Frame-Id"))
	assert.Empty(t, w.Header().Get("Content-Encoding"))

	w = f.do(http.MethodGet, "/telemetry/frame", map[string]string{"Accept-Encoding": "gzip, zstd"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "zstd", w.Header().Get("Content-Encoding"))

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	raw, err := dec.DecodeAll(w.Body.Bytes(), nil)
	require.NoError(t, err)
	assert.Equal(t, s.Image, raw)
}

func TestHistoryRoutes(t *testing.T) {
	f := newFixture(t)
	f.publish(t)

	w := f.do(http.MethodGet, "/telemetry/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/telemetry/history", nil).Code)
	assert.Zero(t, f.svc.History().Len())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.publish(t)
	f.do(http.MethodGet, "/health", nil)

	w := f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "guidelink_telemetry_samples_total 1")
	assert.Contains(t, w.Body.String(), "guidelink_http_requests_total")
}

func TestTelemetryStream(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/telemetry/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "system", hello["type"])

	// The subscription is registered before the greeting is sent.
	s := f.publish(t)

	var msg struct {
		Type   string `json:"type"`
		Sample struct {
			ID string `json:"id"`
		} `json:"sample"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "sample", msg.Type)
	assert.Equal(t, s.ID, msg.Sample.ID)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	var pong map[string]any
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"])
}

func TestServeShutsDown(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRequestTracing(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/health", map[string]string{tracing.TraceHeader: "trace-1"})
	assert.Equal(t, "trace-1", w.Header().Get(tracing.TraceHeader))
	assert.NotEmpty(t, w.Header().Get(tracing.SpanHeader))

	f.tracer.Close()
	spans := f.tracer.Recent()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /health", spans[0].Name)
	assert.Equal(t, tracing.TraceID("trace-1"), spans[0].TraceID)
	assert.Equal(t, "200", spans[0].Tags["http.status"])

	w = f.do(http.MethodGet, "/traces", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"trace_id":"trace-1"`)
}

func TestControlToggles(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/guider/looping/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"looping":true}`, w.Body.String())
	assert.True(t, f.svc.Looping())

	w = f.do(http.MethodPost, "/guider/guiding/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"guiding":true}`, w.Body.String())

	w = f.do(http.MethodPost, "/guider/guiding/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"guiding":false}`, w.Body.String())

	assert.Equal(t, []protocol.Opcode{
		protocol.OpStartLooping,
		protocol.OpAutoFindStar,
		protocol.OpStartGuiding,
		protocol.OpStopLooping,
	}, f.r.Ops())
}

func TestControlRecalibrate(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/guider/calibration/clear", nil).Code)

	w := f.do(http.MethodPost, "/guider/recalibrate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.svc.Guiding())
	assert.Equal(t, []protocol.Opcode{
		protocol.OpClearCalibration,
		protocol.OpStartLooping,
		protocol.OpAutoFindStar,
		protocol.OpStartGuiding,
	}, f.r.Ops())

	f.tracer.Close()
	names := make([]string, 0)
	for _, span := range f.tracer.Recent() {
		names = append(names, span.Name)
	}
	assert.Contains(t, names, "recalibrate")
	assert.Contains(t, names, "POST /guider/recalibrate")
}

func TestControlSettings(t *testing.T) {
	f := newFixture(t)

	w := f.send(http.MethodPatch, "/guider/settings", `{"focal_length":400,"gain":30,"multi_star":true}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"applied":["focal_length","multi_star","gain"]}`, w.Body.String())

	reqs := f.r.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, protocol.OpSetFocalLength, reqs[0].Op)
	assert.Equal(t, []byte{0x90, 0x01, 0x00, 0x00}, reqs[0].Payload[:4])
	assert.Equal(t, protocol.OpSetMultiStar, reqs[1].Op)
	assert.Equal(t, protocol.OpSetGain, reqs[2].Op)
	assert.Equal(t, []byte{30, 0, 0, 0}, reqs[2].Payload[:4])

	assert.Equal(t, http.StatusBadRequest, f.send(http.MethodPatch, "/guider/settings", `{}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.send(http.MethodPatch, "/guider/settings", `{"gain":"high"}`, nil).Code)
	assert.Len(t, f.r.Requests(), 3)
}

func TestControlCommands(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNoContent, f.send(http.MethodPut, "/guider/exposure", `{"ms":1500}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.send(http.MethodPut, "/guider/exposure", `{}`, nil).Code)
	assert.Equal(t, http.StatusNoContent, f.send(http.MethodPut, "/guider/camera", `{"name":"QHY5"}`, nil).Code)

	// No frame to map the click onto yet.
	click := `{"canvas_width":640,"canvas_height":480,"x":100,"y":200}`
	assert.Equal(t, http.StatusConflict, f.send(http.MethodPost, "/guider/click", click, nil).Code)

	f.publish(t)
	assert.Equal(t, http.StatusNoContent, f.send(http.MethodPost, "/guider/click", click, nil).Code)

	reqs := f.r.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, protocol.OpSetExposureTime, reqs[0].Op)
	assert.Equal(t, protocol.OpSelectCamera, reqs[1].Op)
	assert.Equal(t, protocol.OpStarClick, reqs[2].Op)
	assert.Equal(t, []byte{10, 0, 0, 0, 20, 0, 0, 0}, reqs[2].Payload[:8])
}

func TestControlUnavailable(t *testing.T) {
	f := newFixture(t)
	f.r.SetSilent(true)

	w := f.do(http.MethodPost, "/guider/looping/toggle", nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.False(t, f.svc.Looping())

	require.NoError(t, f.ch.Detach())
	w = f.do(http.MethodPost, "/guider/looping/toggle", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestControlAlertAndFlip(t *testing.T) {
	f := newFixture(t)

	w := f.send(http.MethodPut, "/guider/meridian-flip", `{"enabled":true}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"meridian_flip":true}`, w.Body.String())

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/guider/alerts/star-lost", nil).Code)
	assert.False(t, f.svc.Status().StarLostAlert)
}
