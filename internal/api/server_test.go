package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/CaptureExpress/internal/devices"
	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/engine/sim"
	"github.com/bryanchriswhite/CaptureExpress/internal/history"
	"github.com/bryanchriswhite/CaptureExpress/internal/host"
	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
	"github.com/bryanchriswhite/CaptureExpress/internal/recorder"
	"github.com/bryanchriswhite/CaptureExpress/internal/settings"
	"github.com/bryanchriswhite/CaptureExpress/internal/signalbus"
)

type fakeHistory struct {
	entries []history.Entry
	limit   int
}

func (f *fakeHistory) List(_ context.Context, limit int) ([]history.Entry, error) {
	f.limit = limit
	return f.entries, nil
}

type fixture struct {
	ts       *httptest.Server
	rec      *recorder.Recorder
	history  *fakeHistory
	shutdown chan struct{}
}

func newFixture(t *testing.T, initialize bool) *fixture {
	t.Helper()

	opts := sim.DefaultOptions()
	opts.SignalDelay = time.Millisecond
	opts.MeterInterval = 0
	eng := sim.New(opts)

	h := host.NewStatic(host.Display{Index: 0, Bounds: host.Rect{Width: 1920, Height: 1080}, DPI: 96})
	rec := recorder.New(eng, h, recorder.Options{SignalTimeout: 2 * time.Second})
	if initialize {
		require.NoError(t, rec.Init(engine.InitOptions{DataDir: t.TempDir(), Locale: "en-US"}))
	}

	f := &fixture{
		rec:      rec,
		history:  &fakeHistory{entries: []history.Entry{{ID: "s1", Status: history.StatusCompleted}}},
		shutdown: make(chan struct{}, 1),
	}
	srv := NewServer(Deps{
		Recorder: rec,
		Devices:  devices.NewEnumerator(eng),
		History:  f.history,
		Shutdown: func() { f.shutdown <- struct{}{} },
	})
	f.ts = httptest.NewServer(srv)
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func startBody(dir string, region string) string {
	return fmt.Sprintf(`{"captureRegion": %s, "outputDirectory": %q}`, region, dir)
}

func TestRoutesListing(t *testing.T) {
	f := newFixture(t, true)

	code, body := f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	methods := map[string][]any{}
	for _, r := range body["routes"].([]any) {
		route := r.(map[string]any)
		methods[route["route"].(string)] = route["methods"].([]any)
	}
	assert.Equal(t, []any{"GET", "POST"}, methods["/settings/{category}"])
	assert.Equal(t, []any{"POST"}, methods["/recording/start"])
	assert.Contains(t, methods, "/status")
	assert.Contains(t, methods, "/metrics")
}

func TestStatus(t *testing.T) {
	f := newFixture(t, false)
	code, body := f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["initialized"])
	assert.Equal(t, false, body["recording"])
	assert.NotContains(t, body, "statistics")

	f = newFixture(t, true)
	_, body = f.do(t, http.MethodGet, "/status", "")
	assert.Equal(t, true, body["initialized"])
	assert.Equal(t, "idle", body["state"])
	assert.Contains(t, body, "statistics")
}

func TestAudioDevices(t *testing.T) {
	f := newFixture(t, true)

	for _, path := range []string{"/audio/speakers", "/audio/microphones"} {
		resp, err := f.ts.Client().Get(f.ts.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)

		var list []map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
		resp.Body.Close()
		require.Len(t, list, 2)
		assert.Equal(t, "default", list[0]["device_id"])
		assert.Equal(t, "Default", list[0]["name"])
	}

	code, body := f.do(t, http.MethodGet, "/audio/cameras", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "error", body["status"])
}

func TestNotInitializedIsConflict(t *testing.T) {
	f := newFixture(t, false)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/audio/speakers", ""},
		{http.MethodGet, "/settings/Output", ""},
		{http.MethodPost, "/settings/Output", `{"Recording": {"RecFormat": "mov"}}`},
		{http.MethodPost, "/recording/start", startBody(t.TempDir(), `{"x":0,"y":0,"width":640,"height":480}`)},
		{http.MethodPost, "/recording/stop", ""},
	} {
		code, body := f.do(t, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusConflict, code, tc.path)
		assert.Equal(t, "error", body["status"], tc.path)
		assert.NotEmpty(t, body["message"], tc.path)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	f := newFixture(t, true)

	code, body := f.do(t, http.MethodPost, "/settings/Output", `{"Recording": {"RecFormat": "MOV"}}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, map[string]any{"status": "ok"}, body)

	code, body = f.do(t, http.MethodGet, "/settings/Output", "")
	require.Equal(t, http.StatusOK, code)
	compact := body["settings"].(map[string]any)
	assert.Equal(t, "mov", compact["Recording"].(map[string]any)["RecFormat"])
	assert.Equal(t, "Advanced", compact["Untitled"].(map[string]any)["Mode"])

	code, body = f.do(t, http.MethodGet, "/settings/Output?detailed=TRUE", "")
	require.Equal(t, http.StatusOK, code)
	detailed, ok := body["settings"].([]any)
	require.True(t, ok, "detailed settings are the full subcategory list")
	assert.NotEmpty(t, detailed)
}

func TestSettingsErrorsAreBadRequests(t *testing.T) {
	f := newFixture(t, true)

	cases := []struct{ name, path, body string }{
		{"unknown category", "/settings/Nope", `{"A": {"B": 1}}`},
		{"unknown parameter", "/settings/Output", `{"Recording": {"Nope": 1}}`},
		{"wrong type", "/settings/Output", `{"Recording": {"RecFormat": 5}}`},
		{"malformed body", "/settings/Output", `[1, 2]`},
		{"empty body", "/settings/Output", `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := f.do(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "error", body["status"])
		})
	}

	code, _ := f.do(t, http.MethodGet, "/settings/Nope", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRecordingStartStop(t *testing.T) {
	f := newFixture(t, true)

	code, body := f.do(t, http.MethodPost, "/recording/start",
		startBody(t.TempDir(), `{"x":0,"y":0,"width":1280,"height":720}`))
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, recorder.Recording, f.rec.State())

	_, body = f.do(t, http.MethodGet, "/status", "")
	assert.Equal(t, true, body["recording"])
	assert.NotEmpty(t, body["sessionId"])

	code, _ = f.do(t, http.MethodPost, "/recording/stop", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, recorder.Idle, f.rec.State())
	assert.Zero(t, f.rec.Resources())
}

func TestRecordingStartErrors(t *testing.T) {
	f := newFixture(t, true)

	code, body := f.do(t, http.MethodPost, "/recording/start", `{"outputDirectory": "/tmp"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "captureRegion")

	code, body = f.do(t, http.MethodPost, "/recording/start", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", body["status"])

	code, body = f.do(t, http.MethodPost, "/recording/start",
		startBody(t.TempDir(), `{"x":5000,"y":5000,"width":100,"height":100}`))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, body["message"], "NoDisplayInRegion")
	assert.Equal(t, recorder.Idle, f.rec.State())
}

func TestRecordings(t *testing.T) {
	f := newFixture(t, true)

	code, body := f.do(t, http.MethodGet, "/recordings?limit=5", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 5, f.history.limit)
	list := body["recordings"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].(map[string]any)["id"])

	code, _ = f.do(t, http.MethodGet, "/recordings?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestShutdownAnswersThenSignals(t *testing.T) {
	f := newFixture(t, true)

	code, body := f.do(t, http.MethodPost, "/shutdown", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	select {
	case <-f.shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown hook was not called")
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	f := newFixture(t, true)

	code, body := f.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "error", body["status"])

	code, _ = f.do(t, http.MethodGet, "/recording/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{&recorder.Error{Kind: recorder.InvalidRequest, Message: "bad"}, http.StatusBadRequest},
		{&settings.Error{Kind: settings.ParameterNotFound}, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", recorder.ErrNotInitialized), http.StatusConflict},
		{engine.ErrNotInitialized, http.StatusConflict},
		{&recorder.Error{Kind: recorder.SignalTimeout, Err: signalbus.ErrTimeout}, http.StatusGatewayTimeout},
		{&recorder.Error{Kind: recorder.TooManyAudioDevices}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, StatusCode(tc.err), tc.err.Error())
	}
}

func TestCORSHeaders(t *testing.T) {
	f := newFixture(t, true)

	req, err := http.NewRequest(http.MethodOptions, f.ts.URL+"/recording/start", nil)
	require.NoError(t, err)
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")

	resp, err = f.ts.Client().Get(f.ts.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogs(t *testing.T) *lockedBuffer {
	t.Helper()
	out := &lockedBuffer{}
	logger.InitWithWriter("debug", false, out)
	t.Cleanup(func() { logger.Init("info", false) })
	return out
}

func TestRequestsAreLogged(t *testing.T) {
	logs := captureLogs(t)
	f := newFixture(t, true)

	code, _ := f.do(t, http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, code)

	require.Eventually(t, func() bool {
		s := logs.String()
		return strings.Contains(s, `"path":"/nope"`) && strings.Contains(s, `"code":404`)
	}, time.Second, 5*time.Millisecond)
}

func TestWebsocketUpgradeThroughMiddleware(t *testing.T) {
	logs := captureLogs(t)

	upgrader := websocket.Upgrader{}
	meter := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(map[string]float64{"peak": 0.5, "magnitude": 0.25})
	})

	srv := NewServer(Deps{Volmeter: meter})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/volmeter", nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame map[string]float64
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, 0.5, frame["peak"])

	require.Eventually(t, func() bool {
		s := logs.String()
		return strings.Contains(s, `"path":"/volmeter"`) && strings.Contains(s, `"code":101`)
	}, time.Second, 5*time.Millisecond)
}
