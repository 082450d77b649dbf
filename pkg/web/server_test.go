package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/pkg/calibration"
	"github.com/teslashibe/go-gaze/pkg/calibration/sqlitestore"
	"github.com/teslashibe/go-gaze/pkg/camera"
	"github.com/teslashibe/go-gaze/pkg/gaze"
)

type testServer struct {
	*Server
	engine *gaze.MockEngine
	store  *sqlitestore.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := sqlitestore.Open(context.Background(), filepath.Join(t.TempDir(), "gaze.db"), log.Discard())
	require.NoError(t, err)
	cache := calibration.NewCache(store)

	cfg := gaze.DefaultConfig()
	cfg.GraceWindow = 20 * time.Millisecond
	cfg.StreamRetryDelay = time.Millisecond

	engine := gaze.NewMockEngine()
	cam := camera.NewManager(camera.DefaultConstraints())
	env := gaze.NewEnv(true, gaze.PermissionGranted)
	mgr := gaze.NewManager(cfg, gaze.MockLoader(engine), gaze.NewMockDevices(), cam, env, cache, log.Discard())

	s := NewServer(DefaultOptions("0"), mgr, env, cam, store, log.Discard())
	t.Cleanup(func() {
		mgr.Shutdown()
		cache.Close()
		store.Close()
	})
	return &testServer{Server: s, engine: engine, store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, code)

	st := decode[StatusResponse](t, body)
	assert.True(t, st.CaptureSupported)
	assert.Equal(t, gaze.PermissionGranted, st.Permission)
	assert.False(t, st.Calibrated)
	assert.Equal(t, camera.DefaultConstraints(), st.Camera)
	assert.Equal(t, 0, st.Gaze.Sessions)
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/api/sessions", OpenRequest{
		Viewport: &calibration.Viewport{Width: 1000, Height: 800},
		Enable:   true,
	})
	require.Equal(t, http.StatusCreated, code)
	view := decode[SessionView](t, body)
	assert.Equal(t, gaze.StatusActive, view.Status)
	assert.True(t, view.Enabled)
	assert.Equal(t, 1000.0, view.Viewport.Width)

	path := "/api/sessions/" + view.ID

	code, _ = ts.do(t, http.MethodGet, path+"/point", nil)
	assert.Equal(t, http.StatusNoContent, code)

	require.True(t, ts.engine.Emit(gaze.RawPoint{X: 1200, Y: 400, Confidence: 0.9, TimestampMs: 42}))

	code, body = ts.do(t, http.MethodGet, path+"/point", nil)
	require.Equal(t, http.StatusOK, code)
	p := decode[gaze.CalibratedPoint](t, body)
	assert.Equal(t, 1000.0, p.X, "clamped to viewport")
	assert.Equal(t, 400.0, p.Y)
	assert.Equal(t, gaze.SourceMock, p.Source)

	code, body = ts.do(t, http.MethodPost, path+"/disable", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, gaze.StatusIdle, decode[SessionView](t, body).Status)

	code, _ = ts.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, body = ts.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, string(body), `"error"`)
}

func TestEnableHonoursPermission(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPut, "/api/permission", PermissionRequest{Permission: "denied"})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "denied")

	code, body = ts.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, code)
	id := decode[SessionView](t, body).ID

	code, body = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/enable", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, gaze.StatusDenied, decode[SessionView](t, body).Status)
	assert.Equal(t, int64(0), ts.engine.Begins())
}

func TestViewportRejectsNegative(t *testing.T) {
	ts := newTestServer(t)

	_, body := ts.do(t, http.MethodPost, "/api/sessions", nil)
	id := decode[SessionView](t, body).ID

	code, _ := ts.do(t, http.MethodPut, "/api/sessions/"+id+"/viewport", calibration.Viewport{Width: -1, Height: 10})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = ts.do(t, http.MethodPut, "/api/sessions/"+id+"/viewport", calibration.Viewport{Width: 640, Height: 480})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 480.0, decode[SessionView](t, body).Viewport.Height)
}

func affineSamples() []calibration.Sample {
	var out []calibration.Sample
	for _, raw := range [][2]float64{{100, 100}, {900, 100}, {100, 700}, {900, 700}, {500, 400}, {300, 600}} {
		out = append(out, calibration.Sample{
			RawX:    raw[0],
			RawY:    raw[1],
			TargetX: raw[0]*0.9 + 20,
			TargetY: raw[1]*1.1 - 15,
		})
	}
	return out
}

func TestCalibrationFitAndModels(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/api/calibration/fit", FitRequest{
		Samples:  affineSamples(),
		Viewport: calibration.Viewport{Width: 1000, Height: 800},
	})
	require.Equal(t, http.StatusCreated, code, string(body))

	fitted := decode[struct {
		Model *calibration.Model `json:"model"`
	}](t, body).Model
	require.NotNil(t, fitted)
	assert.NotEmpty(t, fitted.ID)
	assert.InDelta(t, 0.9, fitted.Transform.A, 1e-6)

	code, body = ts.do(t, http.MethodGet, "/api/calibration", nil)
	require.Equal(t, http.StatusOK, code)
	active := decode[struct {
		Model *calibration.Model `json:"model"`
	}](t, body).Model
	require.NotNil(t, active)
	assert.Equal(t, fitted.ID, active.ID)

	code, body = ts.do(t, http.MethodGet, "/api/calibration/models", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]*calibration.Model](t, body), 1)

	code, body = ts.do(t, http.MethodGet, "/api/calibration/models/"+fitted.ID, nil)
	require.Equal(t, http.StatusOK, code)
	detail := decode[struct {
		Samples []calibration.Sample `json:"samples"`
	}](t, body)
	assert.Equal(t, affineSamples(), detail.Samples)

	code, _ = ts.do(t, http.MethodDelete, "/api/calibration/models/"+fitted.ID, nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = ts.do(t, http.MethodGet, "/api/calibration/models/"+fitted.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, http.MethodPost, "/api/calibration/models/missing/activate", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCalibrationFitTooFewSamples(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/api/calibration/fit", FitRequest{
		Samples:  affineSamples()[:2],
		Viewport: calibration.Viewport{Width: 1000, Height: 800},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, string(body), `"error"`)
	assert.Nil(t, ts.store.ReadModel())
}

func TestCamera(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPut, "/api/camera", map[string]interface{}{"preset": camera.Preset720p, "frame_rate": 24})
	require.Equal(t, http.StatusOK, code)
	c := decode[camera.Constraints](t, body)
	assert.Equal(t, 1280, c.Width)
	assert.Equal(t, 24, c.FrameRate)

	code, _ = ts.do(t, http.MethodPut, "/api/camera", map[string]interface{}{"preset": "nope"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = ts.do(t, http.MethodGet, "/api/camera/presets", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[map[string]camera.Constraints](t, body), len(camera.PresetNames()))
}

func TestWebSocketRoutes(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, http.MethodGet, "/ws/status", nil)
	assert.Equal(t, http.StatusUpgradeRequired, code)

	req := httptest.NewRequest(http.MethodGet, "/ws/gaze/unknown", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
