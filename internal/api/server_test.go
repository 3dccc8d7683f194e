package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/laserscan/internal/calibration"
	"github.com/banshee-data/laserscan/internal/cloud"
	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/device"
	"github.com/banshee-data/laserscan/internal/publish"
	"github.com/banshee-data/laserscan/internal/scandb"
	"github.com/banshee-data/laserscan/internal/scanner"
	"github.com/banshee-data/laserscan/internal/sim"
)

const (
	camWidth  = 64
	camHeight = 48
)

type testStation struct {
	server    *Server
	mux       *http.ServeMux
	scan      *scanner.Scanner
	hub       *publish.Hub
	db        *scandb.DB
	exportDir string
}

func newTestStation(t *testing.T) *testStation {
	t.Helper()
	rig := sim.NewRig()
	board := device.NewBoard(rig.Opener(), time.Second)
	cam := sim.NewCamera(rig, camWidth, camHeight)

	ctx, err := sim.Calibration(camWidth, camHeight)
	require.NoError(t, err)
	lookup, err := calibration.BuildLookup(ctx)
	require.NoError(t, err)

	db, err := scandb.Open(filepath.Join(t.TempDir(), "scans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	rec := scandb.NewRecorder(db)

	settings := config.NewSettings(nil)
	require.NoError(t, settings.SetDegrees(45))
	onStart, onStop := publish.SessionHooks(rec)
	scan := scanner.New(cam, board, settings, calibration.LookupSet{Left: lookup, Right: lookup}, scanner.Options{
		OnStart: onStart,
		OnStop:  onStop,
	})
	t.Cleanup(func() { scan.Disconnect() })

	hub := publish.NewHub(scan.Results(), rec)
	hubCtx, cancel := context.WithCancel(context.Background())
	go hub.Run(hubCtx)
	t.Cleanup(cancel)

	exportDir := t.TempDir()
	server := NewServer(scan, Options{Hub: hub, Store: db, ExportDir: exportDir})
	mux := server.ServeMux()
	server.AttachAdminRoutes(mux)
	return &testStation{server: server, mux: mux, scan: scan, hub: hub, db: db, exportDir: exportDir}
}

func (st *testStation) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:4321"
	w := httptest.NewRecorder()
	st.mux.ServeHTTP(w, req)
	return w
}

// runScan connects, scans a full turn and waits until every batch has gone
// through the hub.
func (st *testStation) runScan(t *testing.T) StatusResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, st.do(t, http.MethodPost, "/api/connect", "").Code)
	w := st.do(t, http.MethodPost, "/api/scan/start", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	select {
	case <-st.scan.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("scan did not finish")
	}
	require.Eventually(t, func() bool { return st.hub.Stats().Delivered == 8 }, 5*time.Second, time.Millisecond)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(st.do(t, http.MethodGet, "/api/status", "").Body.Bytes(), &status))
	return status
}

func TestScanLifecycle(t *testing.T) {
	st := newTestStation(t)

	w := st.do(t, http.MethodPost, "/api/scan/start", "")
	assert.Equal(t, http.StatusConflict, w.Code, "start before connect")
	w = st.do(t, http.MethodPost, "/api/scan/pause", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	w = st.do(t, http.MethodGet, "/api/cloud", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "empty cloud")
	w = st.do(t, http.MethodGet, "/api/preview", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "no frame yet")

	status := st.runScan(t)
	assert.Equal(t, "stopped", status.State)
	assert.True(t, status.Connected)
	assert.InDelta(t, 360, status.Theta, 1e-9)
	assert.Greater(t, status.Points, 0)
	require.NotNil(t, status.Hub)
	assert.Equal(t, uint64(8), status.Hub.Delivered)

	w = st.do(t, http.MethodPost, "/api/scan/stop", "")
	assert.Equal(t, http.StatusOK, w.Code, "stop after completion is a no-op")

	w = st.do(t, http.MethodPost, "/api/disconnect", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var after StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &after))
	assert.False(t, after.Connected)
}

func TestCloudDownload(t *testing.T) {
	st := newTestStation(t)
	status := st.runScan(t)

	w := st.do(t, http.MethodGet, "/api/cloud?format=ply", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "ply\n"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), status.Session+".ply")

	w = st.do(t, http.MethodGet, "/api/cloud", "")
	require.Equal(t, http.StatusOK, w.Code)
	lines := strings.Count(w.Body.String(), "\n")
	assert.Equal(t, status.Points, lines)

	w = st.do(t, http.MethodGet, "/api/cloud?format=obj", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCloudExport(t *testing.T) {
	st := newTestStation(t)
	st.runScan(t)

	w := st.do(t, http.MethodPost, "/api/cloud/export", `{"name": "../../etc/bust.pcd"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp exportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, filepath.Join(st.exportDir, "bust.pcd"), resp.Path)
	data, err := os.ReadFile(resp.Path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("VERSION .7\n")))

	w = st.do(t, http.MethodPost, "/api/cloud/export", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPreview(t *testing.T) {
	st := newTestStation(t)
	st.runScan(t)

	w := st.do(t, http.MethodGet, "/api/preview?kind=diff&width=32", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "left", w.Header().Get("X-Laser-Side"))
	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 24, img.Bounds().Dy())

	w = st.do(t, http.MethodGet, "/api/preview", "")
	require.Equal(t, http.StatusOK, w.Code)
	img, err = png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, camWidth, img.Bounds().Dx())

	for _, q := range []string{"kind=nope", "width=0", "width=abc", "width=99999"} {
		w = st.do(t, http.MethodGet, "/api/preview?"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestSettings(t *testing.T) {
	st := newTestStation(t)

	w := st.do(t, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap config.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 45.0, snap.Degrees)

	bad := snap
	bad.RhoMin, bad.RhoMax = 50, -50
	body, _ := json.Marshal(bad)
	w = st.do(t, http.MethodPut, "/api/settings", string(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, snap, st.scan.Settings().Snapshot(), "invalid update leaves settings untouched")

	good := snap
	good.ThresholdValue = 60
	good.UseRightLaser = true
	body, _ = json.Marshal(good)
	w = st.do(t, http.MethodPut, "/api/settings", string(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, good, st.scan.Settings().Snapshot())

	w = st.do(t, http.MethodPut, "/api/settings", `{"bogus": 1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSingleSetting(t *testing.T) {
	st := newTestStation(t)

	w := st.do(t, http.MethodPut, "/api/settings/threshold_value", `{"value": 40}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"name":"threshold_value","value":40}`, w.Body.String())
	assert.Equal(t, uint8(40), st.scan.Settings().FrameParams().ThresholdValue)

	w = st.do(t, http.MethodGet, "/api/settings/use_compact", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"use_compact","value":true}`, w.Body.String())

	w = st.do(t, http.MethodPut, "/api/settings/threshold_value", `{"value": 900}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = st.do(t, http.MethodPut, "/api/settings/laser_power", `{"value": 1}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = st.do(t, http.MethodGet, "/api/settings/laser_power", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessions(t *testing.T) {
	st := newTestStation(t)
	status := st.runScan(t)

	w := st.do(t, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sessions []scandb.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, status.Session, sessions[0].ID)

	path := "/api/sessions/" + status.Session
	require.Eventually(t, func() bool {
		var s scandb.Session
		w := st.do(t, http.MethodGet, path, "")
		return w.Code == http.StatusOK && json.Unmarshal(w.Body.Bytes(), &s) == nil && s.Finished != nil
	}, 5*time.Second, time.Millisecond)

	w = st.do(t, http.MethodGet, path+"/cloud?format=asc", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, status.Points, strings.Count(w.Body.String(), "\n"))

	w = st.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = st.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = st.do(t, http.MethodGet, "/api/sessions?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDisabledCollaborators(t *testing.T) {
	s := NewServer(scanner.New(nil, nil, nil, calibration.LookupSet{}, scanner.Options{}), Options{})
	mux := s.ServeMux()
	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/sessions", ""},
		{http.MethodGet, "/api/stream", ""},
		{http.MethodPost, "/api/cloud/export", `{"name":"x.ply"}`},
	} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
		assert.Equal(t, http.StatusNotFound, w.Code, tc.path)
	}
}

func TestStream(t *testing.T) {
	st := newTestStation(t)
	srv := httptest.NewServer(st.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Eventually(t, func() bool { return st.hub.Stats().Subscribers == 1 }, time.Second, time.Millisecond)

	require.NoError(t, st.scan.Connect())
	require.NoError(t, st.scan.Start())

	reader := bufio.NewReader(resp.Body)
	var event, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	assert.Equal(t, "batch", event)
	var msg publish.BatchMessage
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	assert.Equal(t, uint64(0), msg.Seq)
	assert.Equal(t, st.scan.Session().ID, msg.Session)
}

func TestChart(t *testing.T) {
	st := newTestStation(t)
	st.runScan(t)

	w := st.do(t, http.MethodGet, "/debug/scan-chart", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Top view")
	assert.Contains(t, w.Body.String(), "Side view")
}

func TestChartSeries_Downsamples(t *testing.T) {
	b := cloud.Batch{Step: 1}
	for i := 0; i < 100; i++ {
		b.Points = append(b.Points, cloud.Point{X: 1, Y: 1, Z: float64(i)})
	}
	top, side, zMax := chartSeries(cloud.NewCloud([]cloud.Batch{b}), 30)
	assert.Len(t, top, 25)
	assert.Len(t, side, 25)
	assert.Equal(t, 96.0, zMax)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{scanner.ErrAlreadyRunning, http.StatusConflict},
		{scanner.ErrNotConnected, http.StatusConflict},
		{scanner.ErrNoCalibration, http.StatusPreconditionFailed},
		{fmt.Errorf("wrapped: %w", scandb.ErrNotFound), http.StatusNotFound},
		{config.ErrUnknownSetting, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestLoggingMiddleware(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Contains(t, statusCodeColor(418), "418")
}
