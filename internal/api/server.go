// Package api serves the scanner's HTTP interface: scan control, live
// settings, point cloud downloads, intermediate image previews, a live
// batch stream and stored sessions.
package api

import (
	"context"
	"errors"
	"image"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/laserscan/internal/calibration"
	"github.com/banshee-data/laserscan/internal/cloud"
	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/frame"
	"github.com/banshee-data/laserscan/internal/httputil"
	"github.com/banshee-data/laserscan/internal/publish"
	"github.com/banshee-data/laserscan/internal/scandb"
	"github.com/banshee-data/laserscan/internal/scanner"
)

// ANSI escape codes for request logging.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Controller is the scanner surface the API drives.
type Controller interface {
	Connect() error
	Disconnect() error
	Start() error
	Pause() error
	Resume() error
	Stop() error
	Status() scanner.Status
	Snapshot() cloud.Cloud
	Settings() *config.Settings
	Preview(kind frame.Kind) (image.Image, calibration.Side, error)
}

// SessionStore reads stored scans.
type SessionStore interface {
	Sessions(ctx context.Context, limit int) ([]scandb.Session, error)
	Session(ctx context.Context, id string) (scandb.Session, error)
	LoadCloud(ctx context.Context, id string) (cloud.Cloud, error)
	DeleteSession(ctx context.Context, id string) error
}

// Options holds the optional collaborators of a Server.
type Options struct {
	Hub       *publish.Hub // live stream; nil disables /api/stream
	Store     SessionStore // nil disables /api/sessions
	ExportDir string       // target of /api/cloud/export; empty disables it
}

// Server exposes a Controller over HTTP.
type Server struct {
	ctl  Controller
	opts Options
}

func NewServer(ctl Controller, opts Options) *Server {
	return &Server{ctl: ctl, opts: opts}
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/connect", s.handleControl(s.ctl.Connect))
	mux.HandleFunc("POST /api/disconnect", s.handleControl(s.ctl.Disconnect))
	mux.HandleFunc("POST /api/scan/start", s.handleControl(s.ctl.Start))
	mux.HandleFunc("POST /api/scan/pause", s.handleControl(s.ctl.Pause))
	mux.HandleFunc("POST /api/scan/resume", s.handleControl(s.ctl.Resume))
	mux.HandleFunc("POST /api/scan/stop", s.handleControl(s.ctl.Stop))
	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	mux.HandleFunc("GET /api/settings/{name}", s.handleGetSetting)
	mux.HandleFunc("PUT /api/settings/{name}", s.handleSetSetting)

	mux.HandleFunc("GET /api/cloud", s.handleCloud)
	mux.HandleFunc("POST /api/cloud/export", s.handleExport)
	mux.HandleFunc("GET /api/preview", s.handlePreview)
	mux.HandleFunc("GET /api/stream", s.handleStream)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /api/sessions/{id}/cloud", s.handleSessionCloud)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	return mux
}

// statusFor maps scanner and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scanner.ErrAlreadyRunning),
		errors.Is(err, scanner.ErrNotRunning),
		errors.Is(err, scanner.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, scanner.ErrNoCalibration):
		return http.StatusPreconditionFailed
	case errors.Is(err, scanner.ErrNoFrame),
		errors.Is(err, scandb.ErrNotFound),
		errors.Is(err, config.ErrUnknownSetting),
		errors.Is(err, cloud.ErrEmptyCloud):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteJSONError(w, statusFor(err), err.Error())
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
