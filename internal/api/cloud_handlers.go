package api

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/disintegration/imaging"

	"github.com/banshee-data/laserscan/internal/cloud"
	"github.com/banshee-data/laserscan/internal/frame"
	"github.com/banshee-data/laserscan/internal/httputil"
	"github.com/banshee-data/laserscan/internal/monitoring"
	"github.com/banshee-data/laserscan/internal/publish"
)

const maxPreviewWidth = 4096

// writeCloud streams c in the format named by the "format" query parameter
// (asc by default) as a download called name.
func writeCloud(w http.ResponseWriter, r *http.Request, c cloud.Cloud, name string) {
	f, err := cloud.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if c.Len() == 0 {
		writeError(w, cloud.ErrEmptyCloud)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.%s", name, f))
	if err := cloud.Write(w, c, f); err != nil {
		monitoring.Logf("api: writing %s cloud: %v", f, err)
	}
}

func (s *Server) handleCloud(w http.ResponseWriter, r *http.Request) {
	name := s.ctl.Status().Session
	if name == "" {
		name = "scan"
	}
	writeCloud(w, r, s.ctl.Snapshot(), name)
}

type exportRequest struct {
	Name string `json:"name"`
}

type exportResponse struct {
	Path   string `json:"path"`
	Points int    `json:"points"`
}

// handleExport writes the current cloud into the export directory.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.opts.ExportDir == "" {
		httputil.NotFound(w, "export directory not configured")
		return
	}
	var req exportRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSettingsBody)).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid body: "+err.Error())
		return
	}
	if req.Name == "" {
		req.Name = fmt.Sprintf("scan-%d.ply", time.Now().Unix())
	}
	snap := s.ctl.Snapshot()
	path, err := cloud.ExportToFile(snap, s.opts.ExportDir, req.Name)
	if err != nil {
		if snap.Len() == 0 {
			writeError(w, err)
			return
		}
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, exportResponse{Path: path, Points: snap.Len()})
}

// handlePreview returns an intermediate image of the last processed frame as
// PNG. kind is one of raw, las, diff, bin, line (default line); width, when
// given, scales the image keeping its aspect ratio.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	kind := frame.KindLine
	if q := r.URL.Query().Get("kind"); q != "" {
		var err error
		if kind, err = frame.ParseKind(q); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	width := 0
	if q := r.URL.Query().Get("width"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v <= 0 || v > maxPreviewWidth {
			httputil.BadRequest(w, fmt.Sprintf("width must be 1..%d", maxPreviewWidth))
			return
		}
		width = v
	}

	img, side, err := s.ctl.Preview(kind)
	if err != nil {
		writeError(w, err)
		return
	}
	var out image.Image = img
	if width > 0 && width != img.Bounds().Dx() {
		out = imaging.Resize(img, width, 0, imaging.Box)
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Laser-Side", side.String())
	if err := png.Encode(w, out); err != nil {
		httputil.InternalServerError(w, err.Error())
	}
}

// handleStream sends every published batch as a server-sent event until the
// client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Hub == nil {
		httputil.NotFound(w, "live stream not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	ch, cancel := s.opts.Hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(publish.NewBatchMessage(res))
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: batch\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
