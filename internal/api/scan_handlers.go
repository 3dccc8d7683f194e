package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/httputil"
	"github.com/banshee-data/laserscan/internal/publish"
	"github.com/banshee-data/laserscan/internal/scanner"
)

// maxSettingsBody caps settings request bodies.
const maxSettingsBody = 64 << 10

// StatusResponse is the body of /api/status and of every control call.
type StatusResponse struct {
	scanner.Status
	Hub *publish.Stats `json:"hub,omitempty"`
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{Status: s.ctl.Status()}
	if s.opts.Hub != nil {
		st := s.opts.Hub.Stats()
		resp.Hub = &st
	}
	return resp
}

// handleControl runs a lifecycle operation and answers with the new status.
// A stop that timed out still reports the status, with 500.
func (s *Server) handleControl(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(); err != nil {
			if errors.Is(err, scanner.ErrStopTimeout) {
				httputil.WriteJSON(w, http.StatusInternalServerError, s.status())
				return
			}
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, s.status())
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.status())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.ctl.Settings().Snapshot())
}

// handlePutSettings replaces every setting. The body is validated in full
// before anything is applied.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var snap config.Snapshot
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSettingsBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		httputil.BadRequest(w, "invalid settings: "+err.Error())
		return
	}
	if err := config.NewSettings(nil).Apply(snap); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.ctl.Settings().Apply(snap); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.ctl.Settings().Snapshot())
}

type settingValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	v, err := s.ctl.Settings().Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, settingValue{Name: name, Value: v})
}

// handleSetSetting changes one setting by its profile name. The body is
// {"value": ...}.
func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body settingValue
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSettingsBody)).Decode(&body); err != nil {
		httputil.BadRequest(w, "invalid body: "+err.Error())
		return
	}
	if err := s.ctl.Settings().Set(name, body.Value); err != nil {
		if errors.Is(err, config.ErrUnknownSetting) {
			writeError(w, err)
			return
		}
		httputil.BadRequest(w, err.Error())
		return
	}
	v, _ := s.ctl.Settings().Get(name)
	httputil.WriteJSONOK(w, settingValue{Name: name, Value: v})
}
