package api

import (
	"net/http"
	"strconv"

	"github.com/banshee-data/laserscan/internal/httputil"
)

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.opts.Store == nil {
		httputil.NotFound(w, "session storage not enabled")
		return false
	}
	return true
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v <= 0 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = v
	}
	sessions, err := s.opts.Store.Sessions(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	sess, err := s.opts.Store.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, sess)
}

func (s *Server) handleSessionCloud(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := r.PathValue("id")
	c, err := s.opts.Store.LoadCloud(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeCloud(w, r, c, id)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	if err := s.opts.Store.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}
