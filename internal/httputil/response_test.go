package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		msg    string
	}{
		{"custom", func(w http.ResponseWriter) { WriteJSONError(w, http.StatusConflict, "scan already running") }, http.StatusConflict, "scan already running"},
		{"method", MethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad width") }, http.StatusBadRequest, "bad width"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "disk full") }, http.StatusInternalServerError, "disk full"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "no such session") }, http.StatusNotFound, "no such session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var body ErrorBody
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error != tt.msg {
				t.Errorf("error = %q, want %q", body.Error, tt.msg)
			}
		})
	}
}

func TestWriteJSONOK(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	WriteJSONOK(w, map[string]int{"points": 42})
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if got := w.Body.String(); got != "{\"points\":42}\n" {
		t.Errorf("body = %q", got)
	}
}

func TestNoContent(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	NoContent(w)
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Errorf("got %d with %d body bytes", w.Code, w.Body.Len())
	}
}
