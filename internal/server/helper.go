package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const contentTypeJSON = "application/json; charset=utf-8"

// requestLogger returns an entry carrying the request id and, for plugin
// routes, the plugin and the requested Moodle target.
func (s *Server) requestLogger(r *http.Request) *logrus.Entry {
	fields := logrus.Fields{
		LogFieldRequestID: middleware.GetReqID(r.Context()),
		LogFieldHTTPRequest: map[string]any{
			"requestMethod": r.Method,
			"requestUrl":    r.URL.EscapedPath(),
		},
	}
	if plugin := chi.URLParam(r, "plugin"); plugin != "" {
		fields[LogFieldPlugin] = plugin
	}
	q := r.URL.Query()
	for _, key := range []string{"moodle_version", "moodle_release"} {
		if q.Has(key) {
			fields[LogFieldMoodleTarget] = key + "=" + q.Get(key)
		}
	}
	return s.log.WithFields(fields)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, d any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	if err := json.NewEncoder(w).Encode(d); err != nil {
		s.requestLogger(r).Errorf("could not encode response: %v", err)
	}
}

// writeRaw sends an already encoded JSON document.
func (s *Server) writeRaw(w http.ResponseWriter, r *http.Request, data []byte) {
	w.Header().Set("Content-Type", contentTypeJSON)
	if _, err := w.Write(data); err != nil {
		s.requestLogger(r).Errorf("could not write response: %v", err)
	}
}

// writeJSONError logs err and sends {"error": ...}. The alternative message
// replaces err in the response body, e.g. to hide internal details.
func (s *Server) writeJSONError(w http.ResponseWriter, r *http.Request, statusCode int, err error, alternativeMessage ...string) {
	entry := s.requestLogger(r).WithField("status", statusCode)
	if statusCode >= http.StatusInternalServerError {
		entry.Errorf("request failed: %v", err)
	} else {
		entry.Warnf("request rejected: %v", err)
	}

	errMsg := err.Error()
	if len(alternativeMessage) > 0 {
		errMsg = strings.Join(alternativeMessage, " ")
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	if encErr := json.NewEncoder(w).Encode(map[string]string{"error": errMsg}); encErr != nil {
		entry.Errorf("could not encode error response: %v", encErr)
	}
}
