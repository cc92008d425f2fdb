package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/lookup"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/resolver"
	"github.com/pluglist-tools/moodle-plugin-lookup/pkg/api"
)

func constraintFromQuery(r *http.Request) (resolver.Constraint, error) {
	q := r.URL.Query()
	var build *int64
	var release *string
	if q.Has("moodle_version") {
		v, err := strconv.ParseInt(q.Get("moodle_version"), 10, 64)
		if err != nil {
			return resolver.Constraint{}, fmt.Errorf("%w: moodle_version must be a build number", resolver.ErrInvalidConstraint)
		}
		build = &v
	}
	if q.Has("moodle_release") {
		rel := q.Get("moodle_release")
		release = &rel
	}
	return resolver.NewConstraint(build, release)
}

func (s *Server) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, resolver.ErrInvalidConstraint) {
		s.writeJSONError(w, r, http.StatusBadRequest, err)
		return
	}
	s.writeJSONError(w, r, http.StatusInternalServerError, err)
}

func (s *Server) resolveLatest(w http.ResponseWriter, r *http.Request) (*lookup.FindResult, bool) {
	pluginName := chi.URLParam(r, "plugin")
	if pluginName == "" {
		s.writeJSONError(w, r, http.StatusBadRequest, fmt.Errorf("plugin name is missing"))
		return nil, false
	}
	constraint, err := constraintFromQuery(r)
	if err != nil {
		s.writeJSONError(w, r, http.StatusBadRequest, err)
		return nil, false
	}
	res, err := s.service.FindLatestVersion(r.Context(), pluginName, constraint)
	if err != nil {
		s.writeLookupError(w, r, err)
		return nil, false
	}
	if !res.Found() {
		s.writeJSONError(w, r, http.StatusNotFound, errors.New(res.Message))
		return nil, false
	}
	return res, true
}

func (s *Server) getPluglist(w http.ResponseWriter, r *http.Request) {
	raw, err := s.service.RawPluglist(r.Context())
	if err != nil {
		s.writeJSONError(w, r, http.StatusInternalServerError, err)
		return
	}
	s.writeRaw(w, r, raw)
}

func (s *Server) findLatestVersion(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resolveLatest(w, r)
	if !ok {
		return
	}
	s.setInCache(r, res.Response)
	s.writeJSON(w, r, res.Response)
}

func (s *Server) downloadLatestVersion(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resolveLatest(w, r)
	if !ok {
		return
	}
	downloadURL := res.Response.LatestVersion.DownloadURL
	if downloadURL == "" {
		s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("no download available for %s %s", res.Component, res.Response.LatestVersion.Release))
		return
	}
	http.Redirect(w, r, downloadURL, http.StatusFound)
}

func (s *Server) listPluginVersions(w http.ResponseWriter, r *http.Request) {
	pluginName := chi.URLParam(r, "plugin")
	res, msg, err := s.service.ListVersions(r.Context(), pluginName)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	if res == nil {
		s.writeJSONError(w, r, http.StatusNotFound, errors.New(msg))
		return
	}
	s.writeJSON(w, r, res)
}

func (s *Server) batchFindLatestVersions(w http.ResponseWriter, r *http.Request) {
	// limit request body to 1MB
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)

	batchRequest := new(api.BatchRequest)
	if err := json.NewDecoder(r.Body).Decode(batchRequest); err != nil {
		s.writeJSONError(w, r, http.StatusBadRequest, err, "could not decode request")
		return
	}
	if err := batchRequest.Validate(); err != nil {
		s.writeJSONError(w, r, http.StatusBadRequest, err)
		return
	}
	constraint, err := resolver.NewConstraint(batchRequest.MoodleVersion, batchRequest.MoodleRelease)
	if err != nil {
		s.writeJSONError(w, r, http.StatusBadRequest, err)
		return
	}

	results, err := s.service.FindLatestVersions(r.Context(), batchRequest.Plugins, constraint)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	batchResponse := &api.BatchResponse{
		MoodleTarget: constraint.String(),
		Results:      make([]*api.BatchResult, len(results)),
	}
	for i, res := range results {
		batchResponse.Results[i] = res.BatchResult()
	}
	s.writeJSON(w, r, batchResponse)
}

func (s *Server) getCacheStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.CacheStatus(r.Context())
	if err != nil {
		s.writeJSONError(w, r, http.StatusInternalServerError, err, "could not read cache status")
		return
	}
	s.writeJSON(w, r, st)
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	s.requestLogger(r).Warn("clearing plugin list cache")
	if err := s.service.ClearCache(r.Context()); err != nil {
		s.writeJSONError(w, r, http.StatusInternalServerError, err, "could not clear cache")
		return
	}
	s.cache.Flush()
	s.writeJSON(w, r, map[string]bool{"ok": true})
}
