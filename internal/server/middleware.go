package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/metrics"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
)

const requestCacheName = "request"

// adminToken extracts the token from the Authorization header, with or
// without a Bearer prefix.
func adminToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	return header
}

// authMiddleware guards cache administration with ADMIN_ACCESS_TOKEN.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.AdminAccessToken == "" {
			s.writeJSONError(w, r, http.StatusUnauthorized, errors.New("cache administration is disabled, no access token configured"), "no access token configured")
			return
		}
		if subtle.ConstantTimeCompare([]byte(adminToken(r)), []byte(s.config.AdminAccessToken)) != 1 {
			s.writeJSONError(w, r, http.StatusUnauthorized, fmt.Errorf("invalid access token from %s", r.RemoteAddr), "invalid access token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logMiddleware logs every request once it is answered, with status and
// duration. Route parameters are only known after routing, so the entry is
// built afterwards.
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.requestLogger(r).WithFields(logrus.Fields{
			"status":   ww.Status(),
			"duration": time.Since(start).Round(time.Millisecond).String(),
			"cacheHit": ww.Header().Get("X-Go-Cache") == "HIT",
		}).Infof("%s %s (%s)", r.Method, r.URL.EscapedPath(), r.RemoteAddr)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.writeJSONError(w, r, http.StatusInternalServerError, fmt.Errorf("panic: %v", rec), "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// request cache: successful lookups are kept for a short time so repeated
// queries skip parsing the plugin list.

func (s *Server) getCacheKeyFromRequest(r *http.Request) string {
	return fmt.Sprintf("%s:%s", r.Method, r.URL.RequestURI())
}

func (s *Server) recordRequestCache(ctx context.Context, m *stats.Int64Measure) {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.TagCacheBackend, requestCacheName))
	stats.Record(ctx, m.M(1))
}

func (s *Server) getFromCache(r *http.Request) (any, bool) {
	val, ok := s.cache.Get(s.getCacheKeyFromRequest(r))
	if ok {
		s.recordRequestCache(r.Context(), metrics.CounterCacheHit)
	}
	return val, ok
}

func (s *Server) setInCache(r *http.Request, v any) {
	if s.config.DisableRequestCache {
		return
	}
	s.recordRequestCache(r.Context(), metrics.CounterCacheMiss)
	s.cache.Set(s.getCacheKeyFromRequest(r), v, cache.DefaultExpiration)
}

func (s *Server) cacheMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.DisableRequestCache {
			next.ServeHTTP(w, r)
			return
		}
		if v, ok := s.getFromCache(r); ok {
			w.Header().Set("X-Go-Cache", "HIT")
			s.writeJSON(w, r, v)
			return
		}
		next.ServeHTTP(w, r)
	})
}
