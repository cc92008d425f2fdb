package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/config"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/lookup"
	"github.com/sirupsen/logrus"
)

const (
	LogFieldRequestID    = "requestId"
	LogFieldHTTPRequest  = "httpRequest"
	LogFieldPlugin       = "plugin"
	LogFieldMoodleTarget = "moodleTarget"
)

type Server struct {
	router  chi.Router
	log     *logrus.Logger
	service *lookup.Service
	config  *config.Config
	cache   *cache.Cache
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("not found"))
}

func (s *Server) methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONError(w, r, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, map[string]string{
		"service": "moodle plugin lookup",
		"stage":   s.config.Stage,
		"version": s.config.Version,
	})
}

func New(log *logrus.Logger, service *lookup.Service, cfg *config.Config) *Server {
	router := chi.NewRouter()
	server := &Server{
		router:  router,
		log:     log,
		service: service,
		config:  cfg,
		cache:   cache.New(time.Minute, 2*time.Minute),
	}
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(server.logMiddleware)
	router.Use(server.recoverMiddleware)

	router.Use(middleware.Timeout(2 * time.Minute))

	router.NotFound(server.notFoundHandler)
	router.MethodNotAllowed(server.methodNotAllowedHandler)

	router.Get("/", server.indexHandler)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/pluglist", server.getPluglist)

		r.Route("/plugins", func(r chi.Router) {
			r.Post("/_batch", server.batchFindLatestVersions)
			r.Get("/{plugin}/versions", server.listPluginVersions)
			r.With(server.cacheMiddleware).Get("/{plugin}/latest", server.findLatestVersion)
			r.Get("/{plugin}/latest/download", server.downloadLatestVersion)
		})

		r.Get("/cache", server.getCacheStatus)
		r.With(server.authMiddleware).Delete("/cache", server.clearCache)
	})

	return server
}
