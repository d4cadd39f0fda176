// Package http is the gateway's HTTP surface: POST /query, GET /stats,
// POST /invalidate, GET /health, GET /ready, grounded on the teacher's
// app/interfaces/http/http_server.go gin-wiring shape.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/opskb/ragd/internal/breaker"
	"github.com/opskb/ragd/internal/metrics"
	"github.com/opskb/ragd/internal/orchestrator"
	"github.com/opskb/ragd/internal/queryengine"
	"github.com/opskb/ragd/internal/semanticcache"
	httpmiddleware "github.com/opskb/ragd/interfaces/http/middleware"
)

// Config holds the listener tunables from spec.md §6 ("http.addr",
// "http.read_timeout_ms", "http.write_timeout_ms").
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{Addr: ":8080", ReadTimeout: 10 * time.Second, WriteTimeout: 30 * time.Second}
}

// Server is the gateway's HTTP surface.
type Server struct {
	cfg          Config
	engine       *gin.Engine
	orchestrator *orchestrator.Orchestrator
	cache        *semanticcache.Cache
	sources      *queryengine.Registry
	breakers     *breaker.Registry
	metrics      *metrics.Registry
	readyNames   []string
}

// NewServer wires the route table over the already-constructed pipeline.
// readyNames lists every breaker name (source ids plus "llm") that GET
// /ready checks before reporting ready.
func NewServer(cfg Config, o *orchestrator.Orchestrator, cache *semanticcache.Cache, sources *queryengine.Registry, breakers *breaker.Registry, metricsRegistry *metrics.Registry, readyNames []string) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:          cfg,
		engine:       gin.New(),
		orchestrator: o,
		cache:        cache,
		sources:      sources,
		breakers:     breakers,
		metrics:      metricsRegistry,
		readyNames:   readyNames,
	}
	s.engine.Use(gin.Recovery(), httpmiddleware.Logger(logrus.StandardLogger()))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.POST("/query", s.handleQuery)
	s.engine.GET("/stats", s.handleStats)
	s.engine.POST("/invalidate", s.handleInvalidate)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)
}

// Run starts the HTTP server, blocking until it exits.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	return srv.ListenAndServe()
}
