// Package httpapi implements the /v1 ingestion and query API described in
// spec.md §6, using gin (the server's properly-declared HTTP framework —
// the teacher's pkg/api/server.go pulled in echo v5, which go.mod never
// actually required; cmd/tarsy/main.go and pkg/api/handlers.go both used
// gin instead, so this package follows that path).
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/processlog/eventlog/pkg/config"
	"github.com/processlog/eventlog/pkg/database"
	"github.com/processlog/eventlog/pkg/obs"
	"github.com/processlog/eventlog/pkg/store"
	"github.com/processlog/eventlog/pkg/version"
)

// Server is the HTTP API server for eventlogd.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	dbClient   *database.Client
	store      *store.EventStore
	metrics    *obs.Metrics
}

// NewServer wires the gin engine, registers middleware and routes, and
// returns a ready-to-Start Server.
func NewServer(cfg *config.Config, dbClient *database.Client, eventStore *store.EventStore, metrics *obs.Metrics) *Server {
	gin.SetMode(cfg.GinMode)
	engine := gin.New()

	s := &Server{
		engine:   engine,
		cfg:      cfg,
		dbClient: dbClient,
		store:    eventStore,
		metrics:  metrics,
	}

	engine.Use(gin.Recovery())
	engine.Use(requestLogger())
	engine.Use(metricsMiddleware(metrics))
	engine.Use(bodyLimit(cfg.MaxBodyBytes))
	if cfg.AuthToken != "" {
		engine.Use(bearerAuth(cfg.AuthToken))
	}

	s.setupRoutes()
	return s
}

// incRejected records an events_rejected_total observation for a rejection
// that never reaches the store (request-level validation failures).
func (s *Server) incRejected(reason string) {
	if s.metrics == nil {
		return
	}
	s.metrics.EventsRejectedTotal.WithLabelValues(reason).Inc()
}

func (s *Server) setupRoutes() {
	s.engine.GET("/v1/healthcheck", s.healthcheckHandler)
	s.engine.GET("/v1/healthcheck/ready", s.readinessHandler)
	s.engine.GET("/metrics", prometheusHandler())

	v1 := s.engine.Group("/v1")
	v1.POST("/events", s.insertEventsHandler)
	v1.POST("/events/batch", s.insertBatchHandler)
	v1.GET("/events/correlation/:id", s.getByCorrelationHandler)
	v1.GET("/events/trace/:id", s.getByTraceHandler)
	v1.GET("/events/account/:id", s.getByAccountHandler)
	v1.GET("/events/batch/:id", s.getByBatchHandler)
	v1.GET("/events/batch/:id/summary", s.getBatchSummaryHandler)
	v1.GET("/events/search", s.searchHandler)
	v1.POST("/correlation-links", s.createCorrelationLinkHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthcheckHandler handles GET /v1/healthcheck: a fast liveness probe
// that does not touch the database.
func (s *Server) healthcheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Full()})
}

// readinessHandler handles GET /v1/healthcheck/ready: runs SELECT 1 against
// the pool with a 3s timeout (spec.md §6).
func (s *Server) readinessHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	health, err := database.Health(ctx, s.dbClient.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": health, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "database": health})
}
