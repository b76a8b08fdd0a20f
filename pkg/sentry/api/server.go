package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	config "github.com/tigerroll/sentry/pkg/sentry/core/config"
	metrics "github.com/tigerroll/sentry/pkg/sentry/core/metrics"
	logger "github.com/tigerroll/sentry/pkg/sentry/support/util/logger"
)

// registryProvider is satisfied by the Prometheus recorder; other recorders
// simply leave the /metrics endpoint unregistered.
type registryProvider interface {
	GetRegistry() *prometheus.Registry
}

// Server is the HTTP surface of the service.
type Server struct {
	engine *gin.Engine
	srv    *http.Server

	chat     ChatHandler
	catalog  Catalog
	progress ProgressFetcher
	health   HealthChecker
	cfg      *config.Config
	now      func() time.Time
}

// NewServer builds the gin engine and mounts all routes.
func NewServer(cfg *config.Config, chat ChatHandler, cat Catalog, progress ProgressFetcher, health HealthChecker, recorder metrics.MetricRecorder) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		engine:   engine,
		chat:     chat,
		catalog:  cat,
		progress: progress,
		health:   health,
		cfg:      cfg,
		now:      time.Now,
	}
	s.srv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Sentry.Server.Host, cfg.Sentry.Server.Port),
		Handler: engine,
	}

	apiGroup := engine.Group("/api")
	{
		apiGroup.POST("/chat", s.handleChat)
		apiGroup.POST("/chat/stream", s.handleChatStream)
		apiGroup.GET("/essentials", s.handleEssentials)
		apiGroup.GET("/status/:name", s.handleStatus)
		apiGroup.GET("/catalog/refresh", s.handleCatalogRefresh)
		apiGroup.GET("/health", s.handleHealth)
	}

	if rp, ok := recorder.(registryProvider); ok {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(rp.GetRegistry(), promhttp.HandlerOpts{})))
	}
	return s
}

// Engine exposes the underlying gin engine, primarily for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		logger.Infof("HTTP server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("HTTP server stopped: %v", err)
		}
	}()
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// requestLogger logs one line per request at debug level.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(started))
	}
}
