// Package api exposes the HTTP surface: the signed webhook ingress, the
// health and metrics endpoints and the admin operations.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zapflow/zapflow/pkg/cache"
	"github.com/zapflow/zapflow/pkg/config"
	"github.com/zapflow/zapflow/pkg/contextengine"
	"github.com/zapflow/zapflow/pkg/database"
	"github.com/zapflow/zapflow/pkg/metrics"
	"github.com/zapflow/zapflow/pkg/queue"
	"github.com/zapflow/zapflow/pkg/ratelimit"
	"github.com/zapflow/zapflow/pkg/services"
	"github.com/zapflow/zapflow/pkg/tenant"
)

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	cfg      *config.Config
	resolver *tenant.Resolver
	limiter  *ratelimit.Limiter
	queue    *queue.Gateway
	cache    *cache.Client
	db       *database.Client
	engine   *contextengine.Engine
	store    *services.Store
	metrics  *metrics.Metrics
}

// NewServer wires the HTTP layer.
func NewServer(
	cfg *config.Config,
	resolver *tenant.Resolver,
	limiter *ratelimit.Limiter,
	queueGateway *queue.Gateway,
	cacheClient *cache.Client,
	db *database.Client,
	engine *contextengine.Engine,
	store *services.Store,
	m *metrics.Metrics,
) *Server {
	return &Server{
		cfg:      cfg,
		resolver: resolver,
		limiter:  limiter,
		queue:    queueGateway,
		cache:    cacheClient,
		db:       db,
		engine:   engine,
		store:    store,
		metrics:  m,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/webhook/whaticket", s.handleWebhook)
	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	admin := router.Group("/admin")
	admin.POST("/dead-letter/:id/requeue", s.handleDeadLetterRequeue)
	admin.PUT("/tenants/:id/personalization", s.handlePersonalizationUpdate)

	return router
}
