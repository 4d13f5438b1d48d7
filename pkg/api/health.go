package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zapflow/zapflow/pkg/database"
)

type dependencyStatus struct {
	Status    string  `json:"status"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// handleHealthz reports liveness: database ping, cache ping and at least
// one fresh worker heartbeat. Any failing dependency degrades the whole
// response to 503.
func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	deps := gin.H{}
	healthy := true

	dbStatus := s.checkDatabase(ctx)
	deps["database"] = dbStatus
	healthy = healthy && dbStatus.Status == "ok"

	cacheStatus := s.checkCache(ctx)
	deps["cache"] = cacheStatus
	healthy = healthy && cacheStatus.Status == "ok"

	workerStatus := s.checkWorkers(ctx)
	deps["workers"] = workerStatus
	healthy = healthy && workerStatus.Status == "ok"

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "dependencies": deps})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "dependencies": deps})
}

func (s *Server) checkDatabase(ctx context.Context) dependencyStatus {
	h, err := database.Health(ctx, s.db.DB())
	out := dependencyStatus{Status: "ok", LatencyMS: float64(h.LatencyMS), Error: h.Error}
	if err != nil {
		out.Status = "error"
		s.metrics.HealthcheckFailures.WithLabelValues("database").Inc()
	}
	return out
}

func (s *Server) checkCache(ctx context.Context) dependencyStatus {
	start := time.Now()
	err := s.cache.Ping(ctx)
	out := dependencyStatus{
		Status:    "ok",
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		out.Status = "error"
		out.Error = err.Error()
		s.metrics.HealthcheckFailures.WithLabelValues("cache").Inc()
	}
	return out
}

// checkWorkers passes when at least one worker heartbeat key is alive.
// Heartbeat keys expire at the staleness threshold, so existence implies
// freshness. SCAN keeps the health path from blocking Redis on large
// keyspaces.
func (s *Server) checkWorkers(ctx context.Context) dependencyStatus {
	start := time.Now()
	iter := s.cache.Redis().Scan(ctx, 0, "worker:heartbeat:*", 100).Iterator()
	alive := iter.Next(ctx)
	err := iter.Err()
	out := dependencyStatus{
		Status:    "ok",
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	switch {
	case err != nil:
		out.Status = "error"
		out.Error = err.Error()
	case !alive:
		out.Status = "error"
		out.Error = "no live worker heartbeat"
	}
	if out.Status != "ok" {
		s.metrics.HealthcheckFailures.WithLabelValues("workers").Inc()
	}
	return out
}
