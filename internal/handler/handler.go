package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"email-hook-go/internal/scheduler"
	"email-hook-go/internal/store"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	store     store.Store
	scheduler *scheduler.Scheduler
	gatherer  prometheus.Gatherer
}

// NewHandlers creates new HTTP handlers
func NewHandlers(s store.Store, sched *scheduler.Scheduler, gatherer prometheus.Gatherer) *Handlers {
	return &Handlers{
		store:     s,
		scheduler: sched,
		gatherer:  gatherer,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/worker/status", h.GetWorkerStatus)
		api.POST("/worker/start", h.StartWorker)
		api.POST("/worker/stop", h.StopWorker)
		api.POST("/worker/run-once", h.RunOnce)

		api.GET("/queue", h.ListQueue)
		api.GET("/queue/:id", h.GetQueueItem)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Worker:    "stopped",
	}

	if err := h.store.Ping(c.Request.Context()); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.scheduler.IsRunning() {
		response.Worker = "running"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
