package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"email-hook-go/internal/scheduler"
)

// StartWorker starts the delivery loop
func (h *Handlers) StartWorker(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			code = http.StatusConflict
		}
		c.JSON(code, ErrorResponse{
			Error:   "worker_error",
			Message: err.Error(),
			Code:    code,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Worker started successfully",
		"status":  "running",
	})
}

// StopWorker stops the delivery loop after the running cycle
func (h *Handlers) StopWorker(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "worker_error",
			Message: "Failed to stop worker",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Worker stopped successfully",
		"status":  "stopped",
	})
}

// RunOnce runs a single delivery cycle
func (h *Handlers) RunOnce(c *gin.Context) {
	if err := h.scheduler.RunOnce(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "cycle_error",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Delivery cycle completed successfully",
	})
}

// GetWorkerStatus returns the current worker status
func (h *Handlers) GetWorkerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}
