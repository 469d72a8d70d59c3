package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"email-hook-go/internal/model"
	"email-hook-go/internal/store"
)

// ListQueue returns queue items, newest first, optionally by status
func (h *Handlers) ListQueue(c *gin.Context) {
	status := model.QueueStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_status",
			Message: "Unknown queue status",
			Code:    http.StatusBadRequest,
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	items, err := h.store.ListItems(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch queue items",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	responses := make([]QueueItemResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, newQueueItemResponse(item))
	}

	c.JSON(http.StatusOK, gin.H{
		"items": responses,
		"count": len(responses),
	})
}

// GetQueueItem returns a specific queue item
func (h *Handlers) GetQueueItem(c *gin.Context) {
	item, err := h.store.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Queue item not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch queue item",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, newQueueItemResponse(*item))
}
