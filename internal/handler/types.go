package handler

import (
	"encoding/json"
	"time"

	"email-hook-go/internal/model"
)

// QueueItemResponse represents a queue row. The secret token is never
// exposed.
type QueueItemResponse struct {
	ID            string          `json:"id"`
	RouteID       uint            `json:"route_id"`
	URL           string          `json:"url"`
	Status        string          `json:"status"`
	AttemptCount  int             `json:"attempt_count"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func newQueueItemResponse(item model.QueueItem) QueueItemResponse {
	payload := json.RawMessage(item.Payload)
	if !json.Valid(payload) {
		payload, _ = json.Marshal(item.Payload)
	}
	return QueueItemResponse{
		ID:            item.ID,
		RouteID:       item.RouteID,
		URL:           item.URL,
		Status:        string(item.Status),
		AttemptCount:  item.AttemptCount,
		NextAttemptAt: item.NextAttemptAt,
		LastError:     item.LastError,
		Payload:       payload,
		CreatedAt:     item.CreatedAt,
		UpdatedAt:     item.UpdatedAt,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Worker    string    `json:"worker"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
