// Package webhook renders bounce notifications and delivers them to
// subscriber endpoints.
package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"email-hook-go/internal/bounce"
)

// EventBounce is the only event type currently emitted.
const EventBounce = "bounce"

// Payload is the JSON body POSTed to subscribers. Missing source fields
// are sent as empty strings, never omitted.
type Payload struct {
	Event       string            `json:"event"`
	Timestamp   string            `json:"timestamp"`
	MessageID   string            `json:"message_id"`
	From        string            `json:"from"`
	Subject     string            `json:"subject"`
	Email       string            `json:"email"`
	Reason      string            `json:"reason"`
	Status      string            `json:"status"`
	Action      string            `json:"action"`
	IsPermanent bool              `json:"is_permanent"`
	Metadata    map[string]string `json:"metadata"`
}

// NewPayload builds the payload for one bounced recipient.
func NewPayload(rec bounce.Record, at time.Time) Payload {
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return Payload{
		Event:       EventBounce,
		Timestamp:   at.UTC().Format(time.RFC3339),
		MessageID:   rec.MessageID,
		From:        rec.From,
		Subject:     rec.Subject,
		Email:       rec.Recipient,
		Reason:      rec.Diagnostic,
		Status:      rec.Status,
		Action:      string(rec.Action),
		IsPermanent: rec.IsPermanent,
		Metadata:    metadata,
	}
}

// Render returns the JSON encoding stored in the queue and sent verbatim.
func Render(rec bounce.Record, at time.Time) ([]byte, error) {
	body, err := json.Marshal(NewPayload(rec, at))
	if err != nil {
		return nil, fmt.Errorf("failed to render payload: %w", err)
	}
	return body, nil
}
