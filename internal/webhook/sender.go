package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"email-hook-go/internal/signature"
	"email-hook-go/internal/version"
)

// Request headers of the wire protocol.
const (
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// maxResponseBody caps how much of an error response is kept.
const maxResponseBody = 1024

// Result is the outcome of one delivery attempt. StatusCode is zero when
// no response was received.
type Result struct {
	StatusCode int
	Response   string
	Err        error
	Duration   time.Duration
}

// OK reports whether the endpoint accepted the delivery.
func (r Result) OK() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Error describes a failed attempt for the queue's last_error column.
func (r Result) Error() string {
	switch {
	case r.Err != nil:
		return r.Err.Error()
	case r.OK():
		return ""
	case r.Response != "":
		return fmt.Sprintf("HTTP %d: %s", r.StatusCode, r.Response)
	default:
		return fmt.Sprintf("HTTP %d", r.StatusCode)
	}
}

// Sender signs and POSTs payloads.
type Sender struct {
	client    *http.Client
	userAgent string
	now       func() time.Time
}

// NewSender creates a sender whose requests time out after timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client:    &http.Client{Timeout: timeout},
		userAgent: version.UserAgent(),
		now:       time.Now,
	}
}

// Send delivers payload to url, signed with secret.
func (s *Sender) Send(ctx context.Context, url, secret string, payload []byte) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{Err: fmt.Errorf("failed to create request: %w", err)}
	}

	ts := s.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, signature.Sign(secret, ts, payload))

	start := time.Now()
	resp, err := s.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return Result{Err: err, Duration: elapsed}
	}
	defer resp.Body.Close()

	res := Result{StatusCode: resp.StatusCode, Duration: elapsed}
	if !res.OK() {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		res.Response = string(body)
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return res
}
