package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"email-hook-go/internal/bounce"
	"email-hook-go/internal/metrics"
	"email-hook-go/internal/model"
	"email-hook-go/internal/resolver"
	"email-hook-go/internal/store"
	"email-hook-go/internal/store/storetest"
)

const userUnknownBounce = "From: MAILER-DAEMON@mx.example.com\r\n" +
	"To: alice@sender.test\r\n" +
	"Subject: Undelivered Mail Returned to Sender\r\n" +
	"Message-Id: <bounce-1@mx.example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/report; report-type=delivery-status; boundary=\"BOUNDARY\"\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Your message could not be delivered.\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: message/delivery-status\r\n" +
	"\r\n" +
	"Reporting-MTA: dns; mx.example.com\r\n" +
	"\r\n" +
	"Final-Recipient: rfc822; john@example.com\r\n" +
	"Action: failed\r\n" +
	"Status: 5.1.1\r\n" +
	"Diagnostic-Code: smtp; 550 5.1.1 User unknown\r\n" +
	"--BOUNDARY--\r\n"

func newTestService(t *testing.T, s store.Store) (*Service, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(s, resolver.New(s, ""), m, 5*time.Second)
	svc.now = func() time.Time { return time.Date(2024, 3, 14, 10, 15, 0, 0, time.UTC) }
	return svc, m
}

func pendingItems(t *testing.T, s store.Store) []model.QueueItem {
	t.Helper()
	items, err := s.ListItems(context.Background(), "", 0)
	require.NoError(t, err)
	return items
}

func TestIngestFansOutToCatchAllAndUserRoutes(t *testing.T) {
	s := storetest.New(t)
	storetest.AddRoute(t, s, "example.com", "", "https://hooks.test/all", "catch-all-secret")
	storetest.AddRoute(t, s, "example.com", "john", "https://hooks.test/john", "john-secret")

	svc, m := newTestService(t, s)
	res, err := svc.IngestReader(context.Background(), strings.NewReader(userUnknownBounce))
	require.NoError(t, err)
	assert.Equal(t, Result{Records: 1, Enqueued: 2}, res)

	items := pendingItems(t, s)
	require.Len(t, items, 2)

	urls := map[string]string{}
	for _, item := range items {
		assert.Equal(t, model.StatusPending, item.Status)
		assert.Zero(t, item.AttemptCount)
		urls[item.URL] = item.SecretToken

		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(item.Payload), &payload))
		assert.Equal(t, "bounce", payload["event"])
		assert.Equal(t, "john@example.com", payload["email"])
		assert.Equal(t, true, payload["is_permanent"])
		assert.Equal(t, "5.1.1", payload["status"])
		assert.Equal(t, "failed", payload["action"])
		assert.Equal(t, "550 5.1.1 User unknown", payload["reason"])
		assert.Equal(t, "bounce-1@mx.example.com", payload["message_id"])
		assert.Equal(t, "2024-03-14T10:15:00Z", payload["timestamp"])
	}
	assert.Equal(t, map[string]string{
		"https://hooks.test/all":  "catch-all-secret",
		"https://hooks.test/john": "john-secret",
	}, urls)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ingested.WithLabelValues(metrics.IngestEnqueued)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Enqueued))
}

func TestIngestWithoutRoutesSucceeds(t *testing.T) {
	s := storetest.New(t)
	storetest.AddRoute(t, s, "other.org", "", "https://hooks.test/other", "k")

	svc, m := newTestService(t, s)
	res, err := svc.Ingest(context.Background(), []byte(userUnknownBounce))
	require.NoError(t, err)
	assert.Equal(t, Result{Records: 1}, res)
	assert.Empty(t, pendingItems(t, s))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ingested.WithLabelValues(metrics.IngestNoRoute)))
}

func TestIngestParseFailureEnqueuesNothing(t *testing.T) {
	s := storetest.New(t)
	storetest.AddRoute(t, s, "example.com", "", "https://hooks.test/all", "k")

	svc, m := newTestService(t, s)

	_, err := svc.Ingest(context.Background(), []byte("not an email"))
	assert.ErrorIs(t, err, bounce.ErrNotAnEmail)

	noRecipient := "From: MAILER-DAEMON@mx.example.com\r\nTo: alice@sender.test\r\nSubject: oops\r\n\r\nSomething failed.\r\n"
	_, err = svc.Ingest(context.Background(), []byte(noRecipient))
	assert.ErrorIs(t, err, bounce.ErrNoRecipient)

	assert.Empty(t, pendingItems(t, s))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ingested.WithLabelValues(metrics.IngestParseError)))
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, []*model.QueueItem) error {
	return errors.New("database is locked")
}

func TestIngestStoreFailure(t *testing.T) {
	s := storetest.New(t)
	storetest.AddRoute(t, s, "example.com", "", "https://hooks.test/all", "k")

	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(failingQueue{}, resolver.New(s, ""), m, 5*time.Second)

	_, err := svc.Ingest(context.Background(), []byte(userUnknownBounce))
	assert.ErrorContains(t, err, "database is locked")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ingested.WithLabelValues(metrics.IngestStoreError)))
}

type hungQueue struct{}

func (hungQueue) Enqueue(ctx context.Context, _ []*model.QueueItem) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestIngestStoreTimeout(t *testing.T) {
	s := storetest.New(t)
	storetest.AddRoute(t, s, "example.com", "", "https://hooks.test/all", "k")

	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(hungQueue{}, resolver.New(s, ""), m, 100*time.Millisecond)

	start := time.Now()
	_, err := svc.Ingest(context.Background(), []byte(userUnknownBounce))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ingested.WithLabelValues(metrics.IngestStoreError)))
}
