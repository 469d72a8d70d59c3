// Package ingest is the path from a raw bounce email to queued webhook
// deliveries.
package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"email-hook-go/internal/bounce"
	"email-hook-go/internal/metrics"
	"email-hook-go/internal/model"
	"email-hook-go/internal/resolver"
	"email-hook-go/internal/webhook"
)

// Enqueuer persists queue items atomically.
type Enqueuer interface {
	Enqueue(ctx context.Context, items []*model.QueueItem) error
}

// Result summarizes one ingested email.
type Result struct {
	Records  int
	Enqueued int
}

// Service parses bounces, resolves their routes and enqueues one delivery
// per (recipient, route) pair.
type Service struct {
	queue    Enqueuer
	resolver *resolver.Resolver
	metrics  *metrics.Metrics
	timeout  time.Duration
	now      func() time.Time
}

// NewService creates an ingest service. Each store call is bounded by
// timeout; zero leaves them bounded only by the caller's context.
func NewService(queue Enqueuer, r *resolver.Resolver, m *metrics.Metrics, timeout time.Duration) *Service {
	return &Service{
		queue:    queue,
		resolver: r,
		metrics:  m,
		timeout:  timeout,
		now:      time.Now,
	}
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// IngestReader reads one raw email from r and ingests it.
func (s *Service) IngestReader(ctx context.Context, r io.Reader) (Result, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read email: %w", err)
	}
	return s.Ingest(ctx, raw)
}

// Ingest parses raw and enqueues every resulting delivery in a single
// transaction. A parse or store error leaves the queue untouched. Bounces
// whose recipients match no route succeed with nothing enqueued.
func (s *Service) Ingest(ctx context.Context, raw []byte) (Result, error) {
	records, err := bounce.Parse(raw)
	if err != nil {
		s.metrics.Ingested.WithLabelValues(metrics.IngestParseError).Inc()
		return Result{}, fmt.Errorf("failed to parse bounce: %w", err)
	}

	res := Result{Records: len(records)}
	now := s.now()

	var items []*model.QueueItem
	for _, rec := range records {
		storeCtx, cancel := s.storeContext(ctx)
		routes, err := s.resolver.Resolve(storeCtx, rec.Recipient)
		cancel()
		if err != nil {
			s.metrics.Ingested.WithLabelValues(metrics.IngestStoreError).Inc()
			return Result{}, err
		}

		logger := logrus.WithFields(logrus.Fields{
			"recipient": rec.Recipient,
			"status":    rec.Status,
			"action":    rec.Action,
			"routes":    len(routes),
		})
		if len(routes) == 0 {
			logger.Info("No route matches bounced recipient")
			continue
		}
		logger.Debug("Resolved routes for bounced recipient")

		payload, err := webhook.Render(rec, now)
		if err != nil {
			return Result{}, err
		}
		for _, route := range routes {
			items = append(items, &model.QueueItem{
				RouteID:     route.ID,
				URL:         route.URL,
				SecretToken: route.SecretToken,
				Payload:     string(payload),
			})
		}
	}

	if len(items) == 0 {
		s.metrics.Ingested.WithLabelValues(metrics.IngestNoRoute).Inc()
		return res, nil
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.queue.Enqueue(storeCtx, items); err != nil {
		s.metrics.Ingested.WithLabelValues(metrics.IngestStoreError).Inc()
		return Result{}, err
	}

	res.Enqueued = len(items)
	s.metrics.Ingested.WithLabelValues(metrics.IngestEnqueued).Inc()
	s.metrics.Enqueued.Add(float64(len(items)))

	logrus.WithFields(logrus.Fields{
		"records":  res.Records,
		"enqueued": res.Enqueued,
	}).Info("Bounce ingested")
	return res, nil
}
