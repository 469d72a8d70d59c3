// Package worker delivers queued webhooks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"email-hook-go/internal/config"
	"email-hook-go/internal/metrics"
	"email-hook-go/internal/model"
	"email-hook-go/internal/store"
	"email-hook-go/internal/webhook"
)

// BaseDelay is the first retry delay; each further attempt doubles it up
// to the configured maximum.
const BaseDelay = time.Second

// Queue is the part of the store the worker drives.
type Queue interface {
	RecoverStale(ctx context.Context, before time.Time) (int64, error)
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]model.QueueItem, error)
	MarkDelivered(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error
	MarkPermanentFailure(ctx context.Context, id string, lastError string) error
}

// Sender performs one signed delivery attempt.
type Sender interface {
	Send(ctx context.Context, url, secret string, payload []byte) webhook.Result
}

// CycleResult counts what one cycle did.
type CycleResult struct {
	Recovered int64 `json:"recovered"`
	Claimed   int   `json:"claimed"`
	Delivered int   `json:"delivered"`
	Retried   int   `json:"retried"`
	Failed    int   `json:"failed"`
}

// Worker runs delivery cycles against the queue.
type Worker struct {
	queue   Queue
	sender  Sender
	cfg     config.WorkerConfig
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a new worker
func New(queue Queue, sender Sender, cfg config.WorkerConfig, m *metrics.Metrics) *Worker {
	return &Worker{
		queue:   queue,
		sender:  sender,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
	}
}

// Run is a scheduler job running one cycle.
func (w *Worker) Run(ctx context.Context) error {
	_, err := w.RunCycle(ctx)
	return err
}

// RunCycle recovers stale claims, claims due items and delivers them with
// bounded concurrency. Delivery failures become queue state; only store
// errors are returned.
func (w *Worker) RunCycle(ctx context.Context) (CycleResult, error) {
	var res CycleResult
	now := w.now().UTC()

	storeCtx, cancel := context.WithTimeout(ctx, w.cfg.APITimeout())
	recovered, err := w.queue.RecoverStale(storeCtx, now.Add(-w.cfg.StaleAfter()))
	cancel()
	if err != nil {
		w.metrics.CycleErrors.Inc()
		return res, err
	}
	res.Recovered = recovered
	if recovered > 0 {
		w.metrics.Recovered.Add(float64(recovered))
		logrus.WithField("count", recovered).Warn("Recovered stale deliveries")
	}

	storeCtx, cancel = context.WithTimeout(ctx, w.cfg.APITimeout())
	items, err := w.queue.ClaimDue(storeCtx, w.cfg.ItemsPerIteration, now)
	cancel()
	if err != nil {
		w.metrics.CycleErrors.Inc()
		return res, err
	}
	res.Claimed = len(items)
	if len(items) == 0 {
		return res, nil
	}
	w.metrics.Claimed.Add(float64(len(items)))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(w.cfg.Concurrency)

	for _, item := range items {
		item := item
		g.Go(func() error {
			outcome, err := w.deliver(ctx, item)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case metrics.DeliveryDelivered:
				res.Delivered++
			case metrics.DeliveryRetry:
				res.Retried++
			case metrics.DeliveryFailedPermanent:
				res.Failed++
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		w.metrics.CycleErrors.Inc()
		return res, err
	}

	logrus.WithFields(logrus.Fields{
		"claimed":   res.Claimed,
		"delivered": res.Delivered,
		"retried":   res.Retried,
		"failed":    res.Failed,
	}).Info("Delivery cycle completed")
	return res, nil
}

// deliver sends one claimed item and records the outcome.
func (w *Worker) deliver(ctx context.Context, item model.QueueItem) (string, error) {
	logger := logrus.WithFields(logrus.Fields{
		"id":      item.ID,
		"url":     item.URL,
		"attempt": item.AttemptCount + 1,
	})

	result := w.sender.Send(ctx, item.URL, item.SecretToken, []byte(item.Payload))
	w.metrics.DeliveryDuration.Observe(result.Duration.Seconds())

	// Outcomes are persisted even when shutdown cancelled the request, but
	// must land within the recovery window.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.APITimeout())
	defer cancel()

	var (
		outcome string
		err     error
	)
	switch {
	case result.OK():
		outcome = metrics.DeliveryDelivered
		err = w.queue.MarkDelivered(markCtx, item.ID)
		logger.Debug("Webhook delivered")

	case item.AttemptCount+1 >= w.cfg.MaxRetries:
		outcome = metrics.DeliveryFailedPermanent
		err = w.queue.MarkPermanentFailure(markCtx, item.ID, result.Error())
		logger.WithField("error", result.Error()).Error("Webhook delivery failed permanently")

	default:
		outcome = metrics.DeliveryRetry
		delay := Backoff(item.AttemptCount, w.cfg.MaxDelay())
		err = w.queue.MarkRetry(markCtx, item.ID, w.now().UTC().Add(delay), result.Error())
		logger.WithFields(logrus.Fields{
			"error": result.Error(),
			"delay": delay.String(),
		}).Warn("Webhook delivery failed, will retry")
	}

	if errors.Is(err, store.ErrNotClaimed) {
		// The claim was recovered by the sweep while this attempt ran.
		logger.Warn("Delivery outcome dropped, item is no longer claimed")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to record delivery of %s: %w", item.ID, err)
	}

	w.metrics.Deliveries.WithLabelValues(outcome).Inc()
	return outcome, nil
}

// Backoff returns BaseDelay doubled attempt times, capped at max.
func Backoff(attempt int, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := BaseDelay
	for i := 0; i < attempt; i++ {
		if delay >= max {
			return max
		}
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}
