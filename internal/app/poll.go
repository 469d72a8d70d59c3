package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"email-hook-go/internal/config"
	"email-hook-go/internal/ingest"
	"email-hook-go/internal/mailbox"
	"email-hook-go/internal/metrics"
	"email-hook-go/internal/resolver"
	"email-hook-go/internal/scheduler"
	"email-hook-go/internal/store"
)

// runPoll ingests bounces from the configured IMAP mailbox until ctx is
// cancelled.
func runPoll(ctx context.Context, cfg *config.Config) error {
	if !cfg.IMAP.Enabled {
		return errors.New("mailbox polling is disabled, set imap.enabled")
	}

	s, _, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer s.Close()

	m := metrics.New(prometheus.NewRegistry())
	svc := ingest.NewService(s, resolver.New(s, cfg.Ingest.RecipientDelimiter), m, cfg.Worker.APITimeout())
	poller := mailbox.NewPoller(mailbox.DialIMAP(cfg.IMAP), svc, m)

	sched := scheduler.New("mailbox", cfg.IMAP.PollInterval(), poller.Poll)

	// Poll right away instead of waiting a full interval.
	_ = sched.RunOnce(ctx)

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start mailbox poller: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"server":   cfg.IMAP.Address(),
		"mailbox":  cfg.IMAP.Mailbox,
		"interval": cfg.IMAP.PollInterval().String(),
	}).Info("Mailbox poller started")

	<-ctx.Done()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop mailbox poller: %v", err)
	}
	sched.Wait()
	return nil
}
