package app

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"email-hook-go/internal/config"
	"email-hook-go/internal/ingest"
	"email-hook-go/internal/metrics"
	"email-hook-go/internal/resolver"
	"email-hook-go/internal/store"
)

// runIngest reads one email from r and enqueues its deliveries. Any error
// makes the process exit non-zero so the MTA keeps or bounces the message.
func runIngest(ctx context.Context, cfg *config.Config, r io.Reader) error {
	s, _, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer s.Close()

	svc := ingest.NewService(s, resolver.New(s, cfg.Ingest.RecipientDelimiter), metrics.New(prometheus.NewRegistry()), cfg.Worker.APITimeout())
	_, err = svc.IngestReader(ctx, r)
	return err
}
