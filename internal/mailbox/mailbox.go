// Package mailbox polls an IMAP mailbox for bounces and feeds them to the
// ingest path.
package mailbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"email-hook-go/internal/bounce"
	"email-hook-go/internal/ingest"
	"email-hook-go/internal/metrics"
)

// Message is one fetched message in raw RFC 822 form.
type Message struct {
	UID uint32
	Raw []byte
}

// Mailbox is an open mailbox session.
type Mailbox interface {
	FetchUnseen(ctx context.Context) ([]Message, error)
	MarkSeen(ctx context.Context, uids []uint32) error
	Close() error
}

// Dialer opens a new mailbox session for each poll.
type Dialer func(ctx context.Context) (Mailbox, error)

// Ingester consumes one raw email.
type Ingester interface {
	Ingest(ctx context.Context, raw []byte) (ingest.Result, error)
}

// Poller ingests unseen messages. Messages are flagged seen once handled,
// including ones that are not usable bounces; messages that hit a store
// error stay unseen and are picked up by the next poll.
type Poller struct {
	dial     Dialer
	ingester Ingester
	metrics  *metrics.Metrics
}

// NewPoller creates a new mailbox poller
func NewPoller(dial Dialer, ingester Ingester, m *metrics.Metrics) *Poller {
	return &Poller{dial: dial, ingester: ingester, metrics: m}
}

// Poll runs one fetch-and-ingest pass.
func (p *Poller) Poll(ctx context.Context) error {
	mb, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to open mailbox: %w", err)
	}
	defer func() {
		if err := mb.Close(); err != nil {
			logrus.Warnf("Failed to close mailbox: %v", err)
		}
	}()

	messages, err := mb.FetchUnseen(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}
	p.metrics.MailboxFetched.Add(float64(len(messages)))
	if len(messages) == 0 {
		return nil
	}

	var handled []uint32
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}

		logger := logrus.WithField("uid", msg.UID)
		_, err := p.ingester.Ingest(ctx, msg.Raw)
		switch {
		case err == nil:
			handled = append(handled, msg.UID)
		case errors.Is(err, bounce.ErrNotAnEmail), errors.Is(err, bounce.ErrNoRecipient):
			logger.Warnf("Skipping message: %v", err)
			handled = append(handled, msg.UID)
		default:
			logger.Errorf("Failed to ingest message, leaving it unseen: %v", err)
		}
	}

	if len(handled) == 0 {
		return nil
	}
	if err := mb.MarkSeen(ctx, handled); err != nil {
		return fmt.Errorf("failed to flag messages as seen: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"fetched": len(messages),
		"handled": len(handled),
	}).Info("Mailbox poll completed")
	return nil
}
