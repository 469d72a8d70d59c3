package mailbox

import (
	"context"
	"fmt"
	"io"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"email-hook-go/internal/config"
)

// IMAPMailbox is a Mailbox backed by an IMAP connection.
type IMAPMailbox struct {
	client  *client.Client
	mailbox string
}

// DialIMAP returns a Dialer that logs in over TLS and selects the
// configured mailbox.
func DialIMAP(cfg config.IMAPConfig) Dialer {
	return func(ctx context.Context) (Mailbox, error) {
		c, err := client.DialTLS(cfg.Address(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
		}

		if err := c.Login(cfg.User, cfg.Password); err != nil {
			_ = c.Logout()
			return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
		}

		if _, err := c.Select(cfg.Mailbox, false); err != nil {
			_ = c.Logout()
			return nil, fmt.Errorf("failed to select %s: %w", cfg.Mailbox, err)
		}

		return &IMAPMailbox{client: c, mailbox: cfg.Mailbox}, nil
	}
}

// FetchUnseen returns the full body of every message without \Seen. Bodies
// are fetched with PEEK so fetching alone does not flag them.
func (m *IMAPMailbox) FetchUnseen(ctx context.Context) ([]Message, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := m.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.client.UidFetch(seqset, items, messages)
	}()

	var out []Message
	for msg := range messages {
		r := msg.GetBody(section)
		if r == nil {
			continue
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			continue
		}
		out = append(out, Message{UID: msg.Uid, Raw: raw})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return out, nil
}

// MarkSeen adds \Seen to the given messages.
func (m *IMAPMailbox) MarkSeen(ctx context.Context, uids []uint32) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	return m.client.UidStore(seqset, item, flags, nil)
}

// Close logs out of the server.
func (m *IMAPMailbox) Close() error {
	return m.client.Logout()
}
