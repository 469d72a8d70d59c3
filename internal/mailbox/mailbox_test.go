package mailbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"email-hook-go/internal/ingest"
	"email-hook-go/internal/metrics"
	"email-hook-go/internal/resolver"
	"email-hook-go/internal/store/storetest"
)

const bounceMessage = "From: MAILER-DAEMON@mx.example.com\r\n" +
	"To: alice@sender.test\r\n" +
	"Subject: Undelivered Mail Returned to Sender\r\n" +
	"Content-Type: multipart/report; report-type=delivery-status; boundary=\"B\"\r\n" +
	"\r\n" +
	"--B\r\n" +
	"Content-Type: message/delivery-status\r\n" +
	"\r\n" +
	"Reporting-MTA: dns; mx.example.com\r\n" +
	"\r\n" +
	"Final-Recipient: rfc822; john@example.com\r\n" +
	"Action: failed\r\n" +
	"Status: 5.1.1\r\n" +
	"--B--\r\n"

type fakeMailbox struct {
	messages []Message
	seen     []uint32
	fetchErr error
	closed   bool
}

func (f *fakeMailbox) FetchUnseen(context.Context) ([]Message, error) {
	return f.messages, f.fetchErr
}

func (f *fakeMailbox) MarkSeen(_ context.Context, uids []uint32) error {
	f.seen = append(f.seen, uids...)
	return nil
}

func (f *fakeMailbox) Close() error {
	f.closed = true
	return nil
}

func dialer(mb *fakeMailbox) Dialer {
	return func(context.Context) (Mailbox, error) { return mb, nil }
}

func TestPollIngestsAndFlagsMessages(t *testing.T) {
	s := storetest.New(t)
	storetest.AddRoute(t, s, "example.com", "", "https://hooks.test/all", "k")

	m := metrics.New(prometheus.NewRegistry())
	svc := ingest.NewService(s, resolver.New(s, ""), m, 5*time.Second)

	mb := &fakeMailbox{messages: []Message{
		{UID: 7, Raw: []byte(bounceMessage)},
		{UID: 8, Raw: []byte("garbage without headers")},
		{UID: 9, Raw: []byte("From: someone@example.org\r\nSubject: hi\r\n\r\nno bounce here\r\n")},
	}}

	require.NoError(t, NewPoller(dialer(mb), svc, m).Poll(context.Background()))
	assert.Equal(t, []uint32{7, 8, 9}, mb.seen)
	assert.True(t, mb.closed)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.MailboxFetched))

	items, err := s.ListItems(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

type flakyIngester struct {
	fail map[uint32]bool
}

func (f flakyIngester) Ingest(_ context.Context, raw []byte) (ingest.Result, error) {
	if f.fail[uint32(raw[0])] {
		return ingest.Result{}, errors.New("database is locked")
	}
	return ingest.Result{Records: 1, Enqueued: 1}, nil
}

func TestPollLeavesStoreFailuresUnseen(t *testing.T) {
	mb := &fakeMailbox{messages: []Message{
		{UID: 1, Raw: []byte{1}},
		{UID: 2, Raw: []byte{2}},
		{UID: 3, Raw: []byte{3}},
	}}
	ing := flakyIngester{fail: map[uint32]bool{2: true}}

	require.NoError(t, NewPoller(dialer(mb), ing, metrics.New(prometheus.NewRegistry())).Poll(context.Background()))
	assert.Equal(t, []uint32{1, 3}, mb.seen)
}

func TestPollFetchError(t *testing.T) {
	mb := &fakeMailbox{fetchErr: errors.New("connection closed")}
	err := NewPoller(dialer(mb), flakyIngester{}, metrics.New(prometheus.NewRegistry())).Poll(context.Background())
	assert.ErrorContains(t, err, "connection closed")
	assert.True(t, mb.closed)
}

func TestPollDialError(t *testing.T) {
	dial := func(context.Context) (Mailbox, error) { return nil, errors.New("no route to host") }
	err := NewPoller(dial, flakyIngester{}, metrics.New(prometheus.NewRegistry())).Poll(context.Background())
	assert.ErrorContains(t, err, "no route to host")
}
