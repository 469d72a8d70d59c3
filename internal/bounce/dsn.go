package bounce

import (
	"bufio"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

var (
	blankLine = regexp.MustCompile(`\r?\n[ \t]*\r?\n`)

	// enhancedStatus finds an enhanced status code inside free text such as
	// "smtp; 550 5.1.1 User unknown".
	enhancedStatus = regexp.MustCompile(`\b([245]\.\d{1,3}\.\d{1,3})\b`)
)

// parseReports returns one record per valid per-recipient block of every
// delivery-status part in msg.
func parseReports(msg *MessageNode) []Record {
	var records []Record
	for _, leaf := range leaves(msg) {
		if isDeliveryStatus(leaf.MediaType) {
			records = append(records, parseReport(string(leaf.Body))...)
		}
	}
	return records
}

// parseReport splits a delivery-status body into its field blocks. The
// per-message block and blocks without a usable recipient are skipped.
func parseReport(body string) []Record {
	var records []Record
	for _, block := range blankLine.Split(body, -1) {
		h, ok := readFields(block)
		if !ok {
			continue
		}
		if rec, ok := recipientRecord(h); ok {
			records = append(records, rec)
		}
	}
	return records
}

func readFields(block string) (textproto.Header, bool) {
	block = strings.TrimSpace(block)
	if block == "" {
		return textproto.Header{}, false
	}
	h, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(block + "\r\n\r\n")))
	if err != nil || h.Len() == 0 {
		return textproto.Header{}, false
	}
	return h, true
}

func recipientRecord(h textproto.Header) (Record, bool) {
	addr := recipientAddress(h.Get("Final-Recipient"))
	if addr == "" {
		addr = recipientAddress(h.Get("Original-Recipient"))
	}
	if addr == "" {
		return Record{}, false
	}

	rec := Record{
		Recipient:  addr,
		Action:     ParseAction(h.Get("Action")),
		Diagnostic: typedValue(h.Get("Diagnostic-Code")),
	}

	raw := normalizeSpace(h.Get("Status"))
	status, _, _ := strings.Cut(raw, " ")
	switch {
	case ValidStatus(status):
		rec.Status = status
	case raw != "":
		// Malformed status: keep it visible in the diagnostic only.
		if rec.Diagnostic == "" {
			rec.Diagnostic = raw
		} else {
			rec.Diagnostic += " [status: " + raw + "]"
		}
	default:
		if m := enhancedStatus.FindStringSubmatch(rec.Diagnostic); m != nil {
			rec.Status = m[1]
		}
	}
	return rec, true
}

// typedValue strips the type prefix of a DSN field ("smtp; ...",
// "rfc822; ...").
func typedValue(v string) string {
	if _, after, ok := strings.Cut(v, ";"); ok {
		v = after
	}
	return normalizeSpace(v)
}

func recipientAddress(v string) string {
	return validAddress(strings.Trim(typedValue(v), "<>"))
}

// validAddress returns the bare user@domain form of s, or "" when s is
// not a single address with a non-empty user and domain.
func validAddress(s string) string {
	if s == "" {
		return ""
	}
	a, err := mail.ParseAddress(s)
	if err != nil {
		return ""
	}
	user, domain, ok := strings.Cut(a.Address, "@")
	if !ok || user == "" || domain == "" || strings.Contains(domain, "@") {
		return ""
	}
	return a.Address
}
