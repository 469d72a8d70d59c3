package bounce

import (
	"regexp"
	"strings"
)

var (
	addressPattern = regexp.MustCompile(`[A-Za-z0-9._%+=\-]+@[A-Za-z0-9\-]+(?:\.[A-Za-z0-9\-]+)+`)
	replyPattern   = regexp.MustCompile(`\b([245])\d\d\b`)
	delayPattern   = regexp.MustCompile(`(?i)\bdelayed\b|\bwill (?:continue to )?retry\b|\btemporar(?:y|ily)\b`)
)

// statusWindow is how many lines, starting at the recipient's line, are
// searched for its status before falling back to the whole text.
const statusWindow = 3

// scanText is the fallback for bounces without a delivery-status report.
// It takes the first plausible recipient address from the text parts and
// subject, ignoring the bounce's own sender and addressees.
func scanText(msg *MessageNode) (Record, bool) {
	lines := strings.Split(textOf(msg), "\n")
	ignored := ignoredAddresses(msg)

	for i, line := range lines {
		for _, candidate := range addressPattern.FindAllString(line, -1) {
			addr := validAddress(candidate)
			if addr == "" || ignored(addr) {
				continue
			}
			return scannedRecord(addr, lines, i), true
		}
	}
	return Record{}, false
}

func scannedRecord(addr string, lines []string, at int) Record {
	rec := Record{
		Recipient:  addr,
		Action:     ActionFailed,
		Diagnostic: strings.TrimSpace(lines[at]),
	}

	window := lines[at:min(at+statusWindow, len(lines))]
	if line, status := findStatus(window, true); status != "" {
		rec.Status, rec.Diagnostic = status, line
	} else if line, status := findStatus(lines, false); status != "" {
		rec.Status, rec.Diagnostic = status, line
	}

	if rec.Status == "" || rec.Status[0] != '5' {
		for _, line := range lines {
			if delayPattern.MatchString(line) {
				rec.Action = ActionDelayed
				break
			}
		}
	}
	return rec
}

// findStatus returns the first line carrying an enhanced status code. With
// replyCodes set, a bare SMTP reply code such as 550 is accepted too and
// mapped to its class ("5.0.0").
func findStatus(lines []string, replyCodes bool) (string, string) {
	for _, line := range lines {
		if m := enhancedStatus.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(line), m[1]
		}
	}
	if !replyCodes {
		return "", ""
	}
	for _, line := range lines {
		if m := replyPattern.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(line), m[1] + ".0.0"
		}
	}
	return "", ""
}

// textOf joins the text/plain leaves and the subject. HTML leaves are
// rendered to text only when the message has no text/plain leaf.
func textOf(msg *MessageNode) string {
	var plain, rendered strings.Builder
	hasPlain := false
	for _, leaf := range leaves(msg) {
		switch leaf.MediaType {
		case "text/plain":
			hasPlain = true
			plain.Write(leaf.Body)
			plain.WriteByte('\n')
		case "text/html":
			rendered.WriteString(htmlText(leaf.Body))
			rendered.WriteByte('\n')
		}
	}

	b := &plain
	if !hasPlain {
		b = &rendered
	}
	if subject, err := msg.Header.Subject(); err == nil {
		b.WriteString(subject)
	}
	return strings.ReplaceAll(b.String(), "\r", "")
}

func ignoredAddresses(msg *MessageNode) func(string) bool {
	skip := make(map[string]bool)
	for _, key := range []string{"From", "To", "Cc", "Reply-To", "Return-Path"} {
		addrs, err := msg.Header.AddressList(key)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			skip[strings.ToLower(a.Address)] = true
		}
	}
	if orig, ok := embedded(msg).(*MessageNode); ok {
		if addrs, err := orig.Header.AddressList("From"); err == nil {
			for _, a := range addrs {
				skip[strings.ToLower(a.Address)] = true
			}
		}
	}

	return func(addr string) bool {
		addr = strings.ToLower(addr)
		user, _, _ := strings.Cut(addr, "@")
		return skip[addr] || user == "mailer-daemon" || user == "postmaster"
	}
}
