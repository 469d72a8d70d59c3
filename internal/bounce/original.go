package bounce

import (
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// originalOf reads message_id, from and subject from the outer headers,
// then overrides each with the embedded original message's value when it
// has one.
func originalOf(msg *MessageNode) Original {
	orig := headerInfo(msg.Header)

	var inner *mail.Header
	switch v := embedded(msg).(type) {
	case *MessageNode:
		inner = &v.Header
	case *LeafNode:
		if h, ok := readFields(string(v.Body)); ok {
			inner = &mail.Header{Header: message.Header{Header: h}}
		}
	}
	if inner == nil {
		return orig
	}

	found := headerInfo(*inner)
	if found.MessageID != "" {
		orig.MessageID = found.MessageID
	}
	if found.From != "" {
		orig.From = found.From
	}
	if found.Subject != "" {
		orig.Subject = found.Subject
	}
	orig.Metadata = customHeaders(*inner)
	return orig
}

func headerInfo(h mail.Header) Original {
	var info Original

	info.MessageID = strings.Trim(strings.TrimSpace(h.Get("Message-Id")), "<>")

	if addrs, err := h.AddressList("From"); err == nil && len(addrs) > 0 {
		info.From = addrs[0].Address
	} else {
		info.From = normalizeSpace(h.Get("From"))
	}

	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	info.Subject = normalizeSpace(subject)

	return info
}

// customHeaders returns the X- headers of h keyed without the prefix. The
// first occurrence of a repeated header wins.
func customHeaders(h mail.Header) map[string]string {
	var out map[string]string
	fields := h.Fields()
	for fields.Next() {
		key := fields.Key()
		if len(key) <= 2 || !strings.EqualFold(key[:2], "x-") {
			continue
		}
		name := key[2:]
		if _, dup := out[name]; dup {
			continue
		}

		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[name] = normalizeSpace(value)
	}
	return out
}
