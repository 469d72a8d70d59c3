// Package bounce turns raw bounce emails into structured records.
//
// Parsing prefers the machine-readable delivery-status report of a DSN
// (RFC 3464). When a message carries no usable report, a best-effort scan
// of the human-readable text looks for a recipient address and a status
// code. That scan is approximate and does not try to cover every
// non-standard bounce format.
package bounce

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrNotAnEmail is returned when the input has no parsable header.
	ErrNotAnEmail = errors.New("input is not an email message")

	// ErrNoRecipient is returned when neither the delivery-status report
	// nor the message text yields a bounced address.
	ErrNoRecipient = errors.New("no bounced recipient found")
)

// Action is the DSN action of a recipient.
type Action string

const (
	ActionFailed    Action = "failed"
	ActionDelayed   Action = "delayed"
	ActionDelivered Action = "delivered"
	ActionRelayed   Action = "relayed"
	ActionExpanded  Action = "expanded"
)

// ParseAction maps a DSN Action field onto a known action. Unknown or
// empty values become ActionFailed.
func ParseAction(s string) Action {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return ActionFailed
	}
	switch a := Action(fields[0]); a {
	case ActionFailed, ActionDelayed, ActionDelivered, ActionRelayed, ActionExpanded:
		return a
	}
	return ActionFailed
}

var statusPattern = regexp.MustCompile(`^\d\.\d{1,3}\.\d{1,3}$`)

// ValidStatus reports whether s is an enhanced status code such as "5.1.1".
func ValidStatus(s string) bool {
	return statusPattern.MatchString(s)
}

// IsPermanent classifies a bounce. A well-formed status decides by its
// class (5 is permanent). Without one, a failed action is treated as
// permanent so dead addresses are not retried forever.
func IsPermanent(action Action, status string) bool {
	if ValidStatus(status) {
		return status[0] == '5' && action != ActionDelayed
	}
	return action == ActionFailed
}

// Original describes the message that bounced.
type Original struct {
	MessageID string
	From      string
	Subject   string
	// Metadata holds the X- headers of the embedded original message,
	// keyed without the prefix.
	Metadata map[string]string
}

// Record is one bounced recipient.
type Record struct {
	Original

	Recipient   string
	Status      string
	Diagnostic  string
	Action      Action
	IsPermanent bool
}

// Parse extracts one record per bounced recipient from a raw email.
// Either every record is returned or an error, never a partial result.
func Parse(raw []byte) ([]Record, error) {
	msg, err := ReadMessage(raw)
	if err != nil {
		return nil, err
	}

	records := parseReports(msg)
	if len(records) == 0 {
		rec, ok := scanText(msg)
		if !ok {
			return nil, ErrNoRecipient
		}
		records = []Record{rec}
	}

	orig := originalOf(msg)
	for i := range records {
		records[i].Original = orig
		records[i].IsPermanent = IsPermanent(records[i].Action, records[i].Status)
	}
	return records, nil
}
