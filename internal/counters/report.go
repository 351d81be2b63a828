package counters

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// typeName returns the human label for one of the fixed SystemCounter
// type ids, matching the const block's declaration order.
func typeName(typeID int32) string {
	switch typeID {
	case TypeDriverHeartbeat:
		return "driver-heartbeat"
	case TypeBytesSent:
		return "bytes-sent"
	case TypeBytesReceived:
		return "bytes-received"
	case TypeNAKsSent:
		return "naks-sent"
	case TypeNAKsReceived:
		return "naks-received"
	case TypeStatusMessagesSent:
		return "status-messages-sent"
	case TypeStatusMessagesReceived:
		return "status-messages-received"
	case TypeClientTimeouts:
		return "client-timeouts"
	case TypePublicationUnblocked:
		return "publications-unblocked"
	case TypeSubscriberPosition:
		return "subscriber-position"
	case TypePublicationPositionLimit:
		return "publication-position-limit"
	default:
		return "unknown"
	}
}

// isByteCounter reports whether id's value is a byte count, worth
// rendering with humanize.Bytes rather than a plain thousands-grouped
// integer.
func isByteCounter(typeID int32) bool {
	return typeID == TypeBytesSent || typeID == TypeBytesReceived
}

// PrintReport writes a human-readable snapshot of every counter
// currently allocated in m to w, grouping plain values with thousands
// separators and rendering byte-valued counters in humanized form.
func PrintReport(w io.Writer, m *Manager) error {
	p := message.NewPrinter(language.English)

	var writeErr error
	m.Each(func(id, typeID int32, label string, value int64) {
		if writeErr != nil {
			return
		}
		rendered := p.Sprintf("%d", value)
		if isByteCounter(typeID) {
			rendered = fmt.Sprintf("%s (%s)", humanize.Bytes(uint64(value)), rendered)
		}
		_, writeErr = fmt.Fprintf(w, " %-28s %-20s %s\n", label, typeName(typeID), rendered)
	})
	return writeErr
}
