package protocol

import "testing"

func TestEventTypeString(t *testing.T) {
	if Error.String() != "ERROR" {
		t.Fatalf("String() = %q", Error.String())
	}
	if EventType(999).String() != "UNKNOWN_EVENT" {
		t.Fatalf("String() for unknown = %q", EventType(999).String())
	}
}

func TestNewErrorPreservesCorrelationID(t *testing.T) {
	e := NewError(42, ErrorInvalidChannel, "missing endpoint")
	if e.CorrelationID != 42 {
		t.Fatalf("CorrelationID = %d, want 42", e.CorrelationID)
	}
	if e.ErrorCode != ErrorInvalidChannel {
		t.Fatalf("ErrorCode = %v, want ErrorInvalidChannel", e.ErrorCode)
	}
}

func TestNewAvailableImageFields(t *testing.T) {
	e := NewAvailableImage(1, 2, 3, 4, 5, "log-file", "127.0.0.1:40123")
	if e.Type != AvailableImage || e.StreamID != 3 || e.SessionID != 4 || e.SubscriberPositionID != 5 {
		t.Fatalf("unexpected event: %+v", e)
	}
}
