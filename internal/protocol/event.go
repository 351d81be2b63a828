package protocol

// EventType identifies the kind of an event broadcast-ring record.
type EventType int32

const (
	PublicationReady EventType = iota + 1
	SubscriptionReady
	AvailableImage
	UnavailableImage
	OperationSuccess
	Error
	CounterReady
	ClientTimeout
)

func (t EventType) String() string {
	switch t {
	case PublicationReady:
		return "PUBLICATION_READY"
	case SubscriptionReady:
		return "SUBSCRIPTION_READY"
	case AvailableImage:
		return "AVAILABLE_IMAGE"
	case UnavailableImage:
		return "UNAVAILABLE_IMAGE"
	case OperationSuccess:
		return "OPERATION_SUCCESS"
	case Error:
		return "ERROR"
	case CounterReady:
		return "COUNTER_READY"
	case ClientTimeout:
		return "CLIENT_TIMEOUT"
	default:
		return "UNKNOWN_EVENT"
	}
}

// ErrorCode classifies an ERROR event, so a client can distinguish a
// malformed request from a resource limit from an internal fault without
// string-matching Message.
type ErrorCode int32

const (
	ErrorGeneric ErrorCode = iota
	ErrorInvalidChannel
	ErrorUnknownSubscription
	ErrorUnknownPublication
	ErrorUnknownCounter
	ErrorResourceTemporarilyUnavailable
	ErrorPublicationUnblocked
)

// Event is the decoded form of an event broadcast-ring record.
type Event struct {
	Type          EventType
	CorrelationID int64

	// PUBLICATION_READY / SUBSCRIPTION_READY / COUNTER_READY
	RegistrationID  int64
	StreamID        int32
	SessionID       int32
	Channel         string
	LogFileName     string
	PositionLimitID int32

	// AVAILABLE_IMAGE / UNAVAILABLE_IMAGE
	SubscriberPositionID int32
	SourceIdentity       string

	// OPERATION_SUCCESS: no extra fields beyond CorrelationID.

	// ERROR
	ErrorCode ErrorCode
	Message   string

	// CLIENT_TIMEOUT
	ClientID int64
}

// NewPublicationReady builds a PUBLICATION_READY event.
func NewPublicationReady(correlationID, registrationID int64, streamID, sessionID int32, logFileName string) Event {
	return Event{
		Type: PublicationReady, CorrelationID: correlationID, RegistrationID: registrationID,
		StreamID: streamID, SessionID: sessionID, LogFileName: logFileName,
	}
}

// NewSubscriptionReady builds a SUBSCRIPTION_READY event.
func NewSubscriptionReady(correlationID, registrationID int64) Event {
	return Event{Type: SubscriptionReady, CorrelationID: correlationID, RegistrationID: registrationID}
}

// NewAvailableImage builds an AVAILABLE_IMAGE event.
func NewAvailableImage(correlationID, registrationID int64, streamID, sessionID int32, subscriberPositionID int32, logFileName, sourceIdentity string) Event {
	return Event{
		Type: AvailableImage, CorrelationID: correlationID, RegistrationID: registrationID,
		StreamID: streamID, SessionID: sessionID, SubscriberPositionID: subscriberPositionID,
		LogFileName: logFileName, SourceIdentity: sourceIdentity,
	}
}

// NewUnavailableImage builds an UNAVAILABLE_IMAGE event.
func NewUnavailableImage(correlationID, registrationID int64, streamID int32) Event {
	return Event{Type: UnavailableImage, CorrelationID: correlationID, RegistrationID: registrationID, StreamID: streamID}
}

// NewOperationSuccess builds an OPERATION_SUCCESS event.
func NewOperationSuccess(correlationID int64) Event {
	return Event{Type: OperationSuccess, CorrelationID: correlationID}
}

// NewError builds an ERROR event. correlationID is preserved from the
// triggering command, or -1 for driver-originated errors with no
// corresponding command.
func NewError(correlationID int64, code ErrorCode, message string) Event {
	return Event{Type: Error, CorrelationID: correlationID, ErrorCode: code, Message: message}
}

// NewCounterReady builds a COUNTER_READY event.
func NewCounterReady(correlationID, registrationID int64) Event {
	return Event{Type: CounterReady, CorrelationID: correlationID, RegistrationID: registrationID}
}

// NewClientTimeout builds a CLIENT_TIMEOUT event.
func NewClientTimeout(clientID int64) Event {
	return Event{Type: ClientTimeout, ClientID: clientID}
}
