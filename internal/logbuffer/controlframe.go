package logbuffer

import "encoding/binary"

// Control frames (SM, NAK, SETUP, RTTM, ERR) share the common 24-byte
// header (frame_length, version, flags, type, term_offset, session_id,
// stream_id, term_id) but are never written into a term buffer — they
// travel directly over UDP as standalone datagrams. These builders/parsers give them the same
// little-endian, frame_length-last-written discipline as DATA/PAD frames
// even though no release/acquire pairing is needed for a one-shot
// datagram buffer.

// StatusMessageFlagEOS marks an SM as carrying the sender's
// end-of-stream notification.
const StatusMessageFlagEOS byte = 0x01

// RTTMFlagReply marks an RTTM frame as a reply rather than the original
// measurement request.
const RTTMFlagReply byte = 0x80

const (
	offSMConsumptionTermID     = 24
	offSMConsumptionTermOffset = 28
	offSMReceiverWindow        = 32
	offSMReceiverID            = 36
	offSMFlags                 = 44
	smLength                   = 45

	offNAKLength = 24
	nakLength    = 28

	offSetupInitialTermID = 24
	offSetupActiveTermID  = 28
	offSetupTermLength    = 32
	offSetupMTU           = 36
	offSetupTTL           = 40
	setupLength           = 44

	offRTTMEchoTimestamp     = 24
	offRTTMReceptionDelta    = 32
	offRTTMReceiverID        = 40
	offRTTMFlags             = 48
	rttmLength               = 49
)

// StatusMessage is the parsed body of an SM frame.
type StatusMessage struct {
	SessionID              int32
	StreamID               int32
	ConsumptionTermID      int32
	ConsumptionTermOffset  int32
	ReceiverWindowLength   int32
	ReceiverID             int64
	Flags                  byte
}

// PutStatusMessage encodes sm into a freshly allocated datagram buffer.
func PutStatusMessage(sm StatusMessage) []byte {
	buf := make([]byte, AlignFrame(smLength))
	setFrameType(buf, 0, FrameTypeSM)
	binary.LittleEndian.PutUint32(buf[offSessionID:], uint32(sm.SessionID))
	binary.LittleEndian.PutUint32(buf[offStreamID:], uint32(sm.StreamID))
	binary.LittleEndian.PutUint32(buf[offSMConsumptionTermID:], uint32(sm.ConsumptionTermID))
	binary.LittleEndian.PutUint32(buf[offSMConsumptionTermOffset:], uint32(sm.ConsumptionTermOffset))
	binary.LittleEndian.PutUint32(buf[offSMReceiverWindow:], uint32(sm.ReceiverWindowLength))
	binary.LittleEndian.PutUint64(buf[offSMReceiverID:], uint64(sm.ReceiverID))
	buf[offSMFlags] = sm.Flags
	SetFrameLengthOrdered(buf, 0, smLength)
	return buf
}

// ReadStatusMessage parses an SM frame body. Callers must first confirm
// FrameType(buf, 0) == FrameTypeSM.
func ReadStatusMessage(buf []byte) StatusMessage {
	return StatusMessage{
		SessionID:             SessionID(buf, 0),
		StreamID:              StreamID(buf, 0),
		ConsumptionTermID:     int32(binary.LittleEndian.Uint32(buf[offSMConsumptionTermID:])),
		ConsumptionTermOffset: int32(binary.LittleEndian.Uint32(buf[offSMConsumptionTermOffset:])),
		ReceiverWindowLength:  int32(binary.LittleEndian.Uint32(buf[offSMReceiverWindow:])),
		ReceiverID:            int64(binary.LittleEndian.Uint64(buf[offSMReceiverID:])),
		Flags:                 buf[offSMFlags],
	}
}

// NAK is the parsed body of a NAK frame.
type NAK struct {
	SessionID  int32
	StreamID   int32
	TermID     int32
	TermOffset int32
	Length     int32
}

// PutNAK encodes n into a freshly allocated datagram buffer.
func PutNAK(n NAK) []byte {
	buf := make([]byte, AlignFrame(nakLength))
	setFrameType(buf, 0, FrameTypeNAK)
	binary.LittleEndian.PutUint32(buf[offSessionID:], uint32(n.SessionID))
	binary.LittleEndian.PutUint32(buf[offStreamID:], uint32(n.StreamID))
	binary.LittleEndian.PutUint32(buf[offTermID:], uint32(n.TermID))
	binary.LittleEndian.PutUint32(buf[offTermOffset:], uint32(n.TermOffset))
	binary.LittleEndian.PutUint32(buf[offNAKLength:], uint32(n.Length))
	SetFrameLengthOrdered(buf, 0, nakLength)
	return buf
}

// ReadNAK parses a NAK frame body.
func ReadNAK(buf []byte) NAK {
	return NAK{
		SessionID:  SessionID(buf, 0),
		StreamID:   StreamID(buf, 0),
		TermID:     TermID(buf, 0),
		TermOffset: TermOffsetField(buf, 0),
		Length:     int32(binary.LittleEndian.Uint32(buf[offNAKLength:])),
	}
}

// Setup is the parsed body of a SETUP frame.
type Setup struct {
	TermOffset    int32
	SessionID     int32
	StreamID      int32
	InitialTermID int32
	ActiveTermID  int32
	TermLength    int32
	MTU           int32
	TTL           int32
}

// PutSetup encodes su into a freshly allocated datagram buffer.
func PutSetup(su Setup) []byte {
	buf := make([]byte, AlignFrame(setupLength))
	setFrameType(buf, 0, FrameTypeSetup)
	binary.LittleEndian.PutUint32(buf[offTermOffset:], uint32(su.TermOffset))
	binary.LittleEndian.PutUint32(buf[offSessionID:], uint32(su.SessionID))
	binary.LittleEndian.PutUint32(buf[offStreamID:], uint32(su.StreamID))
	binary.LittleEndian.PutUint32(buf[offSetupInitialTermID:], uint32(su.InitialTermID))
	binary.LittleEndian.PutUint32(buf[offSetupActiveTermID:], uint32(su.ActiveTermID))
	binary.LittleEndian.PutUint32(buf[offSetupTermLength:], uint32(su.TermLength))
	binary.LittleEndian.PutUint32(buf[offSetupMTU:], uint32(su.MTU))
	binary.LittleEndian.PutUint32(buf[offSetupTTL:], uint32(su.TTL))
	SetFrameLengthOrdered(buf, 0, setupLength)
	return buf
}

// ReadSetup parses a SETUP frame body.
func ReadSetup(buf []byte) Setup {
	return Setup{
		TermOffset:    TermOffsetField(buf, 0),
		SessionID:     SessionID(buf, 0),
		StreamID:      StreamID(buf, 0),
		InitialTermID: int32(binary.LittleEndian.Uint32(buf[offSetupInitialTermID:])),
		ActiveTermID:  int32(binary.LittleEndian.Uint32(buf[offSetupActiveTermID:])),
		TermLength:    int32(binary.LittleEndian.Uint32(buf[offSetupTermLength:])),
		MTU:           int32(binary.LittleEndian.Uint32(buf[offSetupMTU:])),
		TTL:           int32(binary.LittleEndian.Uint32(buf[offSetupTTL:])),
	}
}

// RTTM is the parsed body of an RTTM frame.
type RTTM struct {
	SessionID       int32
	StreamID        int32
	EchoTimestampNs int64
	ReceptionDeltaNs int64
	ReceiverID      int64
	Flags           byte
}

// PutRTTM encodes r into a freshly allocated datagram buffer.
func PutRTTM(r RTTM) []byte {
	buf := make([]byte, AlignFrame(rttmLength))
	setFrameType(buf, 0, FrameTypeRTTM)
	binary.LittleEndian.PutUint32(buf[offSessionID:], uint32(r.SessionID))
	binary.LittleEndian.PutUint32(buf[offStreamID:], uint32(r.StreamID))
	binary.LittleEndian.PutUint64(buf[offRTTMEchoTimestamp:], uint64(r.EchoTimestampNs))
	binary.LittleEndian.PutUint64(buf[offRTTMReceptionDelta:], uint64(r.ReceptionDeltaNs))
	binary.LittleEndian.PutUint64(buf[offRTTMReceiverID:], uint64(r.ReceiverID))
	buf[offRTTMFlags] = r.Flags
	SetFrameLengthOrdered(buf, 0, rttmLength)
	return buf
}

// ReadRTTM parses an RTTM frame body.
func ReadRTTM(buf []byte) RTTM {
	return RTTM{
		SessionID:        SessionID(buf, 0),
		StreamID:         StreamID(buf, 0),
		EchoTimestampNs:  int64(binary.LittleEndian.Uint64(buf[offRTTMEchoTimestamp:])),
		ReceptionDeltaNs: int64(binary.LittleEndian.Uint64(buf[offRTTMReceptionDelta:])),
		ReceiverID:       int64(binary.LittleEndian.Uint64(buf[offRTTMReceiverID:])),
		Flags:            buf[offRTTMFlags],
	}
}
