package protocol

import (
	"encoding/binary"
	"fmt"
)

// Encode/Decode give Command and Event a byte representation for the
// driver's MPSC command ring and broadcast-to-clients ring
// (internal/ringbuf), whose records are just [length][msgType][payload].
// The layout here is a plain little-endian TLV, the same field-by-field
// style logbuffer.PutDataHeader/ReadHeader use for wire frames, not a
// generic codec — there is a small closed set of record shapes and each
// is cheap to hand-write.

func putString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

func getString(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, fmt.Errorf("protocol: truncated string length")
	}
	n := int(binary.LittleEndian.Uint32(buf))
	buf = buf[4:]
	if len(buf) < n {
		return "", nil, fmt.Errorf("protocol: truncated string body")
	}
	return string(buf[:n]), buf[n:], nil
}

func putInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func putInt32(buf []byte, v int32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return append(buf, b[:]...)
}

func getInt64(buf []byte) (int64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, fmt.Errorf("protocol: truncated int64")
	}
	return int64(binary.LittleEndian.Uint64(buf)), buf[8:], nil
}

func getInt32(buf []byte) (int32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, fmt.Errorf("protocol: truncated int32")
	}
	return int32(binary.LittleEndian.Uint32(buf)), buf[4:], nil
}

// EncodeCommand serializes c for writing to the driver command ring.
func EncodeCommand(c Command) []byte {
	buf := make([]byte, 0, 64+len(c.Channel)+len(c.CounterLabel)+len(c.CounterKeyBuf))
	buf = putInt32(buf, int32(c.Type))
	buf = putInt64(buf, c.CorrelationID)
	buf = putInt64(buf, c.ClientID)
	buf = putInt64(buf, c.RegistrationID)
	buf = putInt32(buf, c.StreamID)
	buf = putString(buf, c.Channel)
	buf = putInt32(buf, c.CounterTypeID)
	buf = putString(buf, c.CounterLabel)
	buf = putInt32(buf, int32(len(c.CounterKeyBuf)))
	buf = append(buf, c.CounterKeyBuf...)
	return buf
}

// DecodeCommand parses a record written by EncodeCommand.
func DecodeCommand(buf []byte) (Command, error) {
	var c Command
	var t int32
	var err error

	if t, buf, err = getInt32(buf); err != nil {
		return c, err
	}
	c.Type = CommandType(t)
	if c.CorrelationID, buf, err = getInt64(buf); err != nil {
		return c, err
	}
	if c.ClientID, buf, err = getInt64(buf); err != nil {
		return c, err
	}
	if c.RegistrationID, buf, err = getInt64(buf); err != nil {
		return c, err
	}
	if c.StreamID, buf, err = getInt32(buf); err != nil {
		return c, err
	}
	if c.Channel, buf, err = getString(buf); err != nil {
		return c, err
	}
	if c.CounterTypeID, buf, err = getInt32(buf); err != nil {
		return c, err
	}
	if c.CounterLabel, buf, err = getString(buf); err != nil {
		return c, err
	}
	var keyLen int32
	if keyLen, buf, err = getInt32(buf); err != nil {
		return c, err
	}
	if int32(len(buf)) < keyLen {
		return c, fmt.Errorf("protocol: truncated counter key")
	}
	c.CounterKeyBuf = append([]byte(nil), buf[:keyLen]...)
	return c, nil
}

// EncodeEvent serializes e for writing to the broadcast-to-clients ring.
func EncodeEvent(e Event) []byte {
	buf := make([]byte, 0, 64+len(e.Channel)+len(e.LogFileName)+len(e.SourceIdentity)+len(e.Message))
	buf = putInt32(buf, int32(e.Type))
	buf = putInt64(buf, e.CorrelationID)
	buf = putInt64(buf, e.RegistrationID)
	buf = putInt32(buf, e.StreamID)
	buf = putInt32(buf, e.SessionID)
	buf = putString(buf, e.Channel)
	buf = putString(buf, e.LogFileName)
	buf = putInt32(buf, e.PositionLimitID)
	buf = putInt32(buf, e.SubscriberPositionID)
	buf = putString(buf, e.SourceIdentity)
	buf = putInt32(buf, int32(e.ErrorCode))
	buf = putString(buf, e.Message)
	buf = putInt64(buf, e.ClientID)
	return buf
}

// DecodeEvent parses a record written by EncodeEvent.
func DecodeEvent(buf []byte) (Event, error) {
	var e Event
	var t, code int32
	var err error

	if t, buf, err = getInt32(buf); err != nil {
		return e, err
	}
	e.Type = EventType(t)
	if e.CorrelationID, buf, err = getInt64(buf); err != nil {
		return e, err
	}
	if e.RegistrationID, buf, err = getInt64(buf); err != nil {
		return e, err
	}
	if e.StreamID, buf, err = getInt32(buf); err != nil {
		return e, err
	}
	if e.SessionID, buf, err = getInt32(buf); err != nil {
		return e, err
	}
	if e.Channel, buf, err = getString(buf); err != nil {
		return e, err
	}
	if e.LogFileName, buf, err = getString(buf); err != nil {
		return e, err
	}
	if e.PositionLimitID, buf, err = getInt32(buf); err != nil {
		return e, err
	}
	if e.SubscriberPositionID, buf, err = getInt32(buf); err != nil {
		return e, err
	}
	if e.SourceIdentity, buf, err = getString(buf); err != nil {
		return e, err
	}
	if code, buf, err = getInt32(buf); err != nil {
		return e, err
	}
	e.ErrorCode = ErrorCode(code)
	if e.Message, buf, err = getString(buf); err != nil {
		return e, err
	}
	if e.ClientID, _, err = getInt64(buf); err != nil {
		return e, err
	}
	return e, nil
}
