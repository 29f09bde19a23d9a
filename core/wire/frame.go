// Package wire implements the peer transport framing of §6.1: a
// length-prefixed binary codec for Hello, HelloAck, Prepare, Fulfill, Reject
// and Heartbeat frames.
//
// Grounded on the teacher's encoding/binary helpers in state_channel.go
// (uint64ToBytes) and security.go's terse header-comment style; the exact
// field layout below is mandated by the specification, not inherited from
// the teacher (which has no equivalent wire protocol).
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Type is the single-byte frame type tag.
type Type byte

const (
	TypeHello     Type = 0x01
	TypeHelloAck  Type = 0x02
	TypePrepare   Type = 0x10
	TypeFulfill   Type = 0x11
	TypeReject    Type = 0x12
	TypeHeartbeat Type = 0x20
)

const (
	// MaxPayload is the largest payload accepted in a Prepare/Fulfill/Reject (§6.1).
	MaxPayload = 65536
	// MaxMessage is the largest Reject message accepted (§6.1).
	MaxMessage = 256
	// ConditionSize is the byte length of a condition or fulfillment.
	ConditionSize = 32
)

var (
	ErrProtocolViolation = errors.New("wire: protocol violation")
	ErrPayloadTooLarge   = errors.New("wire: payload exceeds maximum size")
	ErrMessageTooLarge   = errors.New("wire: message exceeds maximum size")
	ErrUnknownType       = errors.New("wire: unknown frame type")
)

// Frame is the closed sum of the six wire frame variants. Exactly one of the
// typed fields is meaningful, selected by Type (§9: "closed set... tagged sum
// with exhaustive handling").
type Frame struct {
	Type Type

	// Hello / HelloAck
	NodeID        string
	AuthToken     string
	HeartbeatSecs uint16

	// Prepare
	Amount      uint64
	ExpiresAt   int64 // unix ms
	Destination string

	// Fulfill / Reject correlation + Prepare
	Condition [ConditionSize]byte

	// Fulfill
	Fulfillment [ConditionSize]byte

	// Reject
	Code    [3]byte
	Message string

	// Prepare / Fulfill / Reject
	Payload []byte
}

// Encode serializes f into the wire format: u32 length (of type+body,
// network order) | u8 type | body.
func Encode(f Frame) ([]byte, error) {
	var body bytes.Buffer
	switch f.Type {
	case TypeHello:
		writeUTF8LP(&body, f.NodeID)
		writeUTF8LP(&body, f.AuthToken)
		writeU16(&body, f.HeartbeatSecs)
	case TypeHelloAck:
		writeUTF8LP(&body, f.NodeID)
		writeU16(&body, f.HeartbeatSecs)
	case TypePrepare:
		if len(f.Payload) > MaxPayload {
			return nil, ErrPayloadTooLarge
		}
		writeU64(&body, f.Amount)
		writeI64(&body, f.ExpiresAt)
		body.Write(f.Condition[:])
		writeUTF8LP(&body, f.Destination)
		writeBytesLP(&body, f.Payload)
	case TypeFulfill:
		if len(f.Payload) > MaxPayload {
			return nil, ErrPayloadTooLarge
		}
		body.Write(f.Condition[:])
		body.Write(f.Fulfillment[:])
		writeBytesLP(&body, f.Payload)
	case TypeReject:
		if len(f.Payload) > MaxPayload {
			return nil, ErrPayloadTooLarge
		}
		if len(f.Message) > MaxMessage {
			return nil, ErrMessageTooLarge
		}
		body.Write(f.Condition[:])
		body.Write(f.Code[:])
		writeUTF8LP(&body, f.Message)
		writeBytesLP(&body, f.Payload)
	case TypeHeartbeat:
		// empty body
	default:
		return nil, ErrUnknownType
	}

	out := make([]byte, 4+1+body.Len())
	binary.BigEndian.PutUint32(out[0:4], uint32(1+body.Len()))
	out[4] = byte(f.Type)
	copy(out[5:], body.Bytes())
	return out, nil
}

// Decode parses one complete frame (length prefix included) from b. It
// returns the frame and the number of bytes consumed. A short buffer returns
// (Frame{}, 0, nil) so callers can keep buffering.
func Decode(b []byte) (Frame, int, error) {
	if len(b) < 4 {
		return Frame{}, 0, nil
	}
	length := binary.BigEndian.Uint32(b[0:4])
	total := 4 + int(length)
	if len(b) < total {
		return Frame{}, 0, nil
	}
	if length < 1 {
		return Frame{}, 0, fmt.Errorf("%w: zero-length frame", ErrProtocolViolation)
	}
	typ := Type(b[4])
	body := b[5:total]

	f := Frame{Type: typ}
	r := bytes.NewReader(body)
	var err error
	switch typ {
	case TypeHello:
		if f.NodeID, err = readUTF8LP(r); err != nil {
			return Frame{}, 0, err
		}
		if f.AuthToken, err = readUTF8LP(r); err != nil {
			return Frame{}, 0, err
		}
		if f.HeartbeatSecs, err = readU16(r); err != nil {
			return Frame{}, 0, err
		}
	case TypeHelloAck:
		if f.NodeID, err = readUTF8LP(r); err != nil {
			return Frame{}, 0, err
		}
		if f.HeartbeatSecs, err = readU16(r); err != nil {
			return Frame{}, 0, err
		}
	case TypePrepare:
		if f.Amount, err = readU64(r); err != nil {
			return Frame{}, 0, err
		}
		if f.ExpiresAt, err = readI64(r); err != nil {
			return Frame{}, 0, err
		}
		if err = readFixed(r, f.Condition[:]); err != nil {
			return Frame{}, 0, err
		}
		if f.Destination, err = readUTF8LP(r); err != nil {
			return Frame{}, 0, err
		}
		if f.Payload, err = readBytesLP(r); err != nil {
			return Frame{}, 0, err
		}
	case TypeFulfill:
		if err = readFixed(r, f.Condition[:]); err != nil {
			return Frame{}, 0, err
		}
		if err = readFixed(r, f.Fulfillment[:]); err != nil {
			return Frame{}, 0, err
		}
		if f.Payload, err = readBytesLP(r); err != nil {
			return Frame{}, 0, err
		}
	case TypeReject:
		if err = readFixed(r, f.Condition[:]); err != nil {
			return Frame{}, 0, err
		}
		if err = readFixed(r, f.Code[:]); err != nil {
			return Frame{}, 0, err
		}
		if f.Message, err = readUTF8LP(r); err != nil {
			return Frame{}, 0, err
		}
		if f.Payload, err = readBytesLP(r); err != nil {
			return Frame{}, 0, err
		}
	case TypeHeartbeat:
		// empty body, nothing to read
	default:
		return Frame{}, 0, fmt.Errorf("%w: type 0x%02x", ErrUnknownType, byte(typ))
	}
	if r.Len() != 0 {
		return Frame{}, 0, fmt.Errorf("%w: trailing bytes in frame body", ErrProtocolViolation)
	}
	return f, total, nil
}

func writeU16(b *bytes.Buffer, v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	b.Write(buf[:])
}

func writeU64(b *bytes.Buffer, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	b.Write(buf[:])
}

func writeI64(b *bytes.Buffer, v int64) { writeU64(b, uint64(v)) }

func writeUTF8LP(b *bytes.Buffer, s string) {
	writeU16(b, uint16(len(s)))
	b.WriteString(s)
}

func writeBytesLP(b *bytes.Buffer, p []byte) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(p)))
	b.Write(buf[:])
	b.Write(p)
}

func readU16(r *bytes.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := readExact(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := readExact(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func readI64(r *bytes.Reader) (int64, error) {
	v, err := readU64(r)
	return int64(v), err
}

func readFixed(r *bytes.Reader, dst []byte) error {
	_, err := readExact(r, dst)
	return err
}

func readExact(r *bytes.Reader, dst []byte) (int, error) {
	n, err := r.Read(dst)
	if err != nil || n != len(dst) {
		return n, fmt.Errorf("%w: short read", ErrProtocolViolation)
	}
	return n, nil
}

func readUTF8LP(r *bytes.Reader) (string, error) {
	n, err := readU16(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := readExact(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readBytesLP(r *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := readExact(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := readExact(r, buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}
