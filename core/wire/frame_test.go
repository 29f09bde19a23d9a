package wire

import (
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, f Frame) Frame {
	t.Helper()
	enc, err := Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, n, err := Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(enc) {
		t.Fatalf("decode consumed %d bytes, want %d", n, len(enc))
	}
	return got
}

func TestPrepareRoundTrip(t *testing.T) {
	f := Frame{
		Type:        TypePrepare,
		Amount:      100,
		ExpiresAt:   1234567890,
		Destination: "g.dest.sub",
		Condition:   [32]byte{1, 2, 3},
		Payload:     []byte("hello"),
	}
	got := roundTrip(t, f)
	if got.Amount != f.Amount || got.ExpiresAt != f.ExpiresAt || got.Destination != f.Destination {
		t.Fatalf("mismatch: %+v", got)
	}
	if got.Condition != f.Condition || !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestFulfillRoundTrip(t *testing.T) {
	f := Frame{
		Type:        TypeFulfill,
		Condition:   [32]byte{9},
		Fulfillment: [32]byte{8},
		Payload:     []byte("resp"),
	}
	got := roundTrip(t, f)
	if got.Condition != f.Condition || got.Fulfillment != f.Fulfillment || !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestRejectRoundTrip(t *testing.T) {
	f := Frame{
		Type:      TypeReject,
		Condition: [32]byte{4},
		Code:      [3]byte{'F', '0', '2'},
		Message:   "no route",
	}
	got := roundTrip(t, f)
	if got.Code != f.Code || got.Message != f.Message {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	got := roundTrip(t, Frame{Type: TypeHeartbeat})
	if got.Type != TypeHeartbeat {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestHelloRoundTrip(t *testing.T) {
	f := Frame{Type: TypeHello, NodeID: "node-a", AuthToken: "secret", HeartbeatSecs: 30}
	got := roundTrip(t, f)
	if got.NodeID != f.NodeID || got.AuthToken != f.AuthToken || got.HeartbeatSecs != f.HeartbeatSecs {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestDecodeShortBufferReturnsZero(t *testing.T) {
	f, n, err := Decode([]byte{0, 0})
	if err != nil || n != 0 || f.Type != 0 {
		t.Fatalf("want (zero, 0, nil) for short buffer, got (%+v, %d, %v)", f, n, err)
	}
}

func TestDecodeUnknownTypeIsProtocolViolation(t *testing.T) {
	enc, _ := Encode(Frame{Type: TypeHeartbeat})
	enc[4] = 0xFF
	_, _, err := Decode(enc)
	if err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(Frame{Type: TypePrepare, Payload: make([]byte, MaxPayload+1)})
	if err != ErrPayloadTooLarge {
		t.Fatalf("want ErrPayloadTooLarge, got %v", err)
	}
}

func TestEncodeRejectsOversizedMessage(t *testing.T) {
	_, err := Encode(Frame{Type: TypeReject, Message: string(make([]byte, MaxMessage+1))})
	if err != ErrMessageTooLarge {
		t.Fatalf("want ErrMessageTooLarge, got %v", err)
	}
}

func TestDecodeMultipleFramesFromStream(t *testing.T) {
	a, _ := Encode(Frame{Type: TypeHeartbeat})
	b, _ := Encode(Frame{Type: TypeReject, Code: [3]byte{'T', '0', '1'}})
	buf := append(append([]byte{}, a...), b...)

	f1, n1, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	f2, n2, err := Decode(buf[n1:])
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if f1.Type != TypeHeartbeat || f2.Type != TypeReject || n2 != len(b) {
		t.Fatalf("unexpected frames: %+v %+v", f1, f2)
	}
}
