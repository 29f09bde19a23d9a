package condition

import "testing"

func TestVerifyRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("hello"),
		[]byte(""),
		[]byte("x"),
		make([]byte, 70000),
	}
	for _, p := range payloads {
		f := FromPayload(p)
		c := FromFulfillment(f)
		if !Verify(c, f) {
			t.Fatalf("round trip failed for payload of length %d", len(p))
		}
	}
}

func TestVerifyRejectsMismatch(t *testing.T) {
	c := FromFulfillment(FromPayload([]byte("y")))
	f := FromPayload([]byte("x"))
	if Verify(c, f) {
		t.Fatalf("expected mismatch to fail verification")
	}
}

func TestEmptyPayloadFulfillment(t *testing.T) {
	f := FromPayload(nil)
	f2 := FromPayload([]byte{})
	if f != f2 {
		t.Fatalf("nil and empty-slice payloads must hash identically")
	}
}
