// Package condition implements the stateless preimage relation between a
// Prepare's condition and its fulfillment (§4.2): condition = SHA256(fulfillment),
// fulfillment = SHA256(payload). This removes shared session state from the
// termination hot path — any honest terminating endpoint can derive the
// fulfillment from the payload alone.
package condition

import "crypto/sha256"

// Size is the byte length of both a condition and a fulfillment.
const Size = sha256.Size

// FromPayload derives the fulfillment for payload. The empty payload is
// valid; its fulfillment is SHA256 of the empty string.
func FromPayload(payload []byte) [Size]byte {
	return sha256.Sum256(payload)
}

// FromFulfillment derives the condition committed to by fulfillment.
func FromFulfillment(fulfillment [Size]byte) [Size]byte {
	return sha256.Sum256(fulfillment[:])
}

// Verify reports whether fulfillment satisfies condition.
func Verify(condition, fulfillment [Size]byte) bool {
	return FromFulfillment(fulfillment) == condition
}
