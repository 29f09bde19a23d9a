package forwarder

import (
	"context"
	"sync"
	"time"

	"github.com/agent-fabric/connector/core/wire"
	"github.com/agent-fabric/connector/internal/ilpaddr"
)

// LocalHandler is the out-of-core local-payload-handler adapter of §4.5/§6.4.
// The forwarder never interprets payload bytes; it only derives the
// fulfillment from them.
type LocalHandler interface {
	Handle(ctx context.Context, req HandlerRequest) (HandlerResponse, error)
}

// HandlerRequest carries the fields the local handler needs, with the
// payment identifier the core mints for this call (§6.4 paymentId).
type HandlerRequest struct {
	PaymentID   string
	Amount      uint64
	Destination string
	Payload     []byte
}

// HandlerResponse is the local handler's verdict (§6.4).
type HandlerResponse struct {
	Accept          bool
	RejectCode      string
	RejectMessage   string
	ResponsePayload []byte
}

// SessionSender delivers a frame to peerID's current session. Both
// *session.Manager and test fakes satisfy it.
type SessionSender interface {
	Send(peerID string, f wire.Frame) error
}

// RouteLookup resolves a destination address to a next hop. *routing.Table
// satisfies it.
type RouteLookup interface {
	Lookup(addr ilpaddr.Address) (string, bool)
}

// PolicyHook optionally adjusts the outgoing Prepare's amount/expiresAt
// before it is sent to nextHop (§4.4 step 3: "apply local policy (non-core)
// ... the core reproduces whatever values the source provided unless a
// policy hook overrides them"). A nil hook is the identity.
type PolicyHook func(nextHop string, p wire.Frame) wire.Frame

// waiterState is one source-side in-flight Prepare attached to a shared
// forwardEntry (§8 P7: several simultaneous equivalent Prepares share one
// downstream forward but each still owes its own source exactly one
// terminal response, §8 P1).
type waiterState struct {
	sourcePeer string
	condition  [32]byte // the condition the SOURCE's Prepare carried (identical across waiters by dedup key)
	amount     uint64
	expiresAt  time.Time
	responded  int32 // atomic 0/1, CAS'd exactly once (§5 "atomically transitions pending -> responded")
	timer      *time.Timer
}

// forwardEntry is the InFlightPrepare record for one downstream forward:
// exactly one outgoing Prepare was sent to nextHop for (nextHop, condition),
// shared by every waiter that arrived for the same (destPeer, condition) pair
// while it was outstanding, whatever that waiter's amount (§4.4 step 2, §8 P7).
// sentAmount is the amount of that single outgoing Prepare (the first
// waiter's amount) — P6 requires the ledger credit on Fulfill to equal the
// amount actually relayed across the channel, not the sum of every rider.
type forwardEntry struct {
	nextHop    string
	sentAmount uint64

	mu      sync.Mutex
	waiters []*waiterState
}

func newForwardEntry(nextHop string, sentAmount uint64) *forwardEntry {
	return &forwardEntry{nextHop: nextHop, sentAmount: sentAmount}
}
