package forwarder

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agent-fabric/connector/core/condition"
	"github.com/agent-fabric/connector/core/ledger"
	"github.com/agent-fabric/connector/core/log"
	"github.com/agent-fabric/connector/core/wire"
	"github.com/agent-fabric/connector/internal/ilpaddr"
	"github.com/google/uuid"
)

// dedupKey identifies a downstream forward attempt for §8 P7 idempotent
// dedup: several simultaneous source-side Prepares with the same
// (destPeer, condition, amount) share one outgoing Prepare. The wire Fulfill
// and Reject frames only carry (destPeer, condition) for correlation (§6.1),
// so the amount isn't available when the response arrives; this key omits
// it, relying on condition collisions across distinct amounts on the same
// peer being practically unreachable (a condition is a payload hash
// commitment, not a caller-chosen value).
type dedupKey struct {
	destPeer  string
	condition [32]byte
}

// Config carries the NodeConfig fields the forwarder needs (§3, §4.4).
type Config struct {
	ChainTag       string            // the chain tag used to key ledger entries for forwarded amounts (§4.6)
	LocalPrefixes  []ilpaddr.Address // addresses this node terminates locally (§4.4 "destination matches local terminator prefix")
	HandlerTimeout time.Duration     // bounds the local-payload-handler call (default 10s)
	HandlerCodes   map[string]Code   // handler domain-code -> registry Code (§6.4)
}

// Forwarder implements the §4.4 per-Prepare state machine. It is reentrant:
// many Prepares are handled concurrently, each owning its own waiter state
// (§5).
type Forwarder struct {
	cfg     Config
	routes  RouteLookup
	sessions SessionSender
	ledger  *ledger.Ledger
	handler LocalHandler
	policy  PolicyHook

	draining int32 // atomic bool; set during shutdown (§4.8)

	mu       sync.Mutex
	inflight map[dedupKey]*forwardEntry
}

// New constructs a Forwarder. handler and policy may be swapped for fakes in
// tests; policy may be nil (identity).
func New(cfg Config, routes RouteLookup, sessions SessionSender, ledg *ledger.Ledger, handler LocalHandler, policy PolicyHook) *Forwarder {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 10 * time.Second
	}
	return &Forwarder{
		cfg:      cfg,
		routes:   routes,
		sessions: sessions,
		ledger:   ledg,
		handler:  handler,
		policy:   policy,
		inflight: make(map[dedupKey]*forwardEntry),
	}
}

// StopAccepting marks the forwarder as draining (§4.8 shutdown: "stop
// accepting new Prepares"). HandlePrepare still processes frames already in
// flight; only newly-arriving ones are rejected with T02.
func (f *Forwarder) StopAccepting() { atomic.StoreInt32(&f.draining, 1) }

func (f *Forwarder) isDraining() bool { return atomic.LoadInt32(&f.draining) != 0 }

// Dispatch is the session.InboundHandler the node orchestrator wires up for
// every peer session: it demultiplexes by frame type to the matching
// handler. Hello/HelloAck/Heartbeat never reach here (the session layer
// consumes those itself).
func (f *Forwarder) Dispatch(peerID string, fr wire.Frame) {
	switch fr.Type {
	case wire.TypePrepare:
		f.HandlePrepare(peerID, fr)
	case wire.TypeFulfill:
		f.OnFulfill(peerID, fr)
	case wire.TypeReject:
		f.OnReject(peerID, fr)
	default:
		flog.WithField("peer", peerID).WithField("type", fr.Type).Warn("unexpected frame type reached forwarder")
	}
}

var flog = log.For("forwarder")

// HandlePrepare is the entry point for an incoming Prepare from sourcePeer
// (§4.4). It never blocks the caller beyond the local-payload-handler call
// or the session send's bounded-queue backpressure; downstream response
// waiting happens on a background goroutine so the session's ingress
// pipeline is not held up per Prepare (§5 suspension points).
func (f *Forwarder) HandlePrepare(sourcePeer string, p wire.Frame) {
	now := time.Now()
	expiresAt := time.UnixMilli(p.ExpiresAt)

	if f.isDraining() {
		f.reject(sourcePeer, p.Condition, CodeShuttingDown, "shutting down")
		return
	}
	if !now.Before(expiresAt) {
		f.reject(sourcePeer, p.Condition, CodeExpiredAtReceiver, "expired")
		return
	}

	dest, err := ilpaddr.Parse(p.Destination)
	if err != nil {
		f.reject(sourcePeer, p.Condition, CodeNoRoute, "no route")
		return
	}

	if f.isLocal(dest) {
		go f.localTerminate(sourcePeer, p)
		return
	}
	f.forward(sourcePeer, p, dest, expiresAt)
}

func (f *Forwarder) isLocal(dest ilpaddr.Address) bool {
	for _, lp := range f.cfg.LocalPrefixes {
		if dest.HasStrictPrefix(lp) {
			return true
		}
	}
	return false
}

// localTerminate implements §4.5/§4.4's LOCAL_TERMINATE branch.
func (f *Forwarder) localTerminate(sourcePeer string, p wire.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.HandlerTimeout)
	defer cancel()

	req := HandlerRequest{
		PaymentID:   uuid.NewString(),
		Amount:      p.Amount,
		Destination: p.Destination,
		Payload:     p.Payload,
	}
	resp, err := f.handler.Handle(ctx, req)
	if err != nil {
		flog.WithField("error", err).Warn("local handler error")
		f.reject(sourcePeer, p.Condition, CodeInternalError, "internal error")
		return
	}
	if !resp.Accept {
		code := mapHandlerCode(f.cfg.HandlerCodes, resp.RejectCode)
		f.rejectWithPayload(sourcePeer, p.Condition, code, resp.RejectMessage, resp.ResponsePayload)
		return
	}

	fulfillment := condition.FromPayload(p.Payload)
	if !condition.Verify(p.Condition, fulfillment) {
		f.reject(sourcePeer, p.Condition, CodeConditionMismatch, "condition mismatch")
		return
	}
	f.fulfill(sourcePeer, p.Condition, fulfillment, resp.ResponsePayload)
}

// forward implements §4.4's FORWARD branch.
func (f *Forwarder) forward(sourcePeer string, p wire.Frame, dest ilpaddr.Address, expiresAt time.Time) {
	nextHop, ok := f.routes.Lookup(dest)
	if !ok {
		f.reject(sourcePeer, p.Condition, CodeNoRoute, "no route")
		return
	}

	key := ledger.Key{PeerID: nextHop, ChainTag: f.cfg.ChainTag}
	if f.ledger.WouldExceedCapacity(key, new(big.Int).SetUint64(p.Amount)) {
		f.reject(sourcePeer, p.Condition, CodeCapacityExceeded, "insufficient channel capacity")
		return
	}

	w := &waiterState{
		sourcePeer: sourcePeer,
		condition:  p.Condition,
		amount:     p.Amount,
		expiresAt:  expiresAt,
	}

	dk := dedupKey{destPeer: nextHop, condition: p.Condition}
	entry, isNew := f.attachWaiter(dk, nextHop, p.Amount, w)

	w.timer = time.AfterFunc(time.Until(expiresAt), func() {
		f.onExpiry(dk, entry, w)
	})

	if !isNew {
		// An equivalent forward is already outstanding; this waiter rides
		// along (§4.4 step 2, §8 P7) without a second outgoing Prepare.
		return
	}

	out := p
	if f.policy != nil {
		out = f.policy(nextHop, p)
	}
	if err := f.sessions.Send(nextHop, out); err != nil {
		f.removeEntry(dk, entry)
		stopTimer(w)
		f.respondOnce(w, func() {
			f.reject(sourcePeer, p.Condition, CodePeerDisconnected, "peer disconnected")
		})
		return
	}
}

// attachWaiter registers w against the shared forwardEntry for dk, creating
// one if none is outstanding. isNew tells the caller whether it owns sending
// the outgoing Prepare; sentAmount is fixed at creation to the amount of that
// single outgoing Prepare, regardless of how many riders attach afterward.
func (f *Forwarder) attachWaiter(dk dedupKey, nextHop string, sentAmount uint64, w *waiterState) (*forwardEntry, bool) {
	f.mu.Lock()
	entry, ok := f.inflight[dk]
	isNew := !ok
	if !ok {
		entry = newForwardEntry(nextHop, sentAmount)
		f.inflight[dk] = entry
	}
	f.mu.Unlock()

	entry.mu.Lock()
	entry.waiters = append(entry.waiters, w)
	entry.mu.Unlock()
	return entry, isNew
}

func (f *Forwarder) removeEntry(dk dedupKey, entry *forwardEntry) {
	f.mu.Lock()
	if f.inflight[dk] == entry {
		delete(f.inflight, dk)
	}
	f.mu.Unlock()
}

// onExpiry fires when w's source-side deadline passes before a downstream
// response (§4.4 step 8, §5 cancellation).
func (f *Forwarder) onExpiry(dk dedupKey, entry *forwardEntry, w *waiterState) {
	entry.mu.Lock()
	entry.waiters = removeWaiter(entry.waiters, w)
	empty := len(entry.waiters) == 0
	if empty {
		}
	entry.mu.Unlock()
	if empty {
		f.removeEntry(dk, entry)
	}
	f.respondOnce(w, func() {
		f.reject(w.sourcePeer, w.condition, CodeDownstreamTimeout, "downstream timeout")
	})
}

// respondOnce enforces §5/§8 P1: a waiter's responded flag is CAS'd exactly
// once, so whichever of {Fulfill, Reject, expiry, disconnect} reaches it
// first wins and every later one is a silent no-op — in particular, a late
// Fulfill arriving after a waiter's expiry timer already fired is discarded
// here (§4.4 step 8) without touching the ledger.
func (f *Forwarder) respondOnce(w *waiterState, send func()) {
	if atomic.CompareAndSwapInt32(&w.responded, 0, 1) {
		send()
	}
}

func removeWaiter(waiters []*waiterState, target *waiterState) []*waiterState {
	out := waiters[:0]
	for _, w := range waiters {
		if w != target {
			out = append(out, w)
		}
	}
	return out
}

// OnFulfill is invoked by the session layer when a Fulfill is received from
// peerID (§4.4 step 6).
func (f *Forwarder) OnFulfill(peerID string, fr wire.Frame) {
	dk := dedupKey{destPeer: peerID, condition: fr.Condition}
	entry := f.takeEntry(dk)
	if entry == nil {
		return // unknown or already-resolved correlation id; drop
	}

	entry.mu.Lock()
	waiters := entry.waiters
	entry.waiters = nil
	entry.mu.Unlock()
	if len(waiters) == 0 {
		return
	}

	mismatch := !condition.Verify(fr.Condition, fr.Fulfillment)
	if mismatch {
		for _, w := range waiters {
			stopTimer(w)
			f.respondOnce(w, func() {
				f.reject(w.sourcePeer, w.condition, CodeConditionMismatch, "condition mismatch")
			})
		}
		return
	}

	// §5 ordering guarantee: the ledger increment happens-before the Fulfill
	// relay to source. Credit exactly the amount of the single outgoing
	// Prepare that was actually sent (P6), not the sum of every deduped rider
	// (P5: crediting per-rider would count value that never crossed the wire).
	key := ledger.Key{PeerID: peerID, ChainTag: f.cfg.ChainTag}
	sent := new(big.Int).SetUint64(entry.sentAmount)
	if err := f.ledger.OnForwardAccepted(key, sent); err != nil {
		flog.WithField("peer", peerID).WithField("error", err).Warn("ledger update failed after fulfill")
	}

	for _, w := range waiters {
		stopTimer(w)
		f.respondOnce(w, func() {
			f.fulfill(w.sourcePeer, w.condition, fr.Fulfillment, fr.Payload)
		})
	}
}

// OnReject is invoked by the session layer when a Reject is received from
// peerID (§4.4 step 7).
func (f *Forwarder) OnReject(peerID string, fr wire.Frame) {
	dk := dedupKey{destPeer: peerID, condition: fr.Condition}
	entry := f.takeEntry(dk)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	waiters := entry.waiters
	entry.waiters = nil
	entry.mu.Unlock()

	key := ledger.Key{PeerID: peerID, ChainTag: f.cfg.ChainTag}
	f.ledger.OnForwardRejected(key)

	for _, w := range waiters {
		stopTimer(w)
		f.respondOnce(w, func() {
			f.rejectWithPayload(w.sourcePeer, w.condition, Code(fr.Code), fr.Message, fr.Payload)
		})
	}
}

// OnPeerDisconnected fails every outstanding forward to peerID with T01
// (§4.4 step 9).
func (f *Forwarder) OnPeerDisconnected(peerID string) {
	f.mu.Lock()
	stale := make(map[dedupKey]*forwardEntry)
	for k, e := range f.inflight {
		if k.destPeer == peerID {
			stale[k] = e
			delete(f.inflight, k)
		}
	}
	f.mu.Unlock()

	for _, entry := range stale {
		entry.mu.Lock()
		waiters := entry.waiters
		entry.waiters = nil
			entry.mu.Unlock()
		for _, w := range waiters {
			stopTimer(w)
			f.respondOnce(w, func() {
				f.reject(w.sourcePeer, w.condition, CodePeerDisconnected, "peer disconnected")
			})
		}
	}
}

func (f *Forwarder) takeEntry(dk dedupKey) *forwardEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.inflight[dk]
	if !ok {
		return nil
	}
	delete(f.inflight, dk)
	return e
}

func stopTimer(w *waiterState) {
	if w.timer != nil {
		w.timer.Stop()
	}
}

// fulfill and reject are the two terminal-response primitives; callers that
// own a waiter must go through respondOnce rather than calling these
// directly, except for the immediate-reject paths (expired, no route,
// capacity, shutting down) that never allocate a waiter in the first place.
func (f *Forwarder) fulfill(sourcePeer string, cond, fulfillment [32]byte, payload []byte) {
	frame := wire.Frame{Type: wire.TypeFulfill, Condition: cond, Fulfillment: fulfillment, Payload: payload}
	if err := f.sessions.Send(sourcePeer, frame); err != nil {
		flog.WithField("peer", sourcePeer).WithField("error", err).Warn("failed to relay fulfill to source")
	}
}

func (f *Forwarder) reject(sourcePeer string, cond [32]byte, code Code, message string) {
	f.rejectWithPayload(sourcePeer, cond, code, message, nil)
}

func (f *Forwarder) rejectWithPayload(sourcePeer string, cond [32]byte, code Code, message string, payload []byte) {
	if len(message) > wire.MaxMessage {
		message = message[:wire.MaxMessage]
	}
	frame := wire.Frame{Type: wire.TypeReject, Condition: cond, Code: [3]byte(code), Message: message, Payload: payload}
	if err := f.sessions.Send(sourcePeer, frame); err != nil {
		flog.WithField("peer", sourcePeer).WithField("error", err).Warn("failed to relay reject to source")
	}
}
