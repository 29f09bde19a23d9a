// Package ledger implements the off-chain channel ledger and settlement
// trigger of §4.6: per-(peerId, chainTag) accumulated owed amount, nonce
// progression, threshold evaluation, and an asynchronous settlement queue.
//
// Grounded on the teacher's core/state_channel.go (nonce-ordered signed
// state, challenge/escrow bookkeeping — adapted here from a 2-party
// on-chain-settled channel into a per-peer owed-amount ledger with an async
// settlement worker) and core/ledger.go's WAL + snapshot persistence shape
// (NewLedger/OpenLedger).
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/agent-fabric/connector/core/chainadapter"
	"github.com/agent-fabric/connector/core/claims"
	"github.com/agent-fabric/connector/core/log"
)

// Key identifies a single per-peer-per-chain channel.
type Key struct {
	PeerID   string
	ChainTag string
}

func (k Key) String() string { return k.PeerID + "/" + k.ChainTag }

// Entry is a ChannelLedgerEntry (§3). Amounts are *big.Int to honour the
// spec's u128 fields (the teacher's codebase reaches for math/big throughout
// for token amounts, e.g. core/coin.go, core/bft_simulation.go).
type Entry struct {
	Deposit              *big.Int
	OwedToPeer           *big.Int // we owe peer
	OwedFromPeer         *big.Int // peer owes us
	Nonce                uint64
	HighestReceivedNonce uint64
	LastSignedClaim      *claims.Claim
	SettlementPending    bool
}

func newEntry(deposit *big.Int) *Entry {
	return &Entry{
		Deposit:      new(big.Int).Set(deposit),
		OwedToPeer:   new(big.Int),
		OwedFromPeer: new(big.Int),
	}
}

var (
	ErrCapacityExceeded = errors.New("ledger: owed amount would exceed channel deposit")
	ErrNoSuchChannel    = errors.New("ledger: no such channel")
	ErrNoSigner         = errors.New("ledger: no claim signer registered for channel")
)

type lockedEntry struct {
	mu     sync.Mutex
	entry  *Entry
	signer *claims.Signer
}

// Config carries the settlement-relevant NodeConfig fields (§3 settlement).
type Config struct {
	ThresholdAmount   *big.Int
	SettlementTimeout time.Duration
}

// Ledger is the process-wide channel ledger singleton (§9 "process-wide
// state"). Each (peerId, chainTag) entry is guarded by its own lock (§5:
// "fine-grained lock; coarse global locking is incorrect for throughput").
type Ledger struct {
	mu      sync.RWMutex // guards the entries map itself, not entry contents
	entries map[Key]*lockedEntry
	cfg     Config
	adapter func(chainTag string) chainadapter.ChainAdapter
	queue   *settlementQueue
	persist *Store
}

// New creates an empty Ledger. adapterFor resolves the ChainAdapter to use
// for a given chainTag at settlement time (§6.5); store, if non-nil, is used
// for WAL + snapshot persistence (§4.6 crash recovery).
func New(cfg Config, adapterFor func(chainTag string) chainadapter.ChainAdapter, store *Store) *Ledger {
	l := &Ledger{
		entries: make(map[Key]*lockedEntry),
		cfg:     cfg,
		adapter: adapterFor,
		persist: store,
	}
	l.queue = newSettlementQueue(l)
	return l
}

func (l *Ledger) entryFor(key Key) *lockedEntry {
	l.mu.RLock()
	le, ok := l.entries[key]
	l.mu.RUnlock()
	if ok {
		return le
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if le, ok = l.entries[key]; ok {
		return le
	}
	le = &lockedEntry{entry: newEntry(new(big.Int))}
	l.entries[key] = le
	return le
}

// OpenChannel registers a channel with the given deposit cap, or is a no-op
// if the channel already exists.
func (l *Ledger) OpenChannel(key Key, deposit *big.Int) {
	le := l.entryFor(key)
	le.mu.Lock()
	defer le.mu.Unlock()
	if le.entry.Deposit.Sign() == 0 {
		le.entry.Deposit = new(big.Int).Set(deposit)
	}
}

// RegisterSigner installs the claim signer that exclusively owns key's
// outgoing nonce counter (§4.7 "Ownership").
func (l *Ledger) RegisterSigner(key Key, signer *claims.Signer) {
	le := l.entryFor(key)
	le.mu.Lock()
	defer le.mu.Unlock()
	le.signer = signer
}

// WouldExceedCapacity reports whether adding amount to owedToPeer for key
// would breach the deposit cap — used by the forwarder BEFORE sending, to
// reject with F04 rather than forwarding and failing the ledger update
// (§4.6 invariant).
func (l *Ledger) WouldExceedCapacity(key Key, amount *big.Int) bool {
	le := l.entryFor(key)
	le.mu.Lock()
	defer le.mu.Unlock()
	projected := new(big.Int).Add(le.entry.OwedToPeer, amount)
	return projected.Cmp(le.entry.Deposit) > 0
}

// OnForwardAccepted records amount owed to peer after a relayed Fulfill,
// atomically evaluating the settlement threshold within the same critical
// section as the increment (§4.6, P5, P6).
func (l *Ledger) OnForwardAccepted(key Key, amount *big.Int) error {
	le := l.entryFor(key)
	le.mu.Lock()
	projected := new(big.Int).Add(le.entry.OwedToPeer, amount)
	if projected.Cmp(le.entry.Deposit) > 0 {
		le.mu.Unlock()
		return ErrCapacityExceeded
	}
	le.entry.OwedToPeer = projected
	crossedThreshold := !le.entry.SettlementPending &&
		l.cfg.ThresholdAmount != nil &&
		le.entry.OwedToPeer.Cmp(l.cfg.ThresholdAmount) >= 0
	if crossedThreshold {
		le.entry.SettlementPending = true
	}
	le.mu.Unlock()

	l.appendWAL(walRecord{Op: "forward_accepted", Key: key, Amount: amount.String()})

	if crossedThreshold {
		l.queue.enqueue(key)
	}
	return nil
}

// OnForwardRejected performs no mutation (§4.6).
func (l *Ledger) OnForwardRejected(key Key) {}

// signOutgoingClaim signs a claim at the channel's current owed amount and
// the signer's next nonce, advancing the signer's nonce (§4.6). Exposed for
// the settlement worker; callers outside this package should go through
// the settlement queue rather than calling this
// directly, to preserve single-threaded-per-channel submission ordering
// (§5).
func (l *Ledger) signOutgoingClaim(key Key) (claims.Claim, error) {
	le := l.entryFor(key)
	le.mu.Lock()
	defer le.mu.Unlock()
	if le.signer == nil {
		return claims.Claim{}, ErrNoSigner
	}
	c, err := le.signer.NextClaim(new(big.Int).Set(le.entry.OwedToPeer).Uint64())
	if err != nil {
		return claims.Claim{}, err
	}
	le.entry.Nonce = c.Nonce
	le.entry.LastSignedClaim = &c
	return c, nil
}

// AcceptIncomingClaim verifies and applies an incoming signed claim from
// peer (§4.6 acceptIncomingClaim).
func (l *Ledger) AcceptIncomingClaim(key Key, verifier *claims.Verifier, c claims.Claim) error {
	if err := verifier.Accept(key.PeerID, c); err != nil {
		return err
	}
	le := l.entryFor(key)
	le.mu.Lock()
	le.entry.HighestReceivedNonce = c.Nonce
	le.entry.OwedFromPeer = new(big.Int).SetUint64(c.Amount)
	le.mu.Unlock()

	l.appendWAL(walRecord{Op: "claim_accepted", Key: key, Nonce: c.Nonce, Amount: fmt.Sprint(c.Amount)})
	l.snapshotNow()
	return nil
}

// OnSettlementSucceeded reduces owedToPeer by settledAmount and clears the
// pending flag (§4.6).
func (l *Ledger) OnSettlementSucceeded(key Key, settledAmount *big.Int, nonce uint64) {
	le := l.entryFor(key)
	le.mu.Lock()
	le.entry.OwedToPeer = new(big.Int).Sub(le.entry.OwedToPeer, settledAmount)
	if le.entry.OwedToPeer.Sign() < 0 {
		le.entry.OwedToPeer.SetInt64(0)
	}
	le.entry.SettlementPending = false
	le.mu.Unlock()

	l.appendWAL(walRecord{Op: "settlement_succeeded", Key: key, Nonce: nonce, Amount: settledAmount.String()})
	l.snapshotNow()
}

// OnSettlementFailed clears the pending flag and schedules a retry with
// backoff (§4.6, §4.3-style exponential-with-ceiling).
func (l *Ledger) OnSettlementFailed(key Key) {
	le := l.entryFor(key)
	le.mu.Lock()
	le.entry.SettlementPending = false
	le.mu.Unlock()
	l.appendWAL(walRecord{Op: "settlement_failed", Key: key})
	l.queue.scheduleRetry(key)
}

// PersistSnapshot writes a full snapshot of ledger state to the configured
// Store, if any. The node orchestrator calls it every
// settlement.pollingIntervalMs while running, and once more on Stop (§4.6).
func (l *Ledger) PersistSnapshot() { l.snapshotNow() }

// Entry returns a read-only copy of the channel entry for key, or false if
// it does not exist.
func (l *Ledger) Entry(key Key) (Entry, bool) {
	l.mu.RLock()
	le, ok := l.entries[key]
	l.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	le.mu.Lock()
	defer le.mu.Unlock()
	cp := *le.entry
	cp.Deposit = new(big.Int).Set(le.entry.Deposit)
	cp.OwedToPeer = new(big.Int).Set(le.entry.OwedToPeer)
	cp.OwedFromPeer = new(big.Int).Set(le.entry.OwedFromPeer)
	return cp, true
}

var logComponent = log.For("ledger")
