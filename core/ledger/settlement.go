package ledger

import (
	"context"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/agent-fabric/connector/core/chainadapter"
)

// Settlement submission is single-threaded per (peerId, chainTag) to
// guarantee nonce-monotone claim submission (§5); different channels settle
// in parallel. settlementQueue keeps one dedicated goroutine per key, woken
// by a signal channel, so a key's tasks never interleave while still letting
// distinct keys run concurrently.
type settlementQueue struct {
	ledger *Ledger

	mu      sync.Mutex
	signals map[Key]chan struct{}
	retries map[Key]int

	baseBackoff    time.Duration
	ceilingBackoff time.Duration
}

func newSettlementQueue(l *Ledger) *settlementQueue {
	return &settlementQueue{
		ledger:         l,
		signals:        make(map[Key]chan struct{}),
		retries:        make(map[Key]int),
		baseBackoff:    time.Second,
		ceilingBackoff: 5 * time.Minute,
	}
}

func (q *settlementQueue) signalFor(key Key) chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.signals[key]
	if !ok {
		ch = make(chan struct{}, 1)
		q.signals[key] = ch
		go q.worker(key, ch)
	}
	return ch
}

// enqueue wakes (or starts) the worker for key. Non-blocking: if a task is
// already pending for key the signal is coalesced (buffered size 1), which
// matches settlementPending suppressing duplicate triggers (§4.6).
func (q *settlementQueue) enqueue(key Key) {
	ch := q.signalFor(key)
	select {
	case ch <- struct{}{}:
	default:
	}
}

// scheduleRetry wakes key's worker again after an exponential, jittered
// backoff (§4.3-style "exponential with a ceiling").
func (q *settlementQueue) scheduleRetry(key Key) {
	q.mu.Lock()
	attempt := q.retryAttempt(key)
	q.mu.Unlock()

	d := q.baseBackoff << attempt
	if d > q.ceilingBackoff || d <= 0 {
		d = q.ceilingBackoff
	}
	jitter := time.Duration(float64(d) * (rand.Float64()*0.4 - 0.2)) // +/-20%
	delay := d + jitter
	time.AfterFunc(delay, func() {
		q.ledger.markPendingForRetry(key)
		q.enqueue(key)
	})
}

func (q *settlementQueue) retryAttempt(key Key) int {
	n := q.retries[key]
	if n < 10 {
		q.retries[key] = n + 1
	}
	return n
}

// worker drains signals for one key, submitting the latest signed claim to
// the chain adapter on each wake-up. It runs for the lifetime of the
// process once started.
func (q *settlementQueue) worker(key Key, signal chan struct{}) {
	for range signal {
		q.settleOnce(key)
	}
}

func (q *settlementQueue) settleOnce(key Key) {
	l := q.ledger
	claim, err := l.signOutgoingClaim(key)
	if err != nil {
		l.OnSettlementFailed(key)
		return
	}

	adapter := l.adapter(key.ChainTag)
	if adapter == nil {
		l.OnSettlementFailed(key)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.settlementTimeout())
	defer cancel()

	status, err := adapter.SubmitClaim(ctx, claim)
	if err != nil || status == chainadapter.StatusChainError {
		l.OnSettlementFailed(key)
		return
	}

	settled := new(big.Int).SetUint64(claim.Amount)
	l.OnSettlementSucceeded(key, settled, claim.Nonce)
	q.resetRetryAttempts(key)
}

func (q *settlementQueue) resetRetryAttempts(key Key) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.retries, key)
}

// markPendingForRetry restores settlementPending so a retry suppresses any
// new concurrent trigger while it runs.
func (l *Ledger) markPendingForRetry(key Key) {
	le := l.entryFor(key)
	le.mu.Lock()
	le.entry.SettlementPending = true
	le.mu.Unlock()
}

// settlementTimeout returns the configured per-submission timeout, defaulting
// to 30s when unset (§5 "Settlement submissions have their own timeout").
func (l *Ledger) settlementTimeout() time.Duration {
	if l.cfg.SettlementTimeout > 0 {
		return l.cfg.SettlementTimeout
	}
	return 30 * time.Second
}
