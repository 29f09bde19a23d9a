// Package session implements the peer session manager of §4.3: one
// authenticated full-duplex session per peer, with handshake, heartbeat
// liveness, backpressure, and reconnect-with-backoff.
//
// Grounded on the teacher's core/network.go (Node's host/stream model,
// DialSeed bootstrap loop) and core/connection_pool.go (background reaper
// goroutine pattern, mutex-guarded map-of-slices keyed by remote address) —
// adapted from bare net.Conn pooling to a stream-per-peer session with its
// own liveness and backpressure state machine.
package session

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agent-fabric/connector/core/log"
	"github.com/agent-fabric/connector/core/wire"
)

// State is a PeerSession's lifecycle state (§4.3).
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrQueueFull is returned by Send when the egress queue is at Qmax; the
	// caller must treat it as a transient local error (§4.3 Backpressure).
	ErrQueueFull = errors.New("session: egress queue full")
	// ErrClosed is returned by Send once the session has closed.
	ErrClosed = errors.New("session: closed")
)

// Transport is the minimal stream abstraction a Session operates over.
// libp2p's network.Stream satisfies it directly; tests use net.Pipe.
type Transport interface {
	io.ReadWriteCloser
}

// InboundHandler is invoked with each frame the session receives, other than
// Hello/HelloAck/Heartbeat, which the session itself consumes.
type InboundHandler func(peerID string, f wire.Frame)

// Config carries the per-manager constants from NodeConfig relevant to
// session behaviour (§4.3, §5).
type Config struct {
	HeartbeatInterval time.Duration // H
	Qmax              int
}

// Session is one PeerSession (§3): exactly one live session per peerId.
type Session struct {
	PeerID         string
	RemoteEndpoint string

	authToken string
	transport Transport
	cfg       Config
	onInbound InboundHandler
	onClosed  func(peerID string, reason error)

	state int32 // atomic State

	lastRxAt int64 // atomic unix nanos
	lastTxAt int64 // atomic unix nanos

	egress    chan wire.Frame
	heartbeat *time.Ticker
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func newSession(peerID, remoteEndpoint, authToken string, transport Transport, cfg Config, onInbound InboundHandler, onClosed func(string, error)) *Session {
	if cfg.Qmax <= 0 {
		cfg.Qmax = 256
	}
	s := &Session{
		PeerID:         peerID,
		RemoteEndpoint: remoteEndpoint,
		authToken:      authToken,
		transport:      transport,
		cfg:            cfg,
		onInbound:      onInbound,
		onClosed:       onClosed,
		state:          int32(StateConnecting),
		egress:         make(chan wire.Frame, cfg.Qmax),
		done:           make(chan struct{}),
	}
	now := time.Now().UnixNano()
	atomic.StoreInt64(&s.lastRxAt, now)
	atomic.StoreInt64(&s.lastTxAt, now)
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	s.heartbeat = time.NewTicker(interval)
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return State(atomic.LoadInt32(&s.state)) }

func (s *Session) setState(st State) { atomic.StoreInt32(&s.state, int32(st)) }

// LastRxAt and LastTxAt report the last observed activity timestamps.
func (s *Session) LastRxAt() time.Time { return time.Unix(0, atomic.LoadInt64(&s.lastRxAt)) }
func (s *Session) LastTxAt() time.Time { return time.Unix(0, atomic.LoadInt64(&s.lastTxAt)) }

// Send enqueues f for transmission, returning ErrQueueFull immediately if the
// egress queue is at Qmax (§4.3 Backpressure: "the caller must treat this as
// a transient local error and generate a Reject with a temporary-failure
// code") or ErrClosed if the session has already closed.
func (s *Session) Send(f wire.Frame) error {
	if s.State() == StateClosed {
		return ErrClosed
	}
	select {
	case s.egress <- f:
		return nil
	default:
		return ErrQueueFull
	}
}

// run starts the session's egress (which also sends heartbeats), ingress, and
// liveness-monitor goroutines and blocks until the session closes.
func (s *Session) run() {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.egressLoop() }()
	go func() { defer wg.Done(); s.ingressLoop() }()
	go func() { defer wg.Done(); s.livenessLoop() }()
	wg.Wait()
}

func (s *Session) egressLoop() {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.egress:
			if err := s.writeFrame(f); err != nil {
				s.Close(fmt.Errorf("session: io_error: %w", err))
				return
			}
		case <-s.heartbeat.C:
			if err := s.writeFrame(wire.Frame{Type: wire.TypeHeartbeat}); err != nil {
				s.Close(fmt.Errorf("session: io_error: %w", err))
				return
			}
		}
	}
}

func (s *Session) writeFrame(f wire.Frame) error {
	enc, err := wire.Encode(f)
	if err != nil {
		return err
	}
	if _, err := s.transport.Write(enc); err != nil {
		return err
	}
	atomic.StoreInt64(&s.lastTxAt, time.Now().UnixNano())
	return nil
}

func (s *Session) ingressLoop() {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := s.transport.Read(tmp)
		if err != nil {
			s.Close(fmt.Errorf("session: io_error: %w", err))
			return
		}
		buf = append(buf, tmp[:n]...)
		for {
			f, consumed, err := wire.Decode(buf)
			if err != nil {
				s.Close(fmt.Errorf("session: protocol_violation: %w", err))
				return
			}
			if consumed == 0 {
				break
			}
			buf = buf[consumed:]
			atomic.StoreInt64(&s.lastRxAt, time.Now().UnixNano())
			if f.Type == wire.TypeHeartbeat {
				continue
			}
			if s.onInbound != nil {
				s.onInbound(s.PeerID, f)
			}
		}
	}
}

func (s *Session) livenessLoop() {
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	threshold := 3 * interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if time.Since(s.LastRxAt()) > threshold {
				s.setState(StateClosing)
				s.Close(errors.New("session: stale"))
				return
			}
		}
	}
}

// Close tears the session down, idempotently.
func (s *Session) Close(reason error) error {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		s.closeErr = reason
		close(s.done)
		_ = s.transport.Close()
		if s.heartbeat != nil {
			s.heartbeat.Stop()
		}
		if s.onClosed != nil {
			s.onClosed(s.PeerID, reason)
		}
		log.For("session").WithField("peer", s.PeerID).WithField("reason", reason).Info("session closed")
	})
	return s.closeErr
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
