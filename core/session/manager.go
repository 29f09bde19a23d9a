package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/agent-fabric/connector/core/log"
	"github.com/agent-fabric/connector/core/wire"
)

// Dialer opens a new Transport to endpoint. The real implementation wraps a
// libp2p host's NewStream call (core/network.go's DialSeed does the
// equivalent over raw libp2p Connect); tests use an in-memory Dialer over
// net.Pipe.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Transport, error)
}

// PeerConfig is one entry from the peers[] NodeConfig list (§6.6).
type PeerConfig struct {
	NodeID    string
	Endpoint  string
	AuthToken string
}

var (
	errDisplaced  = fmt.Errorf("session: displaced by a newer handshake")
	errAuthFailed = fmt.Errorf("session: auth_failed")
)

// Manager owns exactly one live Session per peerId (§3), handling inbound
// and outbound handshakes, and redialing disconnected peers with backoff.
type Manager struct {
	selfNodeID string
	cfg        Config
	dialer     Dialer
	onInbound  InboundHandler

	mu       sync.Mutex
	peers    map[string]PeerConfig
	sessions map[string]*Session
	backoffN map[string]int
	stopping bool
	stopCh   chan struct{}

	baseBackoff    time.Duration
	ceilingBackoff time.Duration
}

// NewManager creates a Manager for selfNodeID. peers seeds the known peer
// list (§6.6 peers[]); onInbound receives every non-handshake, non-heartbeat
// frame received from any peer.
func NewManager(selfNodeID string, cfg Config, dialer Dialer, peers []PeerConfig, onInbound InboundHandler) *Manager {
	m := &Manager{
		selfNodeID:     selfNodeID,
		cfg:            cfg,
		dialer:         dialer,
		onInbound:      onInbound,
		peers:          make(map[string]PeerConfig, len(peers)),
		sessions:       make(map[string]*Session),
		backoffN:       make(map[string]int),
		stopCh:         make(chan struct{}),
		baseBackoff:    time.Second,
		ceilingBackoff: time.Minute,
	}
	for _, p := range peers {
		m.peers[p.NodeID] = p
	}
	return m
}

// Start dials every configured peer, then returns; individual dial failures
// are retried in the background via the reconnect loop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	peers := make([]PeerConfig, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()
	for _, p := range peers {
		go m.dialWithBackoff(ctx, p)
	}
}

// Stop closes every session and halts reconnect loops.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return
	}
	m.stopping = true
	close(m.stopCh)
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close(nil)
	}
}

// Session returns the current live session for peerID, if any.
func (m *Manager) Session(peerID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[peerID]
	return s, ok
}

// PeerCounts reports the configured peer count and how many currently have
// an open session (§4.8 health: "no peers configured or >= 50% of configured
// peers have an open session").
func (m *Manager) PeerCounts() (open, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total = len(m.peers)
	for _, s := range m.sessions {
		if s.State() == StateOpen {
			open++
		}
	}
	return open, total
}

// PeerSummary is one row of the §6.3 GET /admin/peers listing.
type PeerSummary struct {
	NodeID   string
	Endpoint string
	State    string
	LastRxAt time.Time
	LastTxAt time.Time
}

// Peers lists every configured peer with its live session state, if any.
func (m *Manager) Peers() []PeerSummary {
	m.mu.Lock()
	peers := make([]PeerConfig, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	sessions := make(map[string]*Session, len(m.sessions))
	for k, s := range m.sessions {
		sessions[k] = s
	}
	m.mu.Unlock()

	out := make([]PeerSummary, 0, len(peers))
	for _, p := range peers {
		sm := PeerSummary{NodeID: p.NodeID, Endpoint: p.Endpoint, State: "disconnected"}
		if s, ok := sessions[p.NodeID]; ok {
			sm.State = s.State().String()
			sm.LastRxAt = s.LastRxAt()
			sm.LastTxAt = s.LastTxAt()
		}
		out = append(out, sm)
	}
	return out
}

// Send routes f to peerID's current session, returning ErrClosed if there is
// none (§4.4 forwarder: the caller maps this to a Reject with a
// temporary-failure code, same as ErrQueueFull).
func (m *Manager) Send(peerID string, f wire.Frame) error {
	s, ok := m.Session(peerID)
	if !ok {
		return ErrClosed
	}
	return s.Send(f)
}

func (m *Manager) dialWithBackoff(ctx context.Context, p PeerConfig) {
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		if _, ok := m.Session(p.NodeID); ok {
			return
		}
		err := m.dial(ctx, p)
		if err == nil {
			m.mu.Lock()
			delete(m.backoffN, p.NodeID)
			m.mu.Unlock()
			return
		}
		log.For("session.manager").WithField("peer", p.NodeID).WithField("error", err).Warn("dial failed, backing off")
		d := m.nextBackoff(p.NodeID)
		select {
		case <-time.After(d):
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) nextBackoff(peerID string) time.Duration {
	m.mu.Lock()
	n := m.backoffN[peerID]
	if n < 10 {
		m.backoffN[peerID] = n + 1
	}
	m.mu.Unlock()
	d := m.baseBackoff << n
	if d > m.ceilingBackoff || d <= 0 {
		d = m.ceilingBackoff
	}
	jitter := time.Duration(float64(d) * (rand.Float64()*0.4 - 0.2))
	return d + jitter
}

// dial performs the initiator side of the §4.3 handshake: open a transport,
// send Hello, await HelloAck, install the session (displacing any prior
// session for the same peer).
func (m *Manager) dial(ctx context.Context, p PeerConfig) error {
	t, err := m.dialer.Dial(ctx, p.Endpoint)
	if err != nil {
		return err
	}
	hello := wire.Frame{
		Type:          wire.TypeHello,
		NodeID:        m.selfNodeID,
		AuthToken:     p.AuthToken,
		HeartbeatSecs: uint16(m.cfg.HeartbeatInterval / time.Second),
	}
	enc, err := wire.Encode(hello)
	if err != nil {
		_ = t.Close()
		return err
	}
	if _, err := t.Write(enc); err != nil {
		_ = t.Close()
		return err
	}

	ack, err := readOneFrame(t)
	if err != nil {
		_ = t.Close()
		return fmt.Errorf("session: handshake read failed: %w", err)
	}
	if ack.Type != wire.TypeHelloAck {
		_ = t.Close()
		return fmt.Errorf("session: expected HelloAck, got type 0x%02x", byte(ack.Type))
	}
	if ack.NodeID != p.NodeID {
		_ = t.Close()
		return fmt.Errorf("session: HelloAck nodeId mismatch: want %s got %s", p.NodeID, ack.NodeID)
	}

	cfg := m.cfg
	if ack.HeartbeatSecs > 0 {
		cfg.HeartbeatInterval = time.Duration(ack.HeartbeatSecs) * time.Second
	}
	s := newSession(p.NodeID, p.Endpoint, p.AuthToken, t, cfg, m.onInbound, m.onSessionClosed)
	s.setState(StateOpen)
	m.installSession(s)
	go s.run()
	return nil
}

// AcceptInbound performs the responder side of the handshake over an
// already-accepted transport (the caller has already demultiplexed this
// transport to the session protocol, e.g. a libp2p stream handler).
func (m *Manager) AcceptInbound(t Transport) error {
	f, err := readOneFrame(t)
	if err != nil {
		_ = t.Close()
		return fmt.Errorf("session: handshake read failed: %w", err)
	}
	if f.Type != wire.TypeHello {
		_ = t.Close()
		return fmt.Errorf("session: expected Hello, got type 0x%02x", byte(f.Type))
	}

	m.mu.Lock()
	p, known := m.peers[f.NodeID]
	m.mu.Unlock()
	if !known || !constantTimeEqual(f.AuthToken, p.AuthToken) {
		_ = t.Close()
		log.For("session.manager").WithField("peer", f.NodeID).Warn("auth_failed")
		return errAuthFailed
	}

	ack := wire.Frame{
		Type:          wire.TypeHelloAck,
		NodeID:        m.selfNodeID,
		HeartbeatSecs: uint16(m.cfg.HeartbeatInterval / time.Second),
	}
	enc, err := wire.Encode(ack)
	if err != nil {
		_ = t.Close()
		return err
	}
	if _, err := t.Write(enc); err != nil {
		_ = t.Close()
		return err
	}

	s := newSession(f.NodeID, p.Endpoint, p.AuthToken, t, m.cfg, m.onInbound, m.onSessionClosed)
	s.setState(StateOpen)
	m.installSession(s)
	go s.run()
	return nil
}

// installSession registers s as the live session for its peer, closing any
// prior session for the same peerId (§3: "a second successful handshake
// displaces the first").
func (m *Manager) installSession(s *Session) {
	m.mu.Lock()
	prior, hadPrior := m.sessions[s.PeerID]
	m.sessions[s.PeerID] = s
	m.mu.Unlock()
	if hadPrior {
		prior.Close(errDisplaced)
	}
}

func (m *Manager) onSessionClosed(peerID string, reason error) {
	m.mu.Lock()
	if m.sessions[peerID] != nil && reason != errDisplaced {
		delete(m.sessions, peerID)
	}
	p, known := m.peers[peerID]
	stopping := m.stopping
	m.mu.Unlock()
	if known && !stopping {
		go m.dialWithBackoff(context.Background(), p)
	}
}

// readOneFrame blocks until one complete frame has been read from t.
func readOneFrame(t Transport) (wire.Frame, error) {
	buf := make([]byte, 0, 512)
	tmp := make([]byte, 512)
	for {
		f, consumed, err := wire.Decode(buf)
		if err != nil {
			return wire.Frame{}, err
		}
		if consumed > 0 {
			return f, nil
		}
		n, err := t.Read(tmp)
		if err != nil {
			return wire.Frame{}, err
		}
		buf = append(buf, tmp[:n]...)
	}
}
