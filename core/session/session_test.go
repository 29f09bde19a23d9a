package session

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/agent-fabric/connector/core/wire"
)

// pipeDialer hands back one side of a net.Pipe per endpoint, with the other
// side driven by the test as a fake peer — grounded on the teacher's
// connection_pool_test.go real-socket style, using net.Pipe in place of TCP
// since a session runs over an abstract Transport rather than a raw net.Conn.
type pipeDialer struct {
	conn net.Conn
}

func (d *pipeDialer) Dial(ctx context.Context, endpoint string) (Transport, error) {
	return d.conn, nil
}

func TestHandshakeSucceedsWithValidToken(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer serverSide.Close()

	cfg := Config{HeartbeatInterval: 50 * time.Millisecond, Qmax: 8}
	received := make(chan wire.Frame, 4)
	mgr := NewManager("self", cfg, &pipeDialer{conn: clientSide}, []PeerConfig{
		{NodeID: "peerA", Endpoint: "peerA-endpoint", AuthToken: "shared-secret"},
	}, func(peerID string, f wire.Frame) { received <- f })
	defer mgr.Stop()

	go mgr.dialWithBackoff(context.Background(), PeerConfig{NodeID: "peerA", Endpoint: "peerA-endpoint", AuthToken: "shared-secret"})

	// Act as the remote peer: read Hello, send HelloAck.
	hello, err := readOneFrame(serverSide)
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != wire.TypeHello || hello.AuthToken != "shared-secret" {
		t.Fatalf("unexpected hello: %+v", hello)
	}
	ack, err := wire.Encode(wire.Frame{Type: wire.TypeHelloAck, NodeID: "peerA", HeartbeatSecs: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := serverSide.Write(ack); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(time.Second)
	for {
		s, ok := mgr.Session("peerA")
		if ok && s.State() == StateOpen {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("session never reached open state")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestManagerAcceptInboundRejectsBadToken(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()

	cfg := Config{HeartbeatInterval: time.Second, Qmax: 8}
	mgr := NewManager("self", cfg, &pipeDialer{}, []PeerConfig{
		{NodeID: "peerA", Endpoint: "peerA-endpoint", AuthToken: "correct-token"},
	}, nil)

	go func() {
		enc, _ := wire.Encode(wire.Frame{Type: wire.TypeHello, NodeID: "peerA", AuthToken: "wrong-token", HeartbeatSecs: 1})
		_, _ = clientSide.Write(enc)
	}()

	err := mgr.AcceptInbound(serverSide)
	if !errors.Is(err, errAuthFailed) {
		t.Fatalf("want errAuthFailed, got %v", err)
	}
	if _, ok := mgr.Session("peerA"); ok {
		t.Fatalf("expected no session to be installed after auth failure")
	}
}

func TestSendBackpressure(t *testing.T) {
	_, serverSide := net.Pipe()
	cfg := Config{HeartbeatInterval: time.Hour, Qmax: 2}
	s := newSession("peerA", "endpoint", "tok", serverSide, cfg, nil, nil)
	// No egressLoop is running to drain the queue, so Qmax sends succeed and
	// the next one reports backpressure.
	for i := 0; i < cfg.Qmax; i++ {
		if err := s.Send(wire.Frame{Type: wire.TypeHeartbeat}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := s.Send(wire.Frame{Type: wire.TypeHeartbeat}); err != ErrQueueFull {
		t.Fatalf("want ErrQueueFull once Qmax is reached, got %v", err)
	}
	s.Close(nil)
}

func TestSecondHandshakeDisplacesFirst(t *testing.T) {
	first, firstRemote := net.Pipe()
	second, secondRemote := net.Pipe()
	defer firstRemote.Close()
	defer secondRemote.Close()

	cfg := Config{HeartbeatInterval: time.Hour, Qmax: 8}
	mgr := NewManager("self", cfg, nil, []PeerConfig{
		{NodeID: "peerA", Endpoint: "e", AuthToken: "tok"},
	}, nil)

	s1 := newSession("peerA", "e", "tok", first, cfg, nil, mgr.onSessionClosed)
	s1.setState(StateOpen)
	mgr.installSession(s1)

	s2 := newSession("peerA", "e", "tok", second, cfg, nil, mgr.onSessionClosed)
	s2.setState(StateOpen)
	mgr.installSession(s2)

	if s1.State() != StateClosed {
		t.Fatalf("expected first session to be closed after displacement")
	}
	got, ok := mgr.Session("peerA")
	if !ok || got != s2 {
		t.Fatalf("expected the second session to be the live one")
	}
}

func TestLivenessDetectsStaleSession(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()

	closed := make(chan error, 1)
	cfg := Config{HeartbeatInterval: 10 * time.Millisecond, Qmax: 8}
	s := newSession("peerA", "e", "tok", serverSide, cfg, nil, func(_ string, reason error) { closed <- reason })
	go s.livenessLoop()

	select {
	case err := <-closed:
		if err == nil {
			t.Fatalf("expected a stale-session error")
		}
	case <-time.After(time.Second):
		t.Fatalf("liveness monitor never declared the session stale")
	}
}
