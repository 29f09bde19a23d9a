package session

import (
	"context"
	"fmt"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// ProtocolID is the libp2p stream protocol this fabric's peer sessions speak
// (§4.3/§6.1 framing carried directly over a libp2p stream, no additional
// multiplexing).
const ProtocolID protocol.ID = "/agent-fabric/session/1.0.0"

// Libp2pDialer opens session transports as libp2p streams, grounded on
// core/peer_management.go's SendAsync (peer.Decode + host.NewStream(ctx, pid,
// protocol.ID(proto))).
type Libp2pDialer struct {
	Host        host.Host
	DialTimeout time.Duration
}

// Dial decodes endpoint as a libp2p peer ID and opens a ProtocolID stream to
// it. The caller is expected to have already connected the host to the
// peer's multiaddr (via discovery or a bootstrap dial), matching
// core/network.go's DialSeed/mDNS flow.
func (d *Libp2pDialer) Dial(ctx context.Context, endpoint string) (Transport, error) {
	pid, err := peer.Decode(endpoint)
	if err != nil {
		return nil, fmt.Errorf("session: invalid peer endpoint %q: %w", endpoint, err)
	}
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	s, err := d.Host.NewStream(dctx, pid, ProtocolID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewLibp2pHost creates a libp2p host listening on listenAddr, the same
// construction core/network.go's NewNode uses (libp2p.New +
// libp2p.ListenAddrStrings), without the NAT/mDNS/pubsub bootstrapping that
// subsystem also does — this fabric only needs a bare host for direct
// session streams.
func NewLibp2pHost(listenAddr string) (host.Host, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, fmt.Errorf("session: create libp2p host: %w", err)
	}
	return h, nil
}

// RegisterInboundHandler wires m.AcceptInbound as the stream handler for
// ProtocolID, the responder side of the §4.3 handshake for every inbound
// stream the host accepts.
func RegisterInboundHandler(h host.Host, m *Manager) {
	h.SetStreamHandler(ProtocolID, func(s network.Stream) {
		if err := m.AcceptInbound(s); err != nil {
			_ = s.Reset()
		}
	})
}
