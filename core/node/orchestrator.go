// Package node implements the §4.8 Node Orchestrator: lifecycle, health
// state machine, and startup/shutdown sequencing, wiring every singleton
// (routing table, session manager, ledger, chain adapter registry, forwarder,
// admin API) together.
//
// Grounded on the teacher's core/network.go NewNode (libp2p host
// construction, parallel bootstrap dials tolerating individual failures) and
// core/system_health_logging.go (ticker-driven periodic snapshot of derived
// state, here the health state machine instead of Prometheus gauges).
package node

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agent-fabric/connector/core/adminapi"
	"github.com/agent-fabric/connector/core/chainadapter"
	"github.com/agent-fabric/connector/core/claims"
	"github.com/agent-fabric/connector/core/forwarder"
	"github.com/agent-fabric/connector/core/ledger"
	"github.com/agent-fabric/connector/core/localhandler"
	"github.com/agent-fabric/connector/core/log"
	"github.com/agent-fabric/connector/core/routing"
	"github.com/agent-fabric/connector/core/session"
	"github.com/agent-fabric/connector/core/wire"
	"github.com/agent-fabric/connector/internal/config"
	"github.com/agent-fabric/connector/internal/ilpaddr"
	"github.com/libp2p/go-libp2p/core/host"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

var nlog = log.For("node")

// State is the orchestrator's §4.8 health state.
type State int32

const (
	StateStarting State = iota
	StateHealthy
	StateUnhealthy
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateHealthy:
		return "healthy"
	case StateUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// version is the connector's own release version, reported on /health. Set
// at build time in a real release; "dev" otherwise.
var version = "dev"

// Orchestrator owns every process-wide singleton and the §4.8 health state
// machine.
type Orchestrator struct {
	cfg *config.NodeConfig

	routes     *routing.Table
	sessions   *session.Manager
	ledgerSt   *ledger.Store
	chLedger   *ledger.Ledger
	registry   *chainadapter.Registry
	fwd        *forwarder.Forwarder
	admin      *adminapi.Server
	host       host.Host
	advertiser *routing.Advertiser
	startedAt  time.Time

	state        int32 // atomic State
	healthTicker *time.Ticker
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// New constructs every component and wires them together. The libp2p host
// it creates listens for peer streams from construction on; dialing peers
// and serving the health/admin HTTP surface wait for Start (§4.8 "parse config;
// construct routing table; start peer listener; dial configured peers...").
// embeddedHandler is used verbatim as the local payload handler when
// cfg.DeploymentMode == "embedded" (the HTTP path is forbidden there by
// §6.6); it is ignored otherwise, where an HTTP localhandler.Client is built
// from cfg.LocalDelivery instead.
func New(cfg *config.NodeConfig, embeddedHandler forwarder.LocalHandler) (*Orchestrator, error) {
	o := &Orchestrator{cfg: cfg, stopCh: make(chan struct{})}

	o.routes = routing.New()
	for _, r := range cfg.Routes {
		if err := o.routes.Insert(r.Prefix, r.NextHop, r.Priority); err != nil {
			return nil, fmt.Errorf("node: insert route %q: %w", r.Prefix, err)
		}
	}

	h, err := session.NewLibp2pHost(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort))
	if err != nil {
		return nil, err
	}
	o.host = h

	peers := make([]session.PeerConfig, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peers = append(peers, session.PeerConfig{NodeID: p.NodeID, Endpoint: p.Endpoint, AuthToken: p.AuthToken})
	}
	o.sessions = session.NewManager(cfg.NodeID, session.Config{}, &session.Libp2pDialer{Host: h}, peers,
		func(peerID string, f wire.Frame) { o.fwd.Dispatch(peerID, f) })
	session.RegisterInboundHandler(h, o.sessions)

	if ps, err := pubsub.NewGossipSub(context.Background(), h); err != nil {
		nlog.WithField("error", err).Warn("route advertisement disabled: gossipsub join failed")
	} else if adv, err := routing.NewAdvertiser(context.Background(), ps, h.ID().String()); err != nil {
		nlog.WithField("error", err).Warn("route advertisement disabled: topic join failed")
	} else {
		o.advertiser = adv
	}

	if cfg.DataDir != "" {
		store, err := ledger.OpenStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		o.ledgerSt = store
	}

	o.registry, err = buildChainAdapters(cfg)
	if err != nil {
		return nil, err
	}

	threshold, _ := new(big.Int).SetString(cfg.Settlement.ThresholdAmount, 10)
	o.chLedger = ledger.New(ledger.Config{
		ThresholdAmount:   threshold,
		SettlementTimeout: time.Duration(cfg.Settlement.TimeoutSecs) * time.Second,
	}, o.registry.Resolve, o.ledgerSt)
	if err := o.chLedger.Restore(); err != nil {
		return nil, fmt.Errorf("node: ledger restore: %w", err)
	}

	if err := o.openPeerChannels(); err != nil {
		return nil, err
	}

	handler := embeddedHandler
	if cfg.DeploymentMode != "embedded" {
		handlerTimeout := time.Duration(cfg.LocalDelivery.TimeoutSecs) * time.Second
		handler = localhandler.NewClient(cfg.LocalDelivery.HandlerURL, handlerTimeout)
	}
	localPrefixes := make([]ilpaddr.Address, 0, 1)
	if cfg.NodeID != "" {
		if addr, err := ilpaddr.Parse(cfg.NodeID); err == nil {
			localPrefixes = append(localPrefixes, addr)
		}
	}
	o.fwd = forwarder.New(forwarder.Config{
		ChainTag:      cfg.SettlementInfra.ChainTag,
		LocalPrefixes: localPrefixes,
	}, o.routes, o.sessions, o.chLedger, handler, nil)

	if cfg.AdminAPI.Enabled {
		srv, err := adminapi.New(adminapi.Config{
			Addr:       fmt.Sprintf(":%d", cfg.HealthPort),
			APIKey:     cfg.AdminAPI.APIKey,
			AllowedIPs: cfg.AdminAPI.AllowedIPs,
			TrustProxy: cfg.AdminAPI.TrustProxy,
		}, o, peerListerOf(o.sessions), routeListerOf(o.routes), channelLookupOf(o.chLedger))
		if err != nil {
			return nil, err
		}
		o.admin = srv
	}

	return o, nil
}

// openPeerChannels registers each configured peer's channel with the ledger
// and installs its outgoing claim signer, grounded on §4.7's ownership rule
// (one Signer per (peerId, chainTag), exclusively owning the outgoing nonce).
func (o *Orchestrator) openPeerChannels() error {
	if o.cfg.SettlementInfra.PrivateKey == "" {
		return nil
	}
	priv, err := parsePrivateKey(o.cfg.SettlementInfra.PrivateKey)
	if err != nil {
		return fmt.Errorf("node: parse settlement private key: %w", err)
	}
	chainTag := o.cfg.SettlementInfra.ChainTag
	for _, p := range o.cfg.Peers {
		deposit := new(big.Int)
		if p.Deposit != "" {
			if _, ok := deposit.SetString(p.Deposit, 10); !ok {
				return fmt.Errorf("node: peer %s has invalid deposit %q", p.NodeID, p.Deposit)
			}
		}
		key := ledger.Key{PeerID: p.NodeID, ChainTag: chainTag}
		o.chLedger.OpenChannel(key, deposit)
		owner := channelOwner(o.cfg.NodeID, p.NodeID, chainTag)
		signer := claims.NewSigner(priv, chainTag, owner, 0)
		o.chLedger.RegisterSigner(key, signer)
	}
	return nil
}

func channelOwner(nodeID, peerID, chainTag string) [32]byte {
	return sha256.Sum256([]byte(nodeID + "/" + peerID + "/" + chainTag))
}

func parsePrivateKey(hexKey string) (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(trimHexPrefix(hexKey))
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("node: private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

func trimHexPrefix(s string) string {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func buildChainAdapters(cfg *config.NodeConfig) (*chainadapter.Registry, error) {
	tag := cfg.SettlementInfra.ChainTag
	if cfg.DeploymentMode == "embedded" || tag == "" {
		return chainadapter.NewRegistry(chainadapter.NewSimulatedAdapter(firstNonEmpty(tag, "SIMULATED"))), nil
	}
	switch tag {
	case "EVM":
		return chainadapter.NewRegistry(chainadapter.NewEVMAdapter(cfg.SettlementInfra.RPCUrl, cfg.SettlementInfra.RegistryAddress)), nil
	case "APTOS":
		return chainadapter.NewRegistry(chainadapter.NewAptosAdapter(cfg.SettlementInfra.RPCUrl, cfg.SettlementInfra.RegistryAddress)), nil
	default:
		return chainadapter.NewRegistry(chainadapter.NewSimulatedAdapter(tag)), nil
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// Start begins listening, dials every configured peer in parallel (§4.8:
// "each dial is independent, failures don't abort startup"), starts the
// admin/health surface, and marks the orchestrator ready.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.startedAt = time.Now()
	atomic.StoreInt32(&o.state, int32(StateStarting))

	o.sessions.Start(ctx)

	if o.advertiser != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.advertiser.Run(ctx, o.routes)
		}()
		for _, r := range o.cfg.Routes {
			if err := o.advertiser.Advertise(ctx, routing.RouteChange{Op: "insert", Prefix: r.Prefix, NextHop: r.NextHop, Priority: r.Priority}); err != nil {
				nlog.WithField("error", err).Warn("failed to advertise configured route")
			}
		}
	}

	if o.admin != nil {
		if err := o.admin.Start(); err != nil {
			return fmt.Errorf("node: start admin api: %w", err)
		}
	}

	o.healthTicker = time.NewTicker(2 * time.Second)
	o.wg.Add(1)
	go o.healthLoop()

	if every := time.Duration(o.cfg.Settlement.PollingIntervalMs) * time.Millisecond; every > 0 {
		snap := time.NewTicker(every)
		o.wg.Add(1)
		go func() {
			defer func() { snap.Stop(); o.wg.Done() }()
			for {
				select {
				case <-o.stopCh:
					return
				case <-snap.C:
					o.chLedger.PersistSnapshot()
				}
			}
		}()
	}

	o.recomputeHealth()
	nlog.WithField("nodeId", o.cfg.NodeID).Info("node started")
	return nil
}

func (o *Orchestrator) healthLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.stopCh:
			return
		case <-o.healthTicker.C:
			o.recomputeHealth()
		}
	}
}

// recomputeHealth applies the §4.8 transition table.
func (o *Orchestrator) recomputeHealth() {
	open, total := o.sessions.PeerCounts()
	healthyCondition := total == 0 || open*2 >= total
	cur := State(atomic.LoadInt32(&o.state))
	switch cur {
	case StateStarting:
		if healthyCondition {
			atomic.StoreInt32(&o.state, int32(StateHealthy))
		}
	case StateHealthy:
		if !healthyCondition {
			atomic.StoreInt32(&o.state, int32(StateUnhealthy))
		}
	case StateUnhealthy:
		if healthyCondition {
			atomic.StoreInt32(&o.state, int32(StateHealthy))
		}
	}
}

// Health implements adminapi.HealthProvider (§6.3).
func (o *Orchestrator) Health() adminapi.Health {
	open, total := o.sessions.PeerCounts()
	return adminapi.Health{
		Status:         State(atomic.LoadInt32(&o.state)).String(),
		Uptime:         time.Since(o.startedAt),
		PeersConnected: open,
		TotalPeers:     total,
		NodeID:         o.cfg.NodeID,
		Version:        version,
	}
}

// Ready implements adminapi.HealthProvider: the orchestrator has finished
// its startup sequence once it has started computing health at all (it may
// still be State starting while dials are outstanding).
func (o *Orchestrator) Ready() bool {
	return !o.startedAt.IsZero()
}

// Stop performs the §4.8 shutdown sequence: stop accepting new Prepares,
// drain in-flight ones up to drainTimeout, close sessions, flush the ledger
// snapshot, stop listeners. Any → starting on stop.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.fwd.StopAccepting()
	atomic.StoreInt32(&o.state, int32(StateStarting))

	drain := time.Duration(o.cfg.DrainTimeoutMs) * time.Millisecond
	if drain <= 0 {
		drain = 5 * time.Second
	}
	select {
	case <-time.After(drain):
	case <-ctx.Done():
	}

	o.sessions.Stop()
	o.chLedger.PersistSnapshot()

	if o.advertiser != nil {
		o.advertiser.Close()
	}

	if o.healthTicker != nil {
		o.healthTicker.Stop()
	}
	close(o.stopCh)
	o.wg.Wait()

	if o.admin != nil {
		if err := o.admin.Shutdown(ctx); err != nil {
			nlog.WithField("error", err).Warn("admin api shutdown error")
		}
	}
	if err := o.host.Close(); err != nil {
		nlog.WithField("error", err).Warn("libp2p host close error")
	}
	if err := o.ledgerSt.Close(); err != nil {
		nlog.WithField("error", err).Warn("ledger store close error")
	}
	nlog.WithField("nodeId", o.cfg.NodeID).Info("node stopped")
	return nil
}
