// Package adminapi implements the §6.3 Health & Admin Surface: a small HTTP
// server exposing liveness/readiness for orchestration and optional,
// authenticated operator endpoints.
//
// Grounded on the teacher's core/system_health_logging.go
// (StartMetricsServer/ShutdownMetricsServer: a goroutine-run *http.Server,
// errors.Is(err, http.ErrServerClosed) on shutdown, Shutdown(ctx) for
// graceful stop) adapted from a Prometheus mux to a chi router serving JSON.
package adminapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/agent-fabric/connector/core/log"
	"github.com/go-chi/chi/v5"
)

var alog = log.For("adminapi")

// Health is the §6.3 GET /health payload.
type Health struct {
	Status         string        `json:"status"`
	Uptime         time.Duration `json:"uptime"`
	PeersConnected int           `json:"peersConnected"`
	TotalPeers     int           `json:"totalPeers"`
	NodeID         string        `json:"nodeId"`
	Version        string        `json:"version"`
}

// HealthProvider reports the orchestrator's current health snapshot (§4.8).
// *node.Orchestrator satisfies it.
type HealthProvider interface {
	Health() Health
	Ready() bool
}

// PeerSummary is one row of GET /admin/peers.
type PeerSummary struct {
	NodeID   string    `json:"nodeId"`
	Endpoint string    `json:"endpoint"`
	State    string    `json:"state"`
	LastRxAt time.Time `json:"lastRxAt"`
	LastTxAt time.Time `json:"lastTxAt"`
}

// PeerLister backs GET /admin/peers. *session.Manager satisfies it via a thin
// type-converting wrapper in core/node.
type PeerLister interface {
	Peers() []PeerSummary
}

// RouteInfo is one row of GET /admin/routes.
type RouteInfo struct {
	Prefix   string `json:"prefix"`
	NextHop  string `json:"nextHop"`
	Priority int    `json:"priority"`
}

// RouteLister backs GET /admin/routes. *routing.Table satisfies it via a thin
// wrapper in core/node.
type RouteLister interface {
	Routes() []RouteInfo
}

// ChannelInfo is the GET /admin/channels/{peerId}/{chainTag} payload.
type ChannelInfo struct {
	Deposit              string `json:"deposit"`
	OwedToPeer           string `json:"owedToPeer"`
	OwedFromPeer         string `json:"owedFromPeer"`
	Nonce                uint64 `json:"nonce"`
	HighestReceivedNonce uint64 `json:"highestReceivedNonce"`
	SettlementPending    bool   `json:"settlementPending"`
}

// ChannelLookup backs GET /admin/channels/{peerId}/{chainTag}.
type ChannelLookup interface {
	Channel(peerID, chainTag string) (ChannelInfo, bool)
}

// Config is the §6.3/§6.6 admin-surface configuration. AllowedIPs entries
// have already been validated as IPv4/IPv6 addresses or CIDRs by
// internal/config before reaching here.
type Config struct {
	Addr       string
	APIKey     string
	AllowedIPs []string
	TrustProxy bool
}

// Server is the §6.3 HTTP surface.
type Server struct {
	cfg     Config
	health  HealthProvider
	peers   PeerLister
	routes  RouteLister
	chans   ChannelLookup
	nets    []*net.IPNet
	ips     map[string]struct{}
	httpSrv *http.Server
}

// New builds a Server. peers, routes, and chans may be nil, disabling the
// admin endpoints that depend on them (they still 404, matching an unset
// optional feature rather than a misconfiguration).
func New(cfg Config, health HealthProvider, peers PeerLister, routes RouteLister, chans ChannelLookup) (*Server, error) {
	s := &Server{cfg: cfg, health: health, peers: peers, routes: routes, chans: chans, ips: make(map[string]struct{})}
	for _, entry := range cfg.AllowedIPs {
		if strings.Contains(entry, "/") {
			_, ipnet, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, err
			}
			s.nets = append(s.nets, ipnet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, errors.New("adminapi: invalid allowlist entry " + entry)
		}
		s.ips[ip.String()] = struct{}{}
	}
	s.httpSrv = &http.Server{Addr: cfg.Addr, Handler: s.router()}
	return s, nil
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	if s.cfg.APIKey != "" || len(s.cfg.AllowedIPs) > 0 {
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.authenticate)
			r.Get("/peers", s.handlePeers)
			r.Get("/routes", s.handleRoutes)
			r.Get("/channels/{peerId}/{chainTag}", s.handleChannel)
		})
	}
	return r
}

// Start runs the server in the background, returning once it is listening
// or fails to bind.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			alog.WithField("error", err).Error("admin server stopped unexpectedly")
		}
	}()
	alog.WithField("addr", ln.Addr().String()).Info("admin api listening")
	return nil
}

// Shutdown gracefully stops the server (§4.8 shutdown sequencing).
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.health.Health()
	status := http.StatusOK
	if h.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Ready bool `json:"ready"`
	}{Ready: s.health.Ready()})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if s.peers == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.peers.Peers())
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if s.routes == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.routes.Routes())
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	if s.chans == nil {
		http.NotFound(w, r)
		return
	}
	peerID := chi.URLParam(r, "peerId")
	chainTag := chi.URLParam(r, "chainTag")
	info, ok := s.chans.Channel(peerID, chainTag)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// authenticate enforces §6.3: an X-Api-Key header compared in constant time,
// and/or an IP allowlist. Either check passing admits the request.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && constantTimeEqual(r.Header.Get("X-Api-Key"), s.cfg.APIKey) {
			next.ServeHTTP(w, r)
			return
		}
		if len(s.cfg.AllowedIPs) > 0 && s.clientIPAllowed(r) {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "forbidden", http.StatusForbidden)
	})
}

func (s *Server) clientIPAllowed(r *http.Request) bool {
	ip := net.ParseIP(s.clientIP(r))
	if ip == nil {
		return false
	}
	if _, ok := s.ips[ip.String()]; ok {
		return true
	}
	for _, n := range s.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	if s.cfg.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first := strings.TrimSpace(strings.Split(fwd, ",")[0])
			if first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
