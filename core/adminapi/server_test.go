package adminapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeHealth struct {
	h     Health
	ready bool
}

func (f fakeHealth) Health() Health { return f.h }
func (f fakeHealth) Ready() bool    { return f.ready }

type fakePeers struct{ peers []PeerSummary }

func (f fakePeers) Peers() []PeerSummary { return f.peers }

type fakeRoutes struct{ routes []RouteInfo }

func (f fakeRoutes) Routes() []RouteInfo { return f.routes }

type fakeChannels struct{ info ChannelInfo }

func (f fakeChannels) Channel(peerID, chainTag string) (ChannelInfo, bool) {
	if peerID == "bob" && chainTag == "eth" {
		return f.info, true
	}
	return ChannelInfo{}, false
}

func newTestServer(t *testing.T, cfg Config, healthy bool) *Server {
	t.Helper()
	h := fakeHealth{h: Health{Status: "healthy", NodeID: "alice", Version: "test"}, ready: true}
	if !healthy {
		h.h.Status = "unhealthy"
	}
	srv, err := New(cfg, h, fakePeers{peers: []PeerSummary{{NodeID: "bob", State: "open"}}},
		fakeRoutes{routes: []RouteInfo{{Prefix: "g.agent.bob", NextHop: "bob", Priority: 1}}},
		fakeChannels{info: ChannelInfo{Deposit: "1000", Nonce: 3}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func TestHealthEndpointStatusCodes(t *testing.T) {
	srv := newTestServer(t, Config{}, true)
	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for healthy, got %d", rec.Code)
	}

	srv = newTestServer(t, Config{}, false)
	rec = httptest.NewRecorder()
	srv.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for unhealthy, got %d", rec.Code)
	}
}

func TestReadyEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{}, true)
	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAdminRoutesDisabledWithoutAuthConfig(t *testing.T) {
	srv := newTestServer(t, Config{}, true)
	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/peers", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when admin surface is unconfigured, got %d", rec.Code)
	}
}

func TestAdminRoutesRequireAPIKey(t *testing.T) {
	srv := newTestServer(t, Config{APIKey: "secret"}, true)

	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/peers", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without key, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/peers", nil)
	req.Header.Set("X-Api-Key", "secret")
	rec = httptest.NewRecorder()
	srv.router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct key, got %d", rec.Code)
	}
}

func TestAdminRoutesIPAllowlist(t *testing.T) {
	srv := newTestServer(t, Config{AllowedIPs: []string{"10.0.0.0/8"}}, true)

	req := httptest.NewRequest(http.MethodGet, "/admin/routes", nil)
	req.RemoteAddr = "192.168.1.5:1234"
	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-allowlisted IP, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/routes", nil)
	req.RemoteAddr = "10.1.2.3:1234"
	rec = httptest.NewRecorder()
	srv.router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for allowlisted IP, got %d", rec.Code)
	}
}

func TestAdminRoutesTrustProxyHeader(t *testing.T) {
	srv := newTestServer(t, Config{AllowedIPs: []string{"10.0.0.0/8"}, TrustProxy: true}, true)

	req := httptest.NewRequest(http.MethodGet, "/admin/routes", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	req.Header.Set("X-Forwarded-For", "10.5.5.5, 203.0.113.9")
	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when trusted forwarded-for IP is allowlisted, got %d", rec.Code)
	}
}

func TestChannelLookupNotFound(t *testing.T) {
	srv := newTestServer(t, Config{APIKey: "k"}, true)
	req := httptest.NewRequest(http.MethodGet, "/admin/channels/carol/eth", nil)
	req.Header.Set("X-Api-Key", "k")
	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown channel, got %d", rec.Code)
	}
}

func TestChannelLookupFound(t *testing.T) {
	srv := newTestServer(t, Config{APIKey: "k"}, true)
	req := httptest.NewRequest(http.MethodGet, "/admin/channels/bob/eth", nil)
	req.Header.Set("X-Api-Key", "k")
	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
