package config

import "testing"

func baseProdConfig() *NodeConfig {
	return &NodeConfig{
		NodeID:         "node-1",
		Environment:    "prod",
		DeploymentMode: "standalone",
		AdminAPI:       AdminAPIConfig{Enabled: true, APIKey: "k"},
		Settlement:     SettlementConfig{Enabled: true},
		SettlementInfra: SettlementInfraConfig{
			ChainTag:   "EVM",
			ChainID:    1,
			PrivateKey: "deadbeef",
			RPCUrl:     "https://mainnet.example.com",
		},
	}
}

func TestValidProdConfigPasses(t *testing.T) {
	res := Validate(baseProdConfig())
	if !res.OK() {
		t.Fatalf("expected no errors, got %+v", res.Errors)
	}
}

func TestProdRejectsNonMainnetChainID(t *testing.T) {
	cfg := baseProdConfig()
	cfg.SettlementInfra.ChainID = 5 // Goerli
	res := Validate(cfg)
	if res.OK() {
		t.Fatalf("expected chain id violation")
	}
}

func TestProdRejectsLoopbackRPC(t *testing.T) {
	cfg := baseProdConfig()
	cfg.SettlementInfra.RPCUrl = "https://127.0.0.1:8545"
	res := Validate(cfg)
	if res.OK() {
		t.Fatalf("expected loopback violation")
	}
}

func TestProdRejectsNonTLSRPC(t *testing.T) {
	cfg := baseProdConfig()
	cfg.SettlementInfra.RPCUrl = "http://mainnet.example.com"
	res := Validate(cfg)
	if res.OK() {
		t.Fatalf("expected TLS violation")
	}
}

func TestProdRejectsWeakPrivateKey(t *testing.T) {
	cfg := baseProdConfig()
	cfg.SettlementInfra.PrivateKey = "0101010101010101010101010101010101010101010101010101010101010101010101010101010101010101010101010101010101010101010101010101"
	res := Validate(cfg)
	if res.OK() {
		t.Fatalf("expected weak-key violation")
	}
}

func TestEmbeddedForbidsLocalDelivery(t *testing.T) {
	cfg := baseProdConfig()
	cfg.DeploymentMode = "embedded"
	cfg.LocalDelivery.Enabled = true
	res := Validate(cfg)
	if res.OK() {
		t.Fatalf("expected embedded+localDelivery violation")
	}
}

func TestStandaloneLocalDeliveryRequiresHandlerURL(t *testing.T) {
	cfg := baseProdConfig()
	cfg.LocalDelivery.Enabled = true
	res := Validate(cfg)
	if res.OK() {
		t.Fatalf("expected missing handlerUrl violation")
	}
	cfg.LocalDelivery.HandlerURL = "https://handler.internal/handle-payment"
	res = Validate(cfg)
	if !res.OK() {
		t.Fatalf("expected no errors once handlerUrl is set, got %+v", res.Errors)
	}
}

func TestProdAdminAPIRequiresKeyOrAllowlist(t *testing.T) {
	cfg := baseProdConfig()
	cfg.AdminAPI = AdminAPIConfig{Enabled: true}
	res := Validate(cfg)
	if res.OK() {
		t.Fatalf("expected admin api auth violation")
	}
	cfg.AdminAPI.AllowedIPs = []string{"10.0.0.0/8"}
	res = Validate(cfg)
	if !res.OK() {
		t.Fatalf("expected no errors once allowlist is set, got %+v", res.Errors)
	}
}

func TestAllowlistEntryValidation(t *testing.T) {
	cfg := baseProdConfig()
	cfg.AdminAPI.AllowedIPs = []string{"10.0.0.1", "10.0.0.0/8", "::1", "2001:db8::/32", "not-an-ip"}
	res := Validate(cfg)
	if len(res.Errors) != 1 {
		t.Fatalf("expected exactly one invalid-entry error, got %+v", res.Errors)
	}
}

func TestDevEnvironmentDowngradesToWarnings(t *testing.T) {
	cfg := baseProdConfig()
	cfg.Environment = "dev"
	cfg.SettlementInfra.ChainID = 5
	cfg.SettlementInfra.RPCUrl = "http://127.0.0.1:8545"
	res := Validate(cfg)
	if !res.OK() {
		t.Fatalf("expected dev violations to be warnings, not errors: %+v", res.Errors)
	}
	if len(res.Warnings) == 0 {
		t.Fatalf("expected warnings to be recorded in dev")
	}
}

func TestStagingIsHardenedLikeProd(t *testing.T) {
	cfg := baseProdConfig()
	cfg.Environment = "staging"
	cfg.SettlementInfra.ChainID = 5
	res := Validate(cfg)
	if res.OK() {
		t.Fatalf("expected staging to enforce the same hardening as prod")
	}
}
