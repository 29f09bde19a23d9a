// Package config loads and validates NodeConfig (§3): a YAML base file merged
// with an environment overlay and environment-variable overrides, the way
// pkg/config.Load and walletserver/config.Load do in the teacher.
package config

// PeerConfig is one entry of NodeConfig.peers[] (§3). Deposit is an ADDED
// field: §6.5's currentChannelState read from the live chain is out of scope
// (same as claim submission itself), so the channel deposit cap this node
// enforces locally is configured rather than queried.
type PeerConfig struct {
	NodeID    string `mapstructure:"nodeId"`
	Endpoint  string `mapstructure:"endpoint"`
	AuthToken string `mapstructure:"authToken"`
	Deposit   string `mapstructure:"deposit"` // decimal string, defaults to "0"
}

// RouteConfig is one entry of NodeConfig.routes[] (§3).
type RouteConfig struct {
	Prefix   string `mapstructure:"prefix"`
	NextHop  string `mapstructure:"nextHop"`
	Priority int    `mapstructure:"priority"`
}

// AdminAPIConfig is NodeConfig.adminApi (§3, §6.3).
type AdminAPIConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Addr       string   `mapstructure:"addr"`
	APIKey     string   `mapstructure:"apiKey"`
	AllowedIPs []string `mapstructure:"allowedIPs"`
	TrustProxy bool     `mapstructure:"trustProxy"`
}

// SettlementConfig is NodeConfig.settlement (§3, §4.6).
type SettlementConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	ThresholdAmount   string `mapstructure:"threshold"` // decimal string, parsed into *big.Int by the ledger wiring
	PollingIntervalMs int    `mapstructure:"pollingIntervalMs"`
	TimeoutSecs       int    `mapstructure:"timeoutSecs"`
}

// SettlementInfraConfig is NodeConfig.settlementInfra (§3): per-node chain
// linkage for claim submission.
type SettlementInfraConfig struct {
	ChainTag        string `mapstructure:"chainTag"`
	ChainID         int64  `mapstructure:"chainId"`
	PrivateKey      string `mapstructure:"privateKey"`
	RPCUrl          string `mapstructure:"rpcUrl"`
	RegistryAddress string `mapstructure:"registryAddress"`
	TokenAddress    string `mapstructure:"tokenAddress"`
}

// LocalDeliveryConfig gates the §6.4 HTTP local-payload-handler path
// (ADDED: spec.md §6.6 references "HTTP local-delivery path" and
// "handlerUrl" without naming the enclosing struct; this groups them).
type LocalDeliveryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	HandlerURL  string `mapstructure:"handlerUrl"`
	TimeoutSecs int    `mapstructure:"timeoutSecs"`
}

// NodeConfig is the full configuration surface of §3.
type NodeConfig struct {
	NodeID         string `mapstructure:"nodeId"`
	ListenPort     int    `mapstructure:"listenPort"`
	HealthPort     int    `mapstructure:"healthPort"`
	Environment    string `mapstructure:"environment"`    // dev | staging | prod
	DeploymentMode string `mapstructure:"deploymentMode"` // embedded | standalone
	DataDir        string `mapstructure:"dataDir"`        // ADDED: ledger WAL/snapshot directory; empty disables persistence
	DrainTimeoutMs int    `mapstructure:"drainTimeoutMs"` // §4.8 shutdown drain budget

	Peers  []PeerConfig  `mapstructure:"peers"`
	Routes []RouteConfig `mapstructure:"routes"`

	AdminAPI        AdminAPIConfig        `mapstructure:"adminApi"`
	Settlement      SettlementConfig      `mapstructure:"settlement"`
	SettlementInfra SettlementInfraConfig `mapstructure:"settlementInfra"`
	LocalDelivery   LocalDeliveryConfig   `mapstructure:"localDelivery"`
}
