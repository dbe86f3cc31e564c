package config

import "time"

// BridgeConfig is the runtime configuration of the bridge CLI and ops server.
type BridgeConfig struct {
	LogLevel string `mapstructure:"log_level" toml:"log_level"`

	Stargate  StargateConfig  `mapstructure:"stargate" toml:"stargate"`
	Registry  RegistryConfig  `mapstructure:"registry" toml:"registry"`
	Aptos     AptosConfig     `mapstructure:"aptos" toml:"aptos"`
	Ops       OpsConfig       `mapstructure:"ops" toml:"ops"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" toml:"telemetry"`
}

// StargateConfig configures the aggregator client
type StargateConfig struct {
	BaseURL           string        `mapstructure:"base_url" toml:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout" toml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" toml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" toml:"burst"`
}

// RegistryConfig configures the chain/token cache and the coin type mapping
type RegistryConfig struct {
	TTL time.Duration `mapstructure:"ttl" toml:"ttl"`
	// go-getter source of the coin registry TOML, empty disables it
	CoinRegistrySource string `mapstructure:"coin_registry_source" toml:"coin_registry_source"`
}

// AptosConfig configures the node client and the registration gas budget
type AptosConfig struct {
	NodeURL              string        `mapstructure:"node_url" toml:"node_url"`
	Timeout              time.Duration `mapstructure:"timeout" toml:"timeout"`
	TxExpiration         time.Duration `mapstructure:"tx_expiration" toml:"tx_expiration"`
	FinalityTimeout      time.Duration `mapstructure:"finality_timeout" toml:"finality_timeout"`
	PollInterval         time.Duration `mapstructure:"poll_interval" toml:"poll_interval"`
	RegistrationMaxGas   uint64        `mapstructure:"registration_max_gas" toml:"registration_max_gas"`
	RegistrationGasPrice uint64        `mapstructure:"registration_gas_price" toml:"registration_gas_price"`
}

// OpsConfig configures the health and metrics server
type OpsConfig struct {
	Host          string `mapstructure:"host" toml:"host"`
	Port          int    `mapstructure:"port" toml:"port"`
	RatePerMinute int    `mapstructure:"rate_per_minute" toml:"rate_per_minute"` // 0 disables the limit
}

// TelemetryConfig mirrors the OpenTelemetry switches
type TelemetryConfig struct {
	ServiceName    string `mapstructure:"service_name" toml:"service_name"`
	ServiceVersion string `mapstructure:"service_version" toml:"service_version"`
	Environment    string `mapstructure:"environment" toml:"environment"` // PROD, DEV, TEST, LOCAL
	EnableTracing  bool   `mapstructure:"enable_tracing" toml:"enable_tracing"`
	UseOTLPTraces  bool   `mapstructure:"use_otlp_traces" toml:"use_otlp_traces"`
	OTLPTracesURL  string `mapstructure:"otlp_traces_url" toml:"otlp_traces_url"`
	EnableMetrics  bool   `mapstructure:"enable_metrics" toml:"enable_metrics"`
	UsePrometheus  bool   `mapstructure:"use_prometheus" toml:"use_prometheus"`
	UseOTLPMetrics bool   `mapstructure:"use_otlp_metrics" toml:"use_otlp_metrics"`
	OTLPMetricsURL string `mapstructure:"otlp_metrics_url" toml:"otlp_metrics_url"`
	EnableLogs     bool   `mapstructure:"enable_logs" toml:"enable_logs"`
	UseOTLPLogs    bool   `mapstructure:"use_otlp_logs" toml:"use_otlp_logs"`
	OTLPLogsURL    string `mapstructure:"otlp_logs_url" toml:"otlp_logs_url"`

	InsecureOTLP bool `mapstructure:"insecure_otlp" toml:"insecure_otlp"`

	// Development mode uses stdout exporters
	DevelopmentMode bool `mapstructure:"development_mode" toml:"development_mode"`
}
