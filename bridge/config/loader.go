// Package config loads the bridge configuration from a TOML file or BRIDGE_* environment
// variables, and the optional coin registry that maps aggregator tokens to Move coin types.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const envPrefix = "BRIDGE"

var defaults = map[string]any{
	"log_level":                     "info",
	"stargate.base_url":             "https://stargate.finance/api/v1",
	"stargate.timeout":              10 * time.Second,
	"stargate.requests_per_second":  5.0,
	"stargate.burst":                5,
	"registry.ttl":                  60 * time.Second,
	"registry.coin_registry_source": "",
	"aptos.node_url":                "https://fullnode.mainnet.aptoslabs.com/v1",
	"aptos.timeout":                 10 * time.Second,
	"aptos.tx_expiration":           60 * time.Second,
	"aptos.finality_timeout":        2 * time.Minute,
	"aptos.poll_interval":           time.Second,
	"aptos.registration_max_gas":    2000,
	"aptos.registration_gas_price":  100,
	"ops.host":                      "0.0.0.0",
	"ops.port":                      9090,
	"ops.rate_per_minute":           0,
	"telemetry.service_name":        "spectra-aptos-bridge",
	"telemetry.service_version":     "1.0.0",
	"telemetry.environment":         "production",
	"telemetry.enable_tracing":      false,
	"telemetry.use_otlp_traces":     false,
	"telemetry.otlp_traces_url":     "localhost:4318",
	"telemetry.enable_metrics":      true,
	"telemetry.use_prometheus":      true,
	"telemetry.use_otlp_metrics":    false,
	"telemetry.otlp_metrics_url":    "localhost:4318",
	"telemetry.enable_logs":         false,
	"telemetry.use_otlp_logs":       false,
	"telemetry.otlp_logs_url":       "localhost:4318",
	"telemetry.insecure_otlp":       false,
	"telemetry.development_mode":    false,
}

// LoadConfig loads the bridge config from the given path, or from the environment when the
// path is nil.
func LoadConfig(configPath *string) (*BridgeConfig, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if configPath == nil {
		config, err := loadEnv(v)
		if err != nil {
			return nil, fmt.Errorf("failed to load env config: %w", err)
		}
		return config, nil
	}

	config, err := loadFile(v, *configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load file config: %w", err)
	}
	return config, nil
}

func loadEnv(v *viper.Viper) (*BridgeConfig, error) {
	// a missing .env is fine, the variables may come from docker or systemd
	_ = godotenv.Load()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	return decode(v)
}

// bindEnvKeys binds every known key so Unmarshal sees env values without a config file.
func bindEnvKeys(v *viper.Viper) {
	for k := range defaults {
		_ = v.BindEnv(k)
	}
}

func loadFile(v *viper.Viper, configPath string) (*BridgeConfig, error) {
	if !strings.HasSuffix(configPath, ".toml") {
		return nil, fmt.Errorf("config file must be a toml file")
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*BridgeConfig, error) {
	var config BridgeConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := verifyConfig(&config); err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}
	return &config, nil
}

func verifyConfig(config *BridgeConfig) error {
	if _, err := zerolog.ParseLevel(config.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q", config.LogLevel)
	}

	if config.Stargate.BaseURL == "" {
		return fmt.Errorf("stargate.base_url is required")
	}
	if _, err := url.ParseRequestURI(config.Stargate.BaseURL); err != nil {
		return fmt.Errorf("stargate.base_url is invalid: %w", err)
	}
	if config.Stargate.Timeout <= 0 {
		return fmt.Errorf("stargate.timeout must be positive")
	}
	if config.Stargate.RequestsPerSecond < 0 {
		return fmt.Errorf("stargate.requests_per_second must not be negative")
	}

	if config.Registry.TTL <= 0 {
		return fmt.Errorf("registry.ttl must be positive")
	}

	if config.Aptos.NodeURL == "" {
		return fmt.Errorf("aptos.node_url is required")
	}
	if _, err := url.ParseRequestURI(config.Aptos.NodeURL); err != nil {
		return fmt.Errorf("aptos.node_url is invalid: %w", err)
	}
	for name, d := range map[string]time.Duration{
		"aptos.timeout":          config.Aptos.Timeout,
		"aptos.tx_expiration":    config.Aptos.TxExpiration,
		"aptos.finality_timeout": config.Aptos.FinalityTimeout,
		"aptos.poll_interval":    config.Aptos.PollInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if config.Ops.Port <= 0 || config.Ops.Port > 65535 {
		return fmt.Errorf("ops.port must be between 1 and 65535")
	}
	if config.Ops.RatePerMinute < 0 {
		return fmt.Errorf("ops.rate_per_minute must not be negative")
	}

	return nil
}
