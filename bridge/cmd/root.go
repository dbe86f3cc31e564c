package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/config"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/ops"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/pipeline"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/telemetry"
)

var (
	log        zerolog.Logger
	configPath string
	cfg        *config.BridgeConfig
	shutdown   func(context.Context) error
)

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Logger()
}

var rootCmd = &cobra.Command{
	Use:           "aptos-bridge",
	Short:         "Quote and execute Stargate bridge transfers out of Aptos",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var path *string
		if configPath != "" {
			path = &configPath
		}
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded

		level, _ := zerolog.ParseLevel(cfg.LogLevel)
		zerolog.SetGlobalLevel(level)

		otelConfig := buildOTelConfig(cfg.Telemetry)
		if otelConfig.Enabled() {
			fn, err := telemetry.NewOTelSDK(cmd.Context(), otelConfig)
			if err != nil {
				// keep running without telemetry
				log.Error().Err(err).Msg("failed to initialize OpenTelemetry")
			} else {
				shutdown = fn
			}
		}

		pipelineLog := log
		if otelConfig.EnableLogs && shutdown != nil {
			pipelineLog = log.Hook(telemetry.NewLogHook("pipeline"))
		}
		pipeline.SetLogger(pipelineLog)
		ops.SetLogger(log)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdown == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return shutdown(ctx)
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a .toml config file; BRIDGE_* env vars are used when empty")

	rootCmd.AddCommand(chainsCmd)
	rootCmd.AddCommand(tokensCmd)
	rootCmd.AddCommand(quoteCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(serveCmd)
}

func buildOTelConfig(t config.TelemetryConfig) *telemetry.OTelConfig {
	return &telemetry.OTelConfig{
		ServiceName:     t.ServiceName,
		ServiceVersion:  t.ServiceVersion,
		Environment:     t.Environment,
		EnableTracing:   t.EnableTracing,
		UseOTLPTraces:   t.UseOTLPTraces,
		OTLPTracesURL:   t.OTLPTracesURL,
		EnableMetrics:   t.EnableMetrics,
		UsePrometheus:   t.UsePrometheus,
		UseOTLPMetrics:  t.UseOTLPMetrics,
		OTLPMetricsURL:  t.OTLPMetricsURL,
		EnableLogs:      t.EnableLogs,
		UseOTLPLogs:     t.UseOTLPLogs,
		OTLPLogsURL:     t.OTLPLogsURL,
		InsecureOTLP:    t.InsecureOTLP,
		DevelopmentMode: t.DevelopmentMode,
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
