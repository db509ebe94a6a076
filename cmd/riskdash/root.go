package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"riskdash/config"
	"riskdash/internal/channel/redischan"
	"riskdash/internal/channel/wschan"
	"riskdash/internal/engine"
	"riskdash/internal/logger"
	"riskdash/internal/metrics"
	"riskdash/internal/rules"
)

const defaultConfigName = "riskdash.yml"

var cfgFile string

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "riskdash",
		Short: "Real-time ingestion and derived state for the anomaly-detection dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	root.AddCommand(
		newServeCmd(),
		newTailCmd(),
		newReplayCmd(),
		newBatchCmd(),
	)
	return root
}

func findConfigFile(configArg string) string {
	if configArg != "" {
		if _, err := os.Stat(configArg); err == nil {
			return configArg
		}
		log.Printf("Warning: config file not found at %s, trying default locations", configArg)
	}

	if _, err := os.Stat(defaultConfigName); err == nil {
		return defaultConfigName
	}

	exePath, err := os.Executable()
	if err == nil {
		path := filepath.Join(filepath.Dir(exePath), defaultConfigName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadConfig resolves, loads and validates the configuration. A missing file
// yields the defaults.
func loadConfig() (*config.Config, string, error) {
	path := findConfigFile(cfgFile)
	cfg := &config.Config{}
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, path, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = loaded
	}
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, path, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, path, nil
}

// setup loads the config and initializes logging. Failures are fatal.
func setup() *config.Config {
	cfg, path, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	lc := cfg.Riskdash.Logging
	if err := logger.Init(logger.Options{
		Enabled: lc.Enabled,
		Level:   lc.Level,
		File:    lc.File,
		Console: lc.Console,
		Format:  lc.Format,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	if path != "" {
		logger.Infof("Config loaded from: %s", path)
	} else {
		logger.Infof("No config file found, using defaults")
	}
	return cfg
}

// transport is a push channel that needs a read loop.
type transport interface {
	engine.Channel
	Run(ctx context.Context) error
}

func newTransport(cfg config.ChannelConfig) (transport, func() error, error) {
	switch cfg.Mode {
	case config.ChannelWebsocket:
		ch, err := wschan.New(wschan.Config{
			URL:            cfg.Websocket.URL,
			ReconnectDelay: cfg.Websocket.ReconnectDelay,
		})
		if err != nil {
			return nil, nil, err
		}
		return ch, func() error { return nil }, nil
	default:
		ch, err := redischan.New(redischan.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			InboundKey:   cfg.Redis.InboundKey,
			OutboundKey:  cfg.Redis.OutboundKey,
			BlockTimeout: cfg.Redis.BlockTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return ch, ch.Close, nil
	}
}

func newTagger(cfg config.RulesConfig) (rules.Tagger, error) {
	if !cfg.Enabled {
		return rules.NoopTagger{}, nil
	}
	tagger, stats, err := rules.LoadSigma(cfg.Path)
	if err != nil {
		return nil, err
	}
	logger.Infof("Sigma rules loaded: %d of %d files (skipped source=%d complex=%d invalid=%d)",
		stats.Loaded, stats.TotalFiles, stats.SkippedSource, stats.SkippedComplex, stats.SkippedInvalid)
	return tagger, nil
}

func newSession(cfg *config.Config, ch engine.Channel, m *metrics.Metrics) (*engine.Session, error) {
	tagger, err := newTagger(cfg.Riskdash.Rules)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	ec := cfg.Riskdash.Engine
	return engine.New(engine.Config{
		RecencyTTL:        ec.RecencyTTL,
		HighRiskThreshold: ec.HighRiskThreshold,
		InboxSize:         ec.InboxSize,
	}, ch, engine.WithTagger(tagger), engine.WithMetrics(m)), nil
}
