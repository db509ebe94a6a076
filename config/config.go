package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Channel modes.
const (
	ChannelRedis     = "redis"
	ChannelWebsocket = "websocket"
)

// Config is the root configuration.
type Config struct {
	Riskdash RiskdashConfig `yaml:"riskdash"`
}

// RiskdashConfig is the project configuration.
type RiskdashConfig struct {
	Channel   ChannelConfig   `yaml:"channel"`
	Engine    EngineConfig    `yaml:"engine"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	BatchAPI  BatchAPIConfig  `yaml:"batch_api"`
	Rules     RulesConfig     `yaml:"rules"`
	Watch     WatchConfig     `yaml:"watch"`
	Record    RecordConfig    `yaml:"record"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ChannelConfig selects and configures the push-channel transport.
type ChannelConfig struct {
	Mode      string          `yaml:"mode"` // redis|websocket
	Redis     RedisConfig     `yaml:"redis"`
	Websocket WebsocketConfig `yaml:"websocket"`
}

// RedisConfig controls the Redis list transport.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	InboundKey   string        `yaml:"inbound_key"`
	OutboundKey  string        `yaml:"outbound_key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// WebsocketConfig controls the websocket transport.
type WebsocketConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// EngineConfig tunes the ingestion session.
type EngineConfig struct {
	RecencyTTL        time.Duration `yaml:"recency_ttl"`
	HighRiskThreshold float64       `yaml:"high_risk_threshold"`
	InboxSize         int           `yaml:"inbox_size"`
}

// DashboardConfig controls the HTTP API.
type DashboardConfig struct {
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
	Metrics bool   `yaml:"metrics"`
}

// BatchAPIConfig points at the pipeline's batch HTTP API.
type BatchAPIConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RulesConfig controls Sigma tagging of activity messages.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WatchConfig controls the drop folder.
type WatchConfig struct {
	Dir string `yaml:"dir"`
}

// RecordConfig controls recording of inbound envelopes for replay.
type RecordConfig struct {
	File string `yaml:"file"`
}

// TracingConfig controls OpenTelemetry spans.
type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	File    string `yaml:"file"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
	Format  string `yaml:"format"` // text|json
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset field.
func ApplyDefaults(cfg *Config) {
	rd := &cfg.Riskdash

	if rd.Channel.Mode == "" {
		rd.Channel.Mode = ChannelRedis
	}
	if rd.Channel.Redis.Addr == "" {
		rd.Channel.Redis.Addr = "127.0.0.1:6379"
	}
	if rd.Channel.Redis.InboundKey == "" {
		rd.Channel.Redis.InboundKey = "riskdash:events"
	}
	if rd.Channel.Redis.OutboundKey == "" {
		rd.Channel.Redis.OutboundKey = "riskdash:requests"
	}
	if rd.Channel.Redis.BlockTimeout == 0 {
		rd.Channel.Redis.BlockTimeout = 5 * time.Second
	}
	if rd.Channel.Websocket.URL == "" {
		rd.Channel.Websocket.URL = "ws://127.0.0.1:5000/events"
	}
	if rd.Channel.Websocket.ReconnectDelay <= 0 {
		rd.Channel.Websocket.ReconnectDelay = 3 * time.Second
	}

	if rd.Engine.RecencyTTL <= 0 {
		rd.Engine.RecencyTTL = 2 * time.Second
	}
	if rd.Engine.HighRiskThreshold <= 0 {
		rd.Engine.HighRiskThreshold = 95
	}
	if rd.Engine.InboxSize <= 0 {
		rd.Engine.InboxSize = 256
	}

	if rd.Dashboard.Bind == "" {
		rd.Dashboard.Bind = "127.0.0.1"
	}
	if rd.Dashboard.Port == 0 {
		rd.Dashboard.Port = 8080
	}

	if rd.BatchAPI.URL == "" {
		rd.BatchAPI.URL = "http://127.0.0.1:5000"
	}
	if rd.BatchAPI.Timeout <= 0 {
		rd.BatchAPI.Timeout = 30 * time.Second
	}

	if rd.Logging.Level == "" {
		rd.Logging.Level = "info"
	}
	if rd.Logging.Format == "" {
		rd.Logging.Format = "text"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	rd := c.Riskdash
	switch rd.Channel.Mode {
	case ChannelRedis:
		if rd.Channel.Redis.InboundKey == rd.Channel.Redis.OutboundKey {
			return fmt.Errorf("channel.redis: inbound_key and outbound_key must differ")
		}
	case ChannelWebsocket:
		if !strings.HasPrefix(rd.Channel.Websocket.URL, "ws://") && !strings.HasPrefix(rd.Channel.Websocket.URL, "wss://") {
			return fmt.Errorf("channel.websocket.url must start with ws:// or wss://")
		}
	default:
		return fmt.Errorf("channel.mode must be %s or %s, got %q", ChannelRedis, ChannelWebsocket, rd.Channel.Mode)
	}
	if rd.Engine.HighRiskThreshold < 0 || rd.Engine.HighRiskThreshold > 100 {
		return fmt.Errorf("engine.high_risk_threshold must be within 0..100")
	}
	if rd.Dashboard.Port < 0 || rd.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range: %d", rd.Dashboard.Port)
	}
	if rd.Rules.Enabled && strings.TrimSpace(rd.Rules.Path) == "" {
		return fmt.Errorf("rules.path is required when rules are enabled")
	}
	switch rd.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", rd.Logging.Format)
	}
	return nil
}

// Addr returns the dashboard listen address.
func (d DashboardConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Bind, d.Port)
}
