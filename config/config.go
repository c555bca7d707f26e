package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"livetape/internal/models"
	"livetape/internal/symbols"
)

// DefaultPath is used when no -config flag is given.
const DefaultPath = "config/config.yml"

var envSpecificPaths = map[string]string{
	EnvironmentProduction: "config/config.production.yml",
	EnvironmentStaging:    "config/config.staging.yml",
}

type Config struct {
	Livetape     LivetapeConfig     `yaml:"livetape"`
	Logging      LoggingConfig      `yaml:"logging"`
	Streams      StreamsConfig      `yaml:"streams"`
	Liquidations LiquidationsConfig `yaml:"liquidations"`
	Channels     ChannelsConfig     `yaml:"channels"`
	Tape         TapeConfig         `yaml:"tape"`
	Dashboard    DashboardConfig    `yaml:"dashboard"`
	Redis        RedisConfig        `yaml:"redis"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

type LivetapeConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Symbol  string `yaml:"symbol"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// VenueConfig toggles one trade venue. A nil Enabled means enabled.
type VenueConfig struct {
	Enabled *bool  `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type StreamsConfig struct {
	ReconnectDelay   time.Duration          `yaml:"reconnect_delay"`
	HandshakeTimeout time.Duration          `yaml:"handshake_timeout"`
	Keepalive        time.Duration          `yaml:"keepalive"`
	ReadTimeout      time.Duration          `yaml:"read_timeout"`
	DialRate         float64                `yaml:"dial_rate"`
	DialBurst        int                    `yaml:"dial_burst"`
	SourceIP         string                 `yaml:"source_ip"`
	Venues           map[string]VenueConfig `yaml:"venues"`
}

// VenueEnabled reports whether the venue should be streamed.
func (s StreamsConfig) VenueEnabled(id models.VenueID) bool {
	v, ok := s.Venues[string(id)]
	if !ok || v.Enabled == nil {
		return true
	}
	return *v.Enabled
}

// VenueURL returns the configured endpoint override, if any.
func (s StreamsConfig) VenueURL(id models.VenueID) string {
	return strings.TrimSpace(s.Venues[string(id)].URL)
}

type LiquidationsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	BybitSymbols   []string      `yaml:"bybit_symbols"`
	BinanceURL     string        `yaml:"binance_url"`
	BybitURL       string        `yaml:"bybit_url"`
	OKXURL         string        `yaml:"okx_url"`
}

type ChannelsConfig struct {
	TradeBuffer       int `yaml:"trade_buffer"`
	LiquidationBuffer int `yaml:"liquidation_buffer"`
}

type TapeConfig struct {
	PerVenue     int           `yaml:"per_venue"`
	Unified      int           `yaml:"unified"`
	Liquidations int           `yaml:"liquidations"`
	BiasWindow   int           `yaml:"bias_window"`
	WhaleUSD     float64       `yaml:"whale_usd"`
	SymbolWindow time.Duration `yaml:"symbol_window"`
	TopAssets    int           `yaml:"top_assets"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	MetricsHistory  int           `yaml:"metrics_history"`
	LogHistory      int           `yaml:"log_history"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type MetricsConfig struct {
	// ChannelSize emits buffer occupancy gauges every ChannelSizeInterval.
	ChannelSize         bool             `yaml:"channel_size"`
	ChannelSizeInterval time.Duration    `yaml:"channel_size_interval"`
	CloudWatch          CloudWatchConfig `yaml:"cloudwatch"`
}

// DefaultBybitSymbols is the curated liquidation subscription list.
var DefaultBybitSymbols = []string{
	"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "DOGEUSDT", "ADAUSDT",
	"AVAXUSDT", "LINKUSDT", "PEPEUSDT", "WIFUSDT", "SUIUSDT", "APTUSDT",
	"NEARUSDT", "FETUSDT", "RENDERUSDT", "SHIBUSDT", "DOTUSDT", "LTCUSDT",
}

// Default returns a configuration with every tunable set.
func Default() Config {
	return Config{
		Livetape: LivetapeConfig{Name: "livetape", Version: "dev", Symbol: "BTC"},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout", ReportInterval: 30 * time.Second},
		Streams: StreamsConfig{
			ReconnectDelay:   5 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			Keepalive:        20 * time.Second,
			ReadTimeout:      35 * time.Second,
			DialRate:         5,
			DialBurst:        11,
		},
		Liquidations: LiquidationsConfig{Enabled: true, ReconnectDelay: 5 * time.Second},
		Channels:     ChannelsConfig{TradeBuffer: 4096, LiquidationBuffer: 1024},
		Tape: TapeConfig{
			PerVenue:     2000,
			Unified:      2000,
			Liquidations: 500,
			BiasWindow:   50,
			WhaleUSD:     100000,
			SymbolWindow: 15 * time.Minute,
			TopAssets:    18,
		},
		Dashboard: DashboardConfig{
			Enabled:         true,
			Address:         "0.0.0.0:8080",
			RefreshInterval: 5 * time.Second,
			MetricsHistory:  200,
			LogHistory:      200,
		},
		Redis:     RedisConfig{Addr: "localhost:6379", Prefix: "livetape"},
		Metrics: MetricsConfig{
			ChannelSize:         true,
			ChannelSizeInterval: 10 * time.Second,
			CloudWatch:          CloudWatchConfig{Namespace: "Livetape"},
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, DefaultPath, envSpecificPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(config.Liquidations.BybitSymbols) == 0 {
		config.Liquidations.BybitSymbols = append([]string(nil), DefaultBybitSymbols...)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LIVETAPE_SYMBOL")); v != "" {
		cfg.Livetape.Symbol = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("DASHBOARD_ADDR")); v != "" {
		cfg.Dashboard.Address = v
	}
	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Region == "" {
		cfg.Metrics.CloudWatch.Region = strings.TrimSpace(os.Getenv("AWS_REGION"))
	}
	cfg.Livetape.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Livetape.Symbol))
}

func validateConfig(cfg *Config) error {
	if cfg.Livetape.Name == "" {
		return fmt.Errorf("livetape.name is required")
	}
	if cfg.Livetape.Version == "" {
		return fmt.Errorf("livetape.version is required")
	}
	if cfg.Livetape.Symbol != "" && !symbols.Valid(cfg.Livetape.Symbol) {
		return fmt.Errorf("livetape.symbol '%s' is invalid", cfg.Livetape.Symbol)
	}

	if cfg.Streams.ReconnectDelay <= 0 {
		return fmt.Errorf("streams.reconnect_delay must be greater than 0")
	}
	if cfg.Streams.Keepalive < 0 || cfg.Streams.ReadTimeout < 0 {
		return fmt.Errorf("streams.keepalive and streams.read_timeout must not be negative")
	}
	if cfg.Streams.ReadTimeout > 0 {
		if cfg.Streams.Keepalive == 0 {
			return fmt.Errorf("streams.keepalive is required when streams.read_timeout is set")
		}
		if cfg.Streams.Keepalive >= cfg.Streams.ReadTimeout {
			return fmt.Errorf("streams.keepalive must be shorter than streams.read_timeout")
		}
	}
	if cfg.Streams.DialRate < 0 {
		return fmt.Errorf("streams.dial_rate must not be negative")
	}
	for id := range cfg.Streams.Venues {
		if !models.VenueID(id).Valid() {
			return fmt.Errorf("streams.venues: unknown venue '%s'", id)
		}
	}

	if cfg.Liquidations.Enabled && cfg.Liquidations.ReconnectDelay <= 0 {
		return fmt.Errorf("liquidations.reconnect_delay must be greater than 0")
	}

	if cfg.Channels.TradeBuffer <= 0 {
		return fmt.Errorf("channels.trade_buffer must be greater than 0")
	}
	if cfg.Channels.LiquidationBuffer <= 0 {
		return fmt.Errorf("channels.liquidation_buffer must be greater than 0")
	}

	if cfg.Tape.PerVenue <= 0 || cfg.Tape.Unified <= 0 || cfg.Tape.Liquidations <= 0 {
		return fmt.Errorf("tape buffer sizes must be greater than 0")
	}
	if cfg.Tape.BiasWindow <= 0 {
		return fmt.Errorf("tape.bias_window must be greater than 0")
	}

	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Namespace == "" {
		return fmt.Errorf("metrics.cloudwatch.namespace is required when cloudwatch is enabled")
	}

	return nil
}
