// Package config loads daemon configuration from defaults, an optional
// config.yaml, GROW_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sweeney/grow-sensor/internal/logic"
)

// EnvPrefix is prepended to environment overrides: GROW_HTTP_ADDR, GROW_MQTT_BROKER, ...
const EnvPrefix = "GROW"

// Config holds the daemon configuration.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Relay     RelayConfig     `mapstructure:"relay"`
	History   HistoryConfig   `mapstructure:"history"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Insight   InsightConfig   `mapstructure:"insight"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Heartbeat time.Duration   `mapstructure:"heartbeat"`
	Influx    InfluxConfig    `mapstructure:"influx"`
	Log       LogConfig       `mapstructure:"log"`
}

// HTTPConfig configures the API, relay and status server.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// FeedConfig configures the upstream websocket feed.
type FeedConfig struct {
	Addr string        `mapstructure:"addr"` // empty disables the local feed in serve
	Tick time.Duration `mapstructure:"tick"`
}

// RelayConfig configures relay sessions.
type RelayConfig struct {
	Upstream string `mapstructure:"upstream"`
}

// HistoryConfig configures the history store.
type HistoryConfig struct {
	Retention time.Duration `mapstructure:"retention"` // 0 keeps everything
}

// GeneratorConfig configures the reading generator.
type GeneratorConfig struct {
	AnomalyRate float64 `mapstructure:"anomaly_rate"`
	Seed        uint64  `mapstructure:"seed"` // 0 seeds from the clock
}

// InsightConfig configures the insight refresh loop.
type InsightConfig struct {
	Interval time.Duration `mapstructure:"interval"` // 0 disables the loop
	Fallback int           `mapstructure:"fallback"`
}

// MQTTConfig configures MQTT publishing.
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"` // empty disables MQTT
	ClientID string `mapstructure:"client_id"`
}

// InfluxConfig configures the InfluxDB sink.
type InfluxConfig struct {
	URL    string `mapstructure:"url"` // empty disables the sink
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		HTTP:      HTTPConfig{Addr: ":8000"},
		Feed:      FeedConfig{Addr: ":8765", Tick: 5 * time.Second},
		Relay:     RelayConfig{Upstream: "ws://localhost:8765/"},
		Generator: GeneratorConfig{AnomalyRate: logic.DefaultAnomalyRate},
		Insight:   InsightConfig{Interval: 10 * time.Minute, Fallback: logic.DefaultFallbackWindow},
		MQTT:      MQTTConfig{ClientID: "grow-sensor"},
		Heartbeat: 15 * time.Minute,
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"config":           "",
	"http":             "http.addr",
	"feed":             "feed.addr",
	"tick":             "feed.tick",
	"upstream":         "relay.upstream",
	"retention":        "history.retention",
	"anomaly-rate":     "generator.anomaly_rate",
	"seed":             "generator.seed",
	"insight-interval": "insight.interval",
	"insight-fallback": "insight.fallback",
	"broker":           "mqtt.broker",
	"client-id":        "mqtt.client_id",
	"heartbeat":        "heartbeat",
	"influx-url":       "influx.url",
	"influx-token":     "influx.token",
	"influx-org":       "influx.org",
	"influx-bucket":    "influx.bucket",
	"log-level":        "log.level",
	"log-format":       "log.format",
}

// RegisterFlags defines every configuration flag on fs with its default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.String("config", ".", "directory containing an optional config.yaml")
	fs.String("http", d.HTTP.Addr, "API, relay and status address")
	fs.String("feed", d.Feed.Addr, "upstream feed address (empty to disable)")
	fs.Duration("tick", d.Feed.Tick, "delay between feed batches")
	fs.String("upstream", d.Relay.Upstream, "feed URL dialled by relay sessions")
	fs.Duration("retention", d.History.Retention, "rolling history retention (0 keeps everything)")
	fs.Float64("anomaly-rate", d.Generator.AnomalyRate, "probability that a reading is anomalous")
	fs.Uint64("seed", d.Generator.Seed, "random seed (0 seeds from the clock)")
	fs.Duration("insight-interval", d.Insight.Interval, "insight refresh interval (0 to disable)")
	fs.Int("insight-fallback", d.Insight.Fallback, "readings summarized when nothing is new")
	fs.String("broker", d.MQTT.Broker, "MQTT broker address (empty to disable)")
	fs.String("client-id", d.MQTT.ClientID, "MQTT client ID")
	fs.Duration("heartbeat", d.Heartbeat, "heartbeat interval (0 to disable)")
	fs.String("influx-url", d.Influx.URL, "InfluxDB URL (empty to disable)")
	fs.String("influx-token", d.Influx.Token, "InfluxDB token")
	fs.String("influx-org", d.Influx.Org, "InfluxDB organisation")
	fs.String("influx-bucket", d.Influx.Bucket, "InfluxDB bucket")
	fs.String("log-level", d.Log.Level, "log level: debug, info, warn, error")
	fs.String("log-format", d.Log.Format, "log format: text or json")
}

// Load builds the configuration. dir is searched for config.yaml; a missing
// file is not an error. flags may be nil; flags not defined on it are skipped.
func Load(dir string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil || key == "" {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can find it during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("feed.addr", d.Feed.Addr)
	v.SetDefault("feed.tick", d.Feed.Tick)
	v.SetDefault("relay.upstream", d.Relay.Upstream)
	v.SetDefault("history.retention", d.History.Retention)
	v.SetDefault("generator.anomaly_rate", d.Generator.AnomalyRate)
	v.SetDefault("generator.seed", d.Generator.Seed)
	v.SetDefault("insight.interval", d.Insight.Interval)
	v.SetDefault("insight.fallback", d.Insight.Fallback)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("heartbeat", d.Heartbeat)
	v.SetDefault("influx.url", d.Influx.URL)
	v.SetDefault("influx.token", d.Influx.Token)
	v.SetDefault("influx.org", d.Influx.Org)
	v.SetDefault("influx.bucket", d.Influx.Bucket)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http address is required")
	}
	if c.Feed.Tick <= 0 {
		return fmt.Errorf("feed tick must be positive, got %v", c.Feed.Tick)
	}
	u, err := url.Parse(c.Relay.Upstream)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("relay upstream must be a ws:// or wss:// URL, got %q", c.Relay.Upstream)
	}
	if c.History.Retention < 0 {
		return fmt.Errorf("history retention must not be negative")
	}
	if c.Generator.AnomalyRate < 0 || c.Generator.AnomalyRate > 1 {
		return fmt.Errorf("anomaly rate must be between 0 and 1, got %v", c.Generator.AnomalyRate)
	}
	if c.Insight.Interval < 0 || c.Heartbeat < 0 {
		return fmt.Errorf("insight interval and heartbeat must not be negative")
	}
	if c.Insight.Fallback < 1 {
		return fmt.Errorf("insight fallback must be at least 1, got %d", c.Insight.Fallback)
	}
	if c.MQTT.Broker != "" && c.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt client id is required when a broker is set")
	}
	if c.Influx.URL != "" && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		return fmt.Errorf("influx org and bucket are required when influx url is set")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
