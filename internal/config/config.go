// Package config loads toolwatch settings from a YAML file, TOOLWATCH_*
// environment variables and built-in defaults, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ppiankov/toolwatch/internal/alert"
	"github.com/ppiankov/toolwatch/internal/delivery"
	"github.com/ppiankov/toolwatch/internal/logging"
	"github.com/ppiankov/toolwatch/internal/redact"
	"github.com/ppiankov/toolwatch/internal/sequence"
	"github.com/ppiankov/toolwatch/internal/tracing"
)

// EnvPrefix prefixes every environment override, e.g.
// TOOLWATCH_DELIVERY_API_KEY for delivery.api_key.
const EnvPrefix = "TOOLWATCH"

// Config is the full configuration.
type Config struct {
	Watch      WatchConfig      `mapstructure:"watch"`
	Detection  DetectionConfig  `mapstructure:"detection"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Delivery   delivery.Config  `mapstructure:"delivery"`
	Alerts     alert.Config     `mapstructure:"alerts"`
	Redact     redact.Config    `mapstructure:"redact"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    logging.Config   `mapstructure:"logging"`
	Tracing    tracing.Config   `mapstructure:"tracing"`
}

// WatchConfig selects the log directory and how it is followed.
type WatchConfig struct {
	Dir       string        `mapstructure:"dir"`
	Pattern   string        `mapstructure:"pattern"`
	FromStart bool          `mapstructure:"from_start"`
	Poll      bool          `mapstructure:"poll"`
	Debounce  time.Duration `mapstructure:"debounce"`
	Workers   int           `mapstructure:"workers"`
}

// DetectionConfig tunes live sequence detection.
type DetectionConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	Window               time.Duration `mapstructure:"window"`
	BurstWindow          time.Duration `mapstructure:"burst_window"`
	EnumerationThreshold int           `mapstructure:"enumeration_threshold"`
	PrivilegedBurstMin   int           `mapstructure:"privileged_burst_min"`
	MaxResults           int           `mapstructure:"max_results"`
	MaxActions           int           `mapstructure:"max_actions"`
	RecentLimit          int           `mapstructure:"recent_limit"`
}

// ClassifierConfig extends the built-in rule tables.
type ClassifierConfig struct {
	TrustedRoots []string `mapstructure:"trusted_roots"`
	RulesFile    string   `mapstructure:"rules_file"`
}

// ServerConfig sets the listen addresses. An empty address disables that
// listener.
type ServerConfig struct {
	Addr     string `mapstructure:"addr"`
	GRPCAddr string `mapstructure:"grpc_addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	seq := sequence.DefaultConfig()
	return Config{
		Watch: WatchConfig{
			Pattern:  "*.jsonl",
			Debounce: 200 * time.Millisecond,
			Workers:  4,
		},
		Detection: DetectionConfig{
			Enabled:              true,
			Window:               seq.Window,
			BurstWindow:          seq.BurstWindow,
			EnumerationThreshold: seq.EnumerationThreshold,
			PrivilegedBurstMin:   seq.PrivilegedBurstMin,
			MaxResults:           seq.MaxResults,
			MaxActions:           seq.MaxActions,
			RecentLimit:          500,
		},
		Delivery: delivery.Config{
			Source:        "toolwatch",
			BatchSize:     50,
			FlushInterval: 10 * time.Second,
			MaxBuffer:     1000,
			RequeueLimit:  1000,
			Timeout:       10 * time.Second,
		},
		Alerts: alert.Config{
			Format:  "generic",
			Levels:  []string{"critical"},
			Timeout: 5 * time.Second,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:9470",
		},
		Logging: logging.DefaultConfig(),
		Tracing: tracing.Config{
			ServiceName: "toolwatch",
			SampleRate:  1,
		},
	}
}

// Load reads path (optional), applies environment overrides and validates
// the result. A path that does not exist yields the defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(ExpandHome(path))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Watch.Dir = ExpandHome(cfg.Watch.Dir)
	cfg.Classifier.RulesFile = ExpandHome(cfg.Classifier.RulesFile)
	cfg.Logging.File = ExpandHome(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("watch.dir", d.Watch.Dir)
	v.SetDefault("watch.pattern", d.Watch.Pattern)
	v.SetDefault("watch.from_start", d.Watch.FromStart)
	v.SetDefault("watch.poll", d.Watch.Poll)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("watch.workers", d.Watch.Workers)

	v.SetDefault("detection.enabled", d.Detection.Enabled)
	v.SetDefault("detection.window", d.Detection.Window)
	v.SetDefault("detection.burst_window", d.Detection.BurstWindow)
	v.SetDefault("detection.enumeration_threshold", d.Detection.EnumerationThreshold)
	v.SetDefault("detection.privileged_burst_min", d.Detection.PrivilegedBurstMin)
	v.SetDefault("detection.max_results", d.Detection.MaxResults)
	v.SetDefault("detection.max_actions", d.Detection.MaxActions)
	v.SetDefault("detection.recent_limit", d.Detection.RecentLimit)

	v.SetDefault("classifier.trusted_roots", d.Classifier.TrustedRoots)
	v.SetDefault("classifier.rules_file", d.Classifier.RulesFile)

	v.SetDefault("delivery.enabled", d.Delivery.Enabled)
	v.SetDefault("delivery.endpoint", d.Delivery.Endpoint)
	v.SetDefault("delivery.api_key", d.Delivery.APIKey)
	v.SetDefault("delivery.source", d.Delivery.Source)
	v.SetDefault("delivery.batch_size", d.Delivery.BatchSize)
	v.SetDefault("delivery.flush_interval", d.Delivery.FlushInterval)
	v.SetDefault("delivery.max_buffer", d.Delivery.MaxBuffer)
	v.SetDefault("delivery.requeue_limit", d.Delivery.RequeueLimit)
	v.SetDefault("delivery.timeout", d.Delivery.Timeout)

	v.SetDefault("alerts.enabled", d.Alerts.Enabled)
	v.SetDefault("alerts.url", d.Alerts.URL)
	v.SetDefault("alerts.format", d.Alerts.Format)
	v.SetDefault("alerts.levels", d.Alerts.Levels)
	v.SetDefault("alerts.headers", map[string]string{})
	v.SetDefault("alerts.timeout", d.Alerts.Timeout)

	v.SetDefault("redact.enabled", d.Redact.Enabled)
	v.SetDefault("redact.patterns", d.Redact.Patterns)
	v.SetDefault("redact.literals", d.Redact.Literals)
	v.SetDefault("redact.keys", d.Redact.Keys)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.grpc_addr", d.Server.GRPCAddr)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
}

// Sequence returns the detector settings.
func (c Config) Sequence() sequence.Config {
	return sequence.Config{
		Window:               c.Detection.Window,
		BurstWindow:          c.Detection.BurstWindow,
		EnumerationThreshold: c.Detection.EnumerationThreshold,
		PrivilegedBurstMin:   c.Detection.PrivilegedBurstMin,
		MaxResults:           c.Detection.MaxResults,
		MaxActions:           c.Detection.MaxActions,
	}
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
