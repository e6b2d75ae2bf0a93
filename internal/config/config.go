// Package config loads the finderd configuration from YAML with defaults
// suitable for an out-of-the-box test run. All paths are absolute or
// relative to the process working directory.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Listener  ListenerConfig  `mapstructure:"listener"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Engine    EngineConfig    `mapstructure:"engine"`
	ShakeMap  ShakeMapConfig  `mapstructure:"shakemap"`
	Mail      MailConfig      `mapstructure:"mail"`
	TestEvents []TestEvent    `mapstructure:"test_events"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Dir        string `mapstructure:"dir"`
	Console    bool   `mapstructure:"console"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type ProvidersConfig struct {
	RRSMBaseURL string `mapstructure:"rrsm_base_url"`
	ESMBaseURL  string `mapstructure:"esm_base_url"`
}

type ListenerConfig struct {
	URL            string   `mapstructure:"url"`
	TargetRegions  []string `mapstructure:"target_regions"`
	MinMagnitude   float64  `mapstructure:"min_magnitude"`
	ExpirationDays int      `mapstructure:"expiration_days"`
}

type SchedulerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PoolSize        int64         `mapstructure:"pool_size"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type EngineConfig struct {
	BinaryPath  string `mapstructure:"binary_path"`
	OutputRoot  string `mapstructure:"output_root"`
	ResourceDir string `mapstructure:"resource_dir"`
	GMTDir      string `mapstructure:"gmt_dir"`
	LiveMode    bool   `mapstructure:"live_mode"`
}

type ShakeMapConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Command    string `mapstructure:"command"`
	ExportRoot string `mapstructure:"export_root"`
}

type MailConfig struct {
	Host       string   `mapstructure:"host"`
	Port       int      `mapstructure:"port"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	From       string   `mapstructure:"from"`
	Recipients []string `mapstructure:"recipients"`
	UseTLS     bool     `mapstructure:"use_tls"`
}

// TestEvent is a canned event id for --test runs.
type TestEvent struct {
	Name    string `mapstructure:"name"`
	EventID string `mapstructure:"event_id"`
}

// Load reads the configuration file when path is non-empty, otherwise
// searches the working directory and /etc/finderd for finderd.yaml. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("finderd")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/finderd")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.path", "finderd.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dir", "logs")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.max_size_mb", 1)
	v.SetDefault("logging.max_backups", 7)

	v.SetDefault("providers.rrsm_base_url", "http://orfeus-eu.org/odcws/rrsm/1")
	v.SetDefault("providers.esm_base_url", "https://esm-db.eu/esmws/shakemap/1")

	v.SetDefault("listener.url", "wss://www.seismicportal.eu/standing_order/websocket")
	v.SetDefault("listener.target_regions", []string{"world"})
	v.SetDefault("listener.min_magnitude", 4.0)
	v.SetDefault("listener.expiration_days", 5)

	v.SetDefault("scheduler.poll_interval", "10s")
	v.SetDefault("scheduler.pool_size", 10)
	v.SetDefault("scheduler.cleanup_interval", "1h")

	v.SetDefault("engine.binary_path", "/usr/local/src/FinDer/finder_run")
	v.SetDefault("engine.output_root", "output")
	v.SetDefault("engine.resource_dir", "/usr/local/src/FinDer/config")
	v.SetDefault("engine.gmt_dir", "/usr/local/src/FinDer/config/gmt_input")
	v.SetDefault("engine.live_mode", false)

	v.SetDefault("shakemap.enabled", false)
	v.SetDefault("shakemap.command", "shake")
	v.SetDefault("shakemap.export_root", "shakemap_data")

	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.use_tls", false)

	v.SetDefault("test_events", []map[string]any{
		{"name": "kahramanmaras", "event_id": "20230206_0000008"},
		{"name": "norcia", "event_id": "20161030_0000029"},
	})
}
