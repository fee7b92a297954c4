package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for the daemon's own tuning
// knobs (spec.md §6). It is distinct from any registered module's data
// file: this is the control plane's settings, hot-reloaded via
// config.Watch the same way the teacher hot-reloads its own settings.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"       toml:"server"`
	Segment     SegmentConfig     `mapstructure:"segment"      toml:"segment"`
	DigestStore DigestStoreConfig `mapstructure:"digest_store" toml:"digest_store"`
	Tracing     TracingConfig     `mapstructure:"tracing"      toml:"tracing"`
	Metrics     MetricsConfig     `mapstructure:"metrics"      toml:"metrics"`
	AdminAPI    AdminAPIConfig    `mapstructure:"admin_api"    toml:"admin_api"`
	History     HistoryConfig     `mapstructure:"history"      toml:"history"`
}

// ServerConfig holds the core daemon settings.
type ServerConfig struct {
	RootDirectory string `mapstructure:"root_directory" toml:"root_directory"`
	LogLevel      string `mapstructure:"log_level"      toml:"log_level"`
	DataDir       string `mapstructure:"data_dir"       toml:"data_dir"`
}

// SegmentConfig controls the per-segment reload pipeline (spec.md §4.5).
type SegmentConfig struct {
	Parallel  int `mapstructure:"parallel"   toml:"parallel"`
	RetrySec  int `mapstructure:"retry_sec"  toml:"retry_sec"`
}

// DigestStoreConfig controls the on-disk digest persistence cadence and
// retention (spec.md §4.7).
type DigestStoreConfig struct {
	Path           string `mapstructure:"path"             toml:"path"`
	FlushSeconds   int    `mapstructure:"flush_seconds"    toml:"flush_seconds"`
	GCAgeDays      int    `mapstructure:"gc_age_days"      toml:"gc_age_days"`
}

// TracingConfig controls OpenTelemetry distributed tracing for reload
// cycles and per-segment allocates.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"` // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`
	ServiceName string  `mapstructure:"service_name" toml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`
}

// MetricsConfig controls the Prometheus metrics surface.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Addr    string `mapstructure:"addr"    toml:"addr"`
}

// AdminAPIConfig controls the read-only HTTP status surface.
type AdminAPIConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Addr    string `mapstructure:"addr"    toml:"addr"`
}

// HistoryConfig controls the sqlite-backed reload history store.
type HistoryConfig struct {
	Enabled         bool `mapstructure:"enabled"          toml:"enabled"`
	RetentionDays   int  `mapstructure:"retention_days"   toml:"retention_days"`
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (CONFPLANE_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.confplane/confplane.toml
//  4. ./confplane.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	setViperDefaults(v)

	v.SetEnvPrefix("CONFPLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".confplane"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("confplane")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)
	cfg.DigestStore.Path = expandHome(cfg.DigestStore.Path)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to
// ~/.confplane/confplane.toml. If the file already exists it is not
// overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".confplane")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	cfg := Get()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ImportConfig reads a TOML config file over the built-in defaults and
// replaces the current config with the result; keys the file omits take
// their default values, not their current ones. The imported config is
// also persisted to the active config file so changes survive restarts.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return err
	}
	set(cfg)

	if dest := ConfigFilePath(); dest != "" {
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config for persistence: %w", err)
		}
		if err := os.WriteFile(dest, out, 0o600); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}

	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so env var
// binding works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.root_directory", d.Server.RootDirectory)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)

	v.SetDefault("segment.parallel", d.Segment.Parallel)
	v.SetDefault("segment.retry_sec", d.Segment.RetrySec)

	v.SetDefault("digest_store.path", d.DigestStore.Path)
	v.SetDefault("digest_store.flush_seconds", d.DigestStore.FlushSeconds)
	v.SetDefault("digest_store.gc_age_days", d.DigestStore.GCAgeDays)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("admin_api.enabled", d.AdminAPI.Enabled)
	v.SetDefault("admin_api.addr", d.AdminAPI.Addr)

	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.retention_days", d.History.RetentionDays)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
