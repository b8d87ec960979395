// Package config provides loading and validation of the noderegistry.yaml
// service configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in directories.
const FileName = "noderegistry.yaml"

// Store types.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreEtcd   = "etcd"
)

// Config represents a noderegistry.yaml configuration file.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the gRPC listener.
type ServerConfig struct {
	// Port to listen on. 0 picks a free port.
	Port int `yaml:"port" mapstructure:"port"`

	// GracefulTimeout bounds graceful shutdown.
	// Format: Go duration string (e.g., "30s")
	// Default: 30s
	GracefulTimeout string `yaml:"graceful_timeout,omitempty" mapstructure:"graceful_timeout"`

	// HealthInterval is the period of the background health monitor.
	// Default: 10s
	HealthInterval string `yaml:"health_interval,omitempty" mapstructure:"health_interval"`

	TLSCertFile string `yaml:"tls_cert_file,omitempty" mapstructure:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file,omitempty" mapstructure:"tls_key_file"`
}

// GetGracefulTimeout returns the parsed graceful timeout or the default.
func (s ServerConfig) GetGracefulTimeout() time.Duration {
	return parseDuration(s.GracefulTimeout, 30*time.Second)
}

// GetHealthInterval returns the parsed health interval or the default.
func (s ServerConfig) GetHealthInterval() time.Duration {
	return parseDuration(s.HealthInterval, 10*time.Second)
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Type is one of memory, file, sqlite, redis or etcd.
	// Default: memory
	Type string `yaml:"type" mapstructure:"type"`

	// Path is the snapshot file (file) or database file (sqlite).
	Path string `yaml:"path,omitempty" mapstructure:"path"`

	Redis RedisConfig `yaml:"redis,omitempty" mapstructure:"redis"`
	Etcd  EtcdConfig  `yaml:"etcd,omitempty" mapstructure:"etcd"`
}

// GetType returns the store type or the default.
func (s StoreConfig) GetType() string {
	if s.Type == "" {
		return StoreMemory
	}
	return strings.ToLower(s.Type)
}

// RedisConfig configures the redis store.
type RedisConfig struct {
	URL    string `yaml:"url,omitempty" mapstructure:"url"`
	Prefix string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

// EtcdConfig configures the etcd store.
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints,omitempty" mapstructure:"endpoints"`
	Namespace   string        `yaml:"namespace,omitempty" mapstructure:"namespace"`
	DialTimeout string        `yaml:"dial_timeout,omitempty" mapstructure:"dial_timeout"`
	TLS         EtcdTLSConfig `yaml:"tls,omitempty" mapstructure:"tls"`
}

// GetDialTimeout returns the parsed dial timeout or the default.
func (e EtcdConfig) GetDialTimeout() time.Duration {
	return parseDuration(e.DialTimeout, 5*time.Second)
}

// EtcdTLSConfig holds client certificate settings for etcd.
type EtcdTLSConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty" mapstructure:"enabled"`
	CertFile string `yaml:"cert_file,omitempty" mapstructure:"cert_file"`
	KeyFile  string `yaml:"key_file,omitempty" mapstructure:"key_file"`
	CAFile   string `yaml:"ca_file,omitempty" mapstructure:"ca_file"`
}

// RegistryConfig tunes registry behavior.
type RegistryConfig struct {
	// DetectCycles rejects parent assignments that close a multi-hop cycle.
	DetectCycles bool `yaml:"detect_cycles" mapstructure:"detect_cycles"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level" mapstructure:"level"`

	// Format is text or json. Default: text
	Format string `yaml:"format" mapstructure:"format"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            50051,
			GracefulTimeout: "30s",
			HealthInterval:  "10s",
		},
		Store: StoreConfig{
			Type: StoreMemory,
			Redis: RedisConfig{
				URL:    "redis://localhost:6379",
				Prefix: "noderegistry",
			},
			Etcd: EtcdConfig{
				Namespace:   "noderegistry",
				DialTimeout: "5s",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: invalid port %d", c.Server.Port))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("server: tls_cert_file and tls_key_file must be set together"))
	}
	for field, value := range map[string]string{
		"server.graceful_timeout": c.Server.GracefulTimeout,
		"server.health_interval":  c.Server.HealthInterval,
		"store.etcd.dial_timeout": c.Store.Etcd.DialTimeout,
	} {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", field, value))
		}
	}

	switch c.Store.GetType() {
	case StoreMemory, StoreRedis:
	case StoreFile, StoreSQLite:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for store type %s", c.Store.GetType()))
		}
	case StoreEtcd:
		if len(c.Store.Etcd.Endpoints) == 0 {
			errs = append(errs, errors.New("store.etcd.endpoints is required for store type etcd"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.type: unknown store type %q", c.Store.Type))
	}

	if _, err := c.Log.slogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// NewLogger builds a slog.Logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.slogLevel()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(l.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func (l LogConfig) slogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: unknown level %q", l.Level)
	}
	return level, nil
}

// Resolve returns the configuration file for path. If path is a directory,
// it looks for noderegistry.yaml or noderegistry.yml in that directory.
func Resolve(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		return path, nil
	}

	for _, name := range []string{FileName, strings.TrimSuffix(FileName, ".yaml") + ".yml"} {
		candidate := filepath.Join(path, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no %s found in %s", FileName, path)
}

// Load reads and parses a configuration file. Fields missing from the file
// keep their Defaults values.
func Load(path string) (*Config, error) {
	configPath, err := Resolve(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Defaults()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// WriteDefault writes the default configuration to path, creating parent
// directories as needed. An existing file is left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	defaults := Defaults()
	data, err := yaml.Marshal(&defaults)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func parseDuration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
