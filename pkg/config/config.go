package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied through the accessor methods.
//
// Example (~/.flowpilot/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8088
// storage:
//   driver: sqlite        # sqlite | memory
//   path: ~/.flowpilot/flowpilot.db
// preferences:
//   backend: file         # file | redis
//   redis_addr: 127.0.0.1:6379
//   redis_key: flowpilot:custom_models
// canvas:
//   export_timeout: 10s
// compare:
//   rate_per_minute: 30
//   burst: 5
// models:
//   default_model: gpt-4o
// log:
//   level: info
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - FLOWPILOT_PORT overrides server.port.

type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Preferences PreferencesConfig `yaml:"preferences"`
	Canvas      CanvasConfig      `yaml:"canvas"`
	Compare     CompareConfig     `yaml:"compare"`
	Models      ModelsConfig      `yaml:"models"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Host      *string `yaml:"host"`
	Port      *int    `yaml:"port"`
	StaticDir string  `yaml:"static_dir,omitempty"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type PreferencesConfig struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr,omitempty"`
	RedisKey  string `yaml:"redis_key,omitempty"`
}

type CanvasConfig struct {
	ExportTimeout string `yaml:"export_timeout"`
}

type CompareConfig struct {
	RatePerMinute *int `yaml:"rate_per_minute"`
	Burst         *int `yaml:"burst"`
}

type ModelsConfig struct {
	DefaultModel string `yaml:"default_model"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

const (
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 8088
	DefaultExportTimeout = 10 * time.Second
	DefaultRatePerMinute = 30
	DefaultBurst         = 5
	DefaultRedisKey      = "flowpilot:custom_models"

	StorageSQLite = "sqlite"
	StorageMemory = "memory"

	PreferencesFile  = "file"
	PreferencesRedis = "redis"
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".flowpilot")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.flowpilot/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w in %s", err, configFile)
	}
	return cfg, configFile, nil
}

// Validate checks every section.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Host()) == "" {
		return errors.New("invalid server.host (empty)")
	}
	if port := c.Port(); port < 1 || port > 65535 {
		return fmt.Errorf("invalid server.port %d", port)
	}
	switch c.StorageDriver() {
	case StorageSQLite, StorageMemory:
	default:
		return fmt.Errorf("invalid storage.driver %q", c.Storage.Driver)
	}
	switch c.PreferencesBackend() {
	case PreferencesFile:
	case PreferencesRedis:
		if strings.TrimSpace(c.Preferences.RedisAddr) == "" {
			return errors.New("preferences.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid preferences.backend %q", c.Preferences.Backend)
	}
	if c.Canvas.ExportTimeout != "" {
		d, err := time.ParseDuration(c.Canvas.ExportTimeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid canvas.export_timeout %q", c.Canvas.ExportTimeout)
		}
	}
	if c.RatePerMinute() < 1 {
		return fmt.Errorf("invalid compare.rate_per_minute %d", c.RatePerMinute())
	}
	if c.Burst() < 1 {
		return fmt.Errorf("invalid compare.burst %d", c.Burst())
	}
	return nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server:      ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Storage:     StorageConfig{Driver: StorageSQLite},
		Preferences: PreferencesConfig{Backend: PreferencesFile},
		Canvas:      CanvasConfig{ExportTimeout: DefaultExportTimeout.String()},
		Compare:     CompareConfig{RatePerMinute: ptr(DefaultRatePerMinute), Burst: ptr(DefaultBurst)},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

// Port returns FLOWPILOT_PORT when set, else server.port, else DefaultPort.
func (c *AppConfig) Port() int {
	if v := strings.TrimSpace(os.Getenv("FLOWPILOT_PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			return p
		}
	}
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

func (c *AppConfig) StorageDriver() string {
	if c == nil || c.Storage.Driver == "" {
		return StorageSQLite
	}
	return c.Storage.Driver
}

// StoragePath returns the sqlite file, ~/.flowpilot/flowpilot.db by default.
func (c *AppConfig) StoragePath() string {
	if c != nil && c.Storage.Path != "" {
		return expandHome(c.Storage.Path)
	}
	dir, _, err := DefaultPaths()
	if err != nil {
		return "flowpilot.db"
	}
	return filepath.Join(dir, "flowpilot.db")
}

func (c *AppConfig) PreferencesBackend() string {
	if c == nil || c.Preferences.Backend == "" {
		return PreferencesFile
	}
	return c.Preferences.Backend
}

func (c *AppConfig) RedisKey() string {
	if c == nil || c.Preferences.RedisKey == "" {
		return DefaultRedisKey
	}
	return c.Preferences.RedisKey
}

func (c *AppConfig) ExportTimeout() time.Duration {
	if c == nil || c.Canvas.ExportTimeout == "" {
		return DefaultExportTimeout
	}
	d, err := time.ParseDuration(c.Canvas.ExportTimeout)
	if err != nil || d <= 0 {
		return DefaultExportTimeout
	}
	return d
}

func (c *AppConfig) RatePerMinute() int {
	if c == nil || c.Compare.RatePerMinute == nil {
		return DefaultRatePerMinute
	}
	return *c.Compare.RatePerMinute
}

func (c *AppConfig) Burst() int {
	if c == nil || c.Compare.Burst == nil {
		return DefaultBurst
	}
	return *c.Compare.Burst
}

func (c *AppConfig) DefaultModel() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Models.DefaultModel)
}

func (c *AppConfig) LogLevel() string {
	if c == nil {
		return ""
	}
	return c.Log.Level
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

func ptr[T any](v T) *T { return &v }
