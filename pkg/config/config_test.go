package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, home, body string) {
	t.Helper()
	configDir := filepath.Join(home, ".flowpilot")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoad_MissingFile_ReturnsDefault(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("FLOWPILOT_PORT", "")

	cfg, path, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path == "" {
		t.Fatalf("expected config path")
	}
	if got := cfg.Host(); got != DefaultHost {
		t.Fatalf("cfg.Host() = %q, want %q", got, DefaultHost)
	}
	if got := cfg.Port(); got != DefaultPort {
		t.Fatalf("cfg.Port() = %d, want %d", got, DefaultPort)
	}
	if got := cfg.StorageDriver(); got != StorageSQLite {
		t.Fatalf("cfg.StorageDriver() = %q", got)
	}
	if got := cfg.StoragePath(); got != filepath.Join(home, ".flowpilot", "flowpilot.db") {
		t.Fatalf("cfg.StoragePath() = %q", got)
	}
	if got := cfg.ExportTimeout(); got != DefaultExportTimeout {
		t.Fatalf("cfg.ExportTimeout() = %v", got)
	}
	if cfg.RatePerMinute() != DefaultRatePerMinute || cfg.Burst() != DefaultBurst {
		t.Fatalf("unexpected compare defaults: %d/%d", cfg.RatePerMinute(), cfg.Burst())
	}
}

func TestEnsureDefaultConfig_CreatesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("FLOWPILOT_PORT", "")

	path, err := EnsureDefaultConfig()
	if err != nil {
		t.Fatalf("EnsureDefaultConfig() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist at %s: %v", path, err)
	}

	cfg, gotPath, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if filepath.Clean(gotPath) != filepath.Clean(path) {
		t.Fatalf("Load() path = %s, want %s", gotPath, path)
	}
	if got := cfg.Port(); got != DefaultPort {
		t.Fatalf("cfg.Port() = %d, want %d", got, DefaultPort)
	}
	if got := cfg.PreferencesBackend(); got != PreferencesFile {
		t.Fatalf("cfg.PreferencesBackend() = %q", got)
	}
}

func TestLoad_ParsesSections(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("FLOWPILOT_PORT", "")

	writeConfig(t, home, `server:
  host: 0.0.0.0
  port: 9090
storage:
  driver: memory
preferences:
  backend: redis
  redis_addr: 127.0.0.1:6379
canvas:
  export_timeout: 3s
compare:
  rate_per_minute: 12
  burst: 2
models:
  default_model: gpt-4o
`)

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Host(); got != "0.0.0.0" {
		t.Fatalf("cfg.Host() = %q", got)
	}
	if got := cfg.Port(); got != 9090 {
		t.Fatalf("cfg.Port() = %d", got)
	}
	if got := cfg.StorageDriver(); got != StorageMemory {
		t.Fatalf("cfg.StorageDriver() = %q", got)
	}
	if got := cfg.RedisKey(); got != DefaultRedisKey {
		t.Fatalf("cfg.RedisKey() = %q", got)
	}
	if got := cfg.ExportTimeout(); got != 3*time.Second {
		t.Fatalf("cfg.ExportTimeout() = %v", got)
	}
	if cfg.RatePerMinute() != 12 || cfg.Burst() != 2 {
		t.Fatalf("unexpected compare settings: %d/%d", cfg.RatePerMinute(), cfg.Burst())
	}
	if got := cfg.DefaultModel(); got != "gpt-4o" {
		t.Fatalf("cfg.DefaultModel() = %q", got)
	}
}

func TestLoad_PortOverride(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("FLOWPILOT_PORT", "7001")

	writeConfig(t, home, "server:\n  port: 9090\n")

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Port(); got != 7001 {
		t.Fatalf("cfg.Port() = %d, want 7001", got)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"port", "server:\n  port: 70000\n", "server.port"},
		{"storage", "storage:\n  driver: mongo\n", "storage.driver"},
		{"redis without addr", "preferences:\n  backend: redis\n", "redis_addr"},
		{"timeout", "canvas:\n  export_timeout: soon\n", "export_timeout"},
		{"burst", "compare:\n  burst: 0\n", "compare.burst"},
		{"yaml", "server: [\n", "parse yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := t.TempDir()
			t.Setenv("HOME", home)
			t.Setenv("FLOWPILOT_PORT", "")
			writeConfig(t, home, tt.body)

			_, _, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
