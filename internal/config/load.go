package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Backend:    "sqlite",
			SQLitePath: "~/.ravi/ravi.db",
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8420",
		},
		Gateway: GatewayConfig{
			DebounceMs:   2000,
			ReadReceipts: true,
		},
		Outbound: OutboundConfig{
			TickSeconds:    15,
			SendsPerMinute: 20,
		},
		Sessions: SessionsConfig{
			SweepSeconds:  60,
			EphemeralTTLm: 60,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "ravi",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				*dst = n
			}
		}
	}

	envStr("RAVI_DB_BACKEND", &c.Database.Backend)
	envStr("RAVI_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("RAVI_POSTGRES_DSN", &c.Database.PostgresDSN)
	if c.Database.PostgresDSN != "" && os.Getenv("RAVI_DB_BACKEND") == "" {
		c.Database.Backend = "postgres"
	}

	envStr("RAVI_LISTEN", &c.Server.Listen)
	envInt("RAVI_DEBOUNCE_MS", &c.Gateway.DebounceMs)
	envInt("RAVI_OUTBOUND_TICK_SECONDS", &c.Outbound.TickSeconds)
	envInt("RAVI_SENDS_PER_MINUTE", &c.Outbound.SendsPerMinute)

	envStr("RAVI_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("RAVI_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("RAVI_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("RAVI_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	envStr("RAVI_LOG_LEVEL", &c.Log.Level)
	envStr("RAVI_LOG_FORMAT", &c.Log.Format)
}

// Reload re-reads the file into the existing Config in place so holders of
// the pointer observe the new values.
func (c *Config) Reload(path string) error {
	fresh, err := Load(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Database = fresh.Database
	c.Server = fresh.Server
	c.Gateway = fresh.Gateway
	c.Outbound = fresh.Outbound
	c.Sessions = fresh.Sessions
	c.Telemetry = fresh.Telemetry
	c.Log = fresh.Log
	return nil
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// SQLitePathExpanded returns the sqlite path with ~ expanded.
func (c *Config) SQLitePathExpanded() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Database.SQLitePath)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// DefaultPath returns the standard config file location.
func DefaultPath() string {
	return ExpandHome("~/.ravi/config.json5")
}
