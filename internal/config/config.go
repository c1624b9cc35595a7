// Package config holds the runtime configuration: storage backend selection,
// gateway behavior, outbound pacing, and telemetry. Files are JSON5 so
// operators can comment their configs.
package config

import "sync"

// DefaultAgentID is used when an instance has no default agent configured.
const DefaultAgentID = "default"

// Config is the root configuration. A single instance is shared across the
// process; the mutex guards reload-in-place from the file watcher.
type Config struct {
	mu sync.RWMutex

	Database  DatabaseConfig  `json:"database"`
	Server    ServerConfig    `json:"server"`
	Gateway   GatewayConfig   `json:"gateway"`
	Outbound  OutboundConfig  `json:"outbound"`
	Sessions  SessionsConfig  `json:"sessions"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Log       LogConfig       `json:"log"`
}

// DatabaseConfig selects and parameterizes the storage backend.
type DatabaseConfig struct {
	// Backend is "sqlite" (standalone, default) or "postgres" (managed).
	Backend     string `json:"backend"`
	SQLitePath  string `json:"sqlitePath"`
	PostgresDSN string `json:"postgresDsn"`
}

// ServerConfig configures the connector-facing ingest API.
type ServerConfig struct {
	// Listen is the bind address for the HTTP/WebSocket ingest server;
	// empty disables it.
	Listen string `json:"listen"`
}

// GatewayConfig tunes the inbound pipeline.
type GatewayConfig struct {
	// DebounceMs is the burst-coalescing window; 0 disables batching.
	DebounceMs   int  `json:"debounceMs"`
	ReadReceipts bool `json:"readReceipts"`
}

// OutboundConfig tunes the queue scheduler.
type OutboundConfig struct {
	TickSeconds int `json:"tickSeconds"`
	// SendsPerMinute caps delivery across all queues; 0 disables the limiter.
	SendsPerMinute int `json:"sendsPerMinute"`
}

// SessionsConfig tunes session lifecycle.
type SessionsConfig struct {
	SweepSeconds  int `json:"sweepSeconds"`
	EphemeralTTLm int `json:"ephemeralTtlMinutes"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	Insecure    bool   `json:"insecure"`
	ServiceName string `json:"serviceName"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}
