// Package config provides hierarchical configuration loading for agenthost.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the agenthost core service.
type Config struct {
	Server    Server    `yaml:"server"`
	Worker    Worker    `yaml:"worker"`
	Broker    Broker    `yaml:"broker"`
	RPC       RPC       `yaml:"rpc"`
	Policy    Policy    `yaml:"policy"`
	Workspace Workspace `yaml:"workspace"`
	Memory    Memory    `yaml:"memory"`
	Model     Model     `yaml:"model"`
	Postgres  Postgres  `yaml:"postgres"`
	NATS      NATS      `yaml:"nats"`
	Cache     Cache     `yaml:"cache"`
	Logging   Logging   `yaml:"logging"`
	Tracing   Tracing   `yaml:"tracing"`
}

// Server holds the local HTTP control surface configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Worker holds supervised worker process configuration.
type Worker struct {
	Command      string        `yaml:"command"`
	Args         []string      `yaml:"args"`
	EnvAllowlist []string      `yaml:"env_allowlist"`
	GracePeriod  time.Duration `yaml:"grace_period"`
	CrashWindow  time.Duration `yaml:"crash_window"`
	RestartBase  time.Duration `yaml:"restart_base"`
	MaxCrashes   int           `yaml:"max_crashes"`
}

// Broker holds tool-call broker configuration.
type Broker struct {
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// RPC holds generic RPC channel configuration.
type RPC struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Policy holds the global tool authorization lists.
// An empty Allow list means no global allowlist is configured.
type Policy struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// Workspace holds the workspace root used by spec-driven runs.
type Workspace struct {
	Root string `yaml:"root"`
}

// Memory holds per-run memory log bounds.
type Memory struct {
	MaxEntries int `yaml:"max_entries"`
}

// Model holds the worker's model backend, an OpenAI-compatible
// chat-completions endpoint. The host forwards these values to the worker
// through its environment. An empty URL disables the model tools.
type Model struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Name   string `yaml:"name"`
}

// Postgres holds the optional event store connection configuration.
// An empty DSN disables persistence; events stay in-memory only.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds the optional split-process transport configuration.
// An empty URL keeps the worker channel on stdio.
type NATS struct {
	URL string `yaml:"url"`
}

// Cache holds the workflow context cache settings.
type Cache struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	TTL       time.Duration `yaml:"ttl"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Tracing holds OpenTelemetry exporter configuration.
type Tracing struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8095",
			CORSOrigin: "http://localhost:3000",
		},
		Worker: Worker{
			Command:      "agentworker",
			EnvAllowlist: []string{"PATH", "HOME", "TMPDIR", "LANG", "TZ"},
			GracePeriod:  5 * time.Second,
			CrashWindow:  60 * time.Second,
			RestartBase:  100 * time.Millisecond,
			MaxCrashes:   5,
		},
		Broker: Broker{
			CallTimeout: 30 * time.Second,
		},
		RPC: RPC{
			RequestTimeout: 30 * time.Second,
		},
		Policy: Policy{
			Deny: []string{"fs.delete", "shell.exec"},
		},
		Workspace: Workspace{
			Root: ".",
		},
		Memory: Memory{
			MaxEntries: 256,
		},
		Model: Model{
			Name: "gpt-4o-mini",
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		Cache: Cache{
			MaxSizeMB: 32,
			TTL:       5 * time.Minute,
		},
		Logging: Logging{
			Level:   "info",
			Service: "agenthost-core",
		},
		Tracing: Tracing{
			Endpoint: "localhost:4317",
		},
	}
}
