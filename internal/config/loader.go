package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agenthost.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "AGENTHOST_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTHOST_CORS_ORIGIN")

	setString(&cfg.Worker.Command, "AGENTHOST_WORKER_COMMAND")
	setStringSlice(&cfg.Worker.EnvAllowlist, "AGENTHOST_WORKER_ENV_ALLOWLIST")
	setDuration(&cfg.Worker.GracePeriod, "AGENTHOST_WORKER_GRACE_PERIOD")
	setDuration(&cfg.Worker.CrashWindow, "AGENTHOST_WORKER_CRASH_WINDOW")
	setDuration(&cfg.Worker.RestartBase, "AGENTHOST_WORKER_RESTART_BASE")
	setInt(&cfg.Worker.MaxCrashes, "AGENTHOST_WORKER_MAX_CRASHES")

	setDuration(&cfg.Broker.CallTimeout, "AGENTHOST_BROKER_CALL_TIMEOUT")
	setDuration(&cfg.RPC.RequestTimeout, "AGENTHOST_RPC_REQUEST_TIMEOUT")

	setStringSlice(&cfg.Policy.Allow, "AGENTHOST_POLICY_ALLOW")
	setStringSlice(&cfg.Policy.Deny, "AGENTHOST_POLICY_DENY")

	setString(&cfg.Workspace.Root, "AGENTHOST_WORKSPACE_ROOT")
	setInt(&cfg.Memory.MaxEntries, "AGENTHOST_MEMORY_MAX_ENTRIES")

	setString(&cfg.Model.URL, "AGENTHOST_MODEL_URL")
	setString(&cfg.Model.APIKey, "AGENTHOST_MODEL_API_KEY")
	setString(&cfg.Model.Name, "AGENTHOST_MODEL_NAME")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTHOST_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AGENTHOST_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AGENTHOST_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AGENTHOST_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AGENTHOST_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")

	setInt64(&cfg.Cache.MaxSizeMB, "AGENTHOST_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "AGENTHOST_CACHE_TTL")

	setString(&cfg.Logging.Level, "AGENTHOST_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTHOST_LOG_SERVICE")

	setBool(&cfg.Tracing.Enabled, "AGENTHOST_TRACING_ENABLED")
	setString(&cfg.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Worker.Command == "" {
		return errors.New("worker.command is required")
	}
	if cfg.Worker.MaxCrashes < 1 {
		return errors.New("worker.max_crashes must be >= 1")
	}
	if cfg.Worker.GracePeriod <= 0 {
		return errors.New("worker.grace_period must be > 0")
	}
	if cfg.Broker.CallTimeout <= 0 {
		return errors.New("broker.call_timeout must be > 0")
	}
	if cfg.Memory.MaxEntries < 1 {
		return errors.New("memory.max_entries must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
