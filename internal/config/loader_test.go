package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "8095" {
		t.Errorf("expected default port 8095, got %q", cfg.Server.Port)
	}
	if cfg.Worker.MaxCrashes != 5 {
		t.Errorf("expected default max_crashes 5, got %d", cfg.Worker.MaxCrashes)
	}
	if cfg.Broker.CallTimeout != 30*time.Second {
		t.Errorf("expected default call timeout 30s, got %s", cfg.Broker.CallTimeout)
	}
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agenthost.yaml")
	yaml := `
server:
  port: "9000"
worker:
  command: custom-worker
  max_crashes: 3
policy:
  allow: [fs.read, fs.write]
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "9000" {
		t.Errorf("expected port 9000, got %q", cfg.Server.Port)
	}
	if cfg.Worker.Command != "custom-worker" {
		t.Errorf("expected custom-worker, got %q", cfg.Worker.Command)
	}
	if len(cfg.Policy.Allow) != 2 || cfg.Policy.Allow[0] != "fs.read" {
		t.Errorf("unexpected allow list: %v", cfg.Policy.Allow)
	}
	// Untouched sections keep defaults.
	if cfg.Worker.CrashWindow != 60*time.Second {
		t.Errorf("expected default crash window, got %s", cfg.Worker.CrashWindow)
	}
}

func TestLoadFromEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agenthost.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9000\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AGENTHOST_PORT", "9100")
	t.Setenv("AGENTHOST_WORKER_ENV_ALLOWLIST", "PATH, HOME ,LANG")
	t.Setenv("AGENTHOST_BROKER_CALL_TIMEOUT", "10s")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "9100" {
		t.Errorf("env should win over yaml, got %q", cfg.Server.Port)
	}
	want := []string{"PATH", "HOME", "LANG"}
	if len(cfg.Worker.EnvAllowlist) != len(want) {
		t.Fatalf("unexpected allowlist: %v", cfg.Worker.EnvAllowlist)
	}
	for i, v := range want {
		if cfg.Worker.EnvAllowlist[i] != v {
			t.Errorf("allowlist[%d] = %q, want %q", i, cfg.Worker.EnvAllowlist[i], v)
		}
	}
	if cfg.Broker.CallTimeout != 10*time.Second {
		t.Errorf("expected 10s call timeout, got %s", cfg.Broker.CallTimeout)
	}
}

func TestLoadFromInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agenthost.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected parse error, got nil")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errStr string
	}{
		{
			name:   "missing port",
			modify: func(c *Config) { c.Server.Port = "" },
			errStr: "server.port is required",
		},
		{
			name:   "missing worker command",
			modify: func(c *Config) { c.Worker.Command = "" },
			errStr: "worker.command is required",
		},
		{
			name:   "zero max crashes",
			modify: func(c *Config) { c.Worker.MaxCrashes = 0 },
			errStr: "worker.max_crashes must be >= 1",
		},
		{
			name:   "zero call timeout",
			modify: func(c *Config) { c.Broker.CallTimeout = 0 },
			errStr: "broker.call_timeout must be > 0",
		},
		{
			name:   "zero memory entries",
			modify: func(c *Config) { c.Memory.MaxEntries = 0 },
			errStr: "memory.max_entries must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errStr) {
				t.Errorf("expected error containing %q, got %q", tt.errStr, err.Error())
			}
		})
	}
}
