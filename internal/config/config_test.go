package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "teamflow.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSubstitutesEnv(t *testing.T) {
	t.Setenv("TEAMFLOW_PORT", "9000")
	t.Setenv("TEAMFLOW_REDIS", "")
	path := writeConfig(t, `{
		"server": {"port": ${TEAMFLOW_PORT:3210}, "log_level": "${TEAMFLOW_LOG:debug}"},
		"database": {"redis": {"url": "${TEAMFLOW_REDIS:redis://localhost:6379}"}},
		"worker": {"type": "simulated", "delay_ms": 250}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.Server.LogLevel)
	}
	if cfg.Database.Redis.URL != "redis://localhost:6379" {
		t.Errorf("redis url = %q", cfg.Database.Redis.URL)
	}
	if cfg.Worker.Delay() != 250*time.Millisecond {
		t.Errorf("delay = %v", cfg.Worker.Delay())
	}
	if cfg.Worker.Timeout() != 2*time.Minute {
		t.Errorf("timeout = %v", cfg.Worker.Timeout())
	}
	if cfg.MigrationsDir != "migrations" {
		t.Errorf("migrations dir = %q", cfg.MigrationsDir)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"remote without endpoint": `{"worker": {"type": "remote"}}`,
		"unknown worker":          `{"worker": {"type": "llm"}}`,
		"slack without target":    `{"notify": {"slack": {"enabled": true}}}`,
		"bad json":                `{"server": `,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 3210 || cfg.Worker.Type != WorkerSimulated {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}
