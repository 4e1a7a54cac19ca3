package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_EnvOnlyDefaults(t *testing.T) {
	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Fatalf("max_retries=%d want 3", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.BaseDelay != time.Second {
		t.Fatalf("base_delay=%s want 1s", cfg.Retry.BaseDelay)
	}
	if cfg.Lifecycle.StepDelay != 5*time.Second {
		t.Fatalf("step_delay=%s want 5s", cfg.Lifecycle.StepDelay)
	}
	if cfg.Queue.Workers != 8 {
		t.Fatalf("workers=%d want 8", cfg.Queue.Workers)
	}
	if len(cfg.Server.WSOriginPatterns) != 1 || cfg.Server.WSOriginPatterns[0] != "*" {
		t.Fatalf("ws_origin_patterns=%v want [*]", cfg.Server.WSOriginPatterns)
	}
	if cfg.Server.WSWriteTimeout != 5*time.Second {
		t.Fatalf("ws_write_timeout=%s want 5s", cfg.Server.WSWriteTimeout)
	}
	if cfg.Sweeper.MaxSweeps != 3 {
		t.Fatalf("max_sweeps=%d want 3", cfg.Sweeper.MaxSweeps)
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("queue:\n  backend: memory\n  workers: 2\nlifecycle:\n  step_delay: 2s\n  close_delay: 7s\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TS_QUEUE_WORKERS", "4")

	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if cfg.Queue.Backend != "memory" {
		t.Fatalf("backend=%q want memory", cfg.Queue.Backend)
	}
	if cfg.Queue.Workers != 4 {
		t.Fatalf("workers=%d want env override 4", cfg.Queue.Workers)
	}
	executeDelay, closeDelay := cfg.Lifecycle.Delays()
	if executeDelay != 2*time.Second || closeDelay != 7*time.Second {
		t.Fatalf("delays=%s/%s want 2s/7s", executeDelay, closeDelay)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), false); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
