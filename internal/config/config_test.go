package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"TANDEM_CONFIG", "TANDEM_PORT", "TANDEM_WORKER_MODE",
		"TANDEM_RING_CAPACITY", "TANDEM_QUEUE_CAPACITY",
		"TANDEM_HEARTBEAT_TIMEOUT", "TANDEM_POLL_INTERVAL",
		"TANDEM_WARMUP_BLOCKS", "TANDEM_PRIME_TIMEOUT",
		"TANDEM_RESPAWN_ATTEMPTS", "TANDEM_OPUS_BITRATE",
	}
	for _, k := range envVars {
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.WorkerMode != "process" {
		t.Errorf("WorkerMode = %q, want 'process'", cfg.WorkerMode)
	}
	if cfg.RingCapacity != 8 {
		t.Errorf("RingCapacity = %d, want 8", cfg.RingCapacity)
	}
	if cfg.QueueCapacity != 64 {
		t.Errorf("QueueCapacity = %d, want 64", cfg.QueueCapacity)
	}
	if cfg.HeartbeatTimeout != 25*time.Millisecond {
		t.Errorf("HeartbeatTimeout = %v, want 25ms", cfg.HeartbeatTimeout)
	}
	if cfg.PollInterval != 2*time.Millisecond {
		t.Errorf("PollInterval = %v, want 2ms", cfg.PollInterval)
	}
	if cfg.WarmupBlocks != 16 {
		t.Errorf("WarmupBlocks = %d, want 16", cfg.WarmupBlocks)
	}
	if cfg.PrimeTimeout != 500*time.Millisecond {
		t.Errorf("PrimeTimeout = %v, want 500ms", cfg.PrimeTimeout)
	}
	if cfg.RespawnAttempts != 3 {
		t.Errorf("RespawnAttempts = %d, want 3", cfg.RespawnAttempts)
	}
	if cfg.OpusBitrate != 96000 {
		t.Errorf("OpusBitrate = %d, want 96000", cfg.OpusBitrate)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TANDEM_PORT", "3000")
	t.Setenv("TANDEM_WORKER_MODE", "inproc")
	t.Setenv("TANDEM_RING_CAPACITY", "16")
	t.Setenv("TANDEM_HEARTBEAT_TIMEOUT", "40ms")
	t.Setenv("TANDEM_PRIME_TIMEOUT", "1s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.WorkerMode != "inproc" {
		t.Errorf("WorkerMode = %q, want 'inproc'", cfg.WorkerMode)
	}
	if cfg.RingCapacity != 16 {
		t.Errorf("RingCapacity = %d, want 16", cfg.RingCapacity)
	}
	if cfg.HeartbeatTimeout != 40*time.Millisecond {
		t.Errorf("HeartbeatTimeout = %v, want 40ms", cfg.HeartbeatTimeout)
	}
	if cfg.PrimeTimeout != time.Second {
		t.Errorf("PrimeTimeout = %v, want 1s", cfg.PrimeTimeout)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "tandem.yaml")
	data := []byte("port: 9090\nworker_mode: inproc\nwarmup_blocks: 32\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TANDEM_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090 from file", cfg.Port)
	}
	if cfg.WorkerMode != "inproc" {
		t.Errorf("WorkerMode = %q, want 'inproc' from file", cfg.WorkerMode)
	}
	if cfg.WarmupBlocks != 32 {
		t.Errorf("WarmupBlocks = %d, want 32 from file", cfg.WarmupBlocks)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "tandem.yaml")
	if err := os.WriteFile(path, []byte("port: 9090\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TANDEM_CONFIG", path)
	t.Setenv("TANDEM_PORT", "7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != 7070 {
		t.Errorf("Port = %d, want env 7070 over file 9090", cfg.Port)
	}
}

func TestEnvIntInvalidFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("TANDEM_PORT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Invalid int env should fall back to default: got %d, want 8080", cfg.Port)
	}
}

func TestInvalidWorkerMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("TANDEM_WORKER_MODE", "threads")

	if _, err := Load(); err == nil {
		t.Error("Load() with invalid worker_mode should error")
	}
}
