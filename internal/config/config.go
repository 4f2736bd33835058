package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds all runtime configuration. Values load from an optional
// YAML file named by TANDEM_CONFIG, then environment variables override.
type Config struct {
	// Server
	Port int `yaml:"port"`

	// Worker isolation: "process" runs each worker as a child OS process
	// (crash isolation), "inproc" runs them over in-process pipes.
	WorkerMode string `yaml:"worker_mode"`

	// Redundancy pair
	RingCapacity     int           `yaml:"ring_capacity"`     // blocks per slot ring
	QueueCapacity    int           `yaml:"queue_capacity"`    // commands per slot queue
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"` // staleness = crash
	PollInterval     time.Duration `yaml:"poll_interval"`     // liveness poll
	WarmupBlocks     int           `yaml:"warmup_blocks"`     // priming length
	PrimeTimeout     time.Duration `yaml:"prime_timeout"`     // patch commit bound
	RespawnAttempts  int           `yaml:"respawn_attempts"`

	// Monitor output
	OpusBitrate int `yaml:"opus_bitrate"`
}

// Load reads configuration with sane defaults: YAML file first (if
// TANDEM_CONFIG is set), environment variables last.
func Load() (Config, error) {
	cfg := Config{
		Port:             8080,
		WorkerMode:       "process",
		RingCapacity:     8,
		QueueCapacity:    64,
		HeartbeatTimeout: 25 * time.Millisecond,
		PollInterval:     2 * time.Millisecond,
		WarmupBlocks:     16,
		PrimeTimeout:     500 * time.Millisecond,
		RespawnAttempts:  3,
		OpusBitrate:      96000,
	}

	if path := os.Getenv("TANDEM_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Port = envInt("TANDEM_PORT", cfg.Port)
	cfg.WorkerMode = envStr("TANDEM_WORKER_MODE", cfg.WorkerMode)
	cfg.RingCapacity = envInt("TANDEM_RING_CAPACITY", cfg.RingCapacity)
	cfg.QueueCapacity = envInt("TANDEM_QUEUE_CAPACITY", cfg.QueueCapacity)
	cfg.HeartbeatTimeout = envDur("TANDEM_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)
	cfg.PollInterval = envDur("TANDEM_POLL_INTERVAL", cfg.PollInterval)
	cfg.WarmupBlocks = envInt("TANDEM_WARMUP_BLOCKS", cfg.WarmupBlocks)
	cfg.PrimeTimeout = envDur("TANDEM_PRIME_TIMEOUT", cfg.PrimeTimeout)
	cfg.RespawnAttempts = envInt("TANDEM_RESPAWN_ATTEMPTS", cfg.RespawnAttempts)
	cfg.OpusBitrate = envInt("TANDEM_OPUS_BITRATE", cfg.OpusBitrate)

	if cfg.WorkerMode != "process" && cfg.WorkerMode != "inproc" {
		return cfg, fmt.Errorf("invalid worker_mode %q (want process or inproc)", cfg.WorkerMode)
	}
	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
