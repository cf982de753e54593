package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the RELAYCHAT_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// syntax ("30s", "2m") or a bare number of seconds.

// LoadServerEnv overlays environment variables onto cfg.  Only
// non-empty, well-formed values override.  Call it BEFORE flag parsing
// so that flags take precedence.
func LoadServerEnv(cfg *ServerConfig) {
	if v := envInt("RELAYCHAT_PORT"); v > 0 {
		cfg.Port = v
	}
	if v := os.Getenv("RELAYCHAT_ADMIN"); v != "" {
		cfg.Admin = v
	}
	if v, ok := envDuration("RELAYCHAT_IDLE_TIMEOUT"); ok {
		cfg.IdleTimeout = v
	}
	if v, ok := envDuration("RELAYCHAT_KEEPALIVE"); ok {
		cfg.KeepAlive = v
	}
	if v, ok := envDuration("RELAYCHAT_RECONNECT_GRACE"); ok {
		cfg.ReconnectGrace = v
	}
	if v, ok := envDuration("RELAYCHAT_WRITE_TIMEOUT"); ok {
		cfg.WriteTimeout = v
	}
	if v := envInt("RELAYCHAT_MAX_FRAME"); v > 0 {
		cfg.MaxFrame = v
	}
	loadOutputEnv(&cfg.Output)
}

// LoadClientEnv overlays environment variables onto cfg.
func LoadClientEnv(cfg *ClientConfig) {
	if v := os.Getenv("RELAYCHAT_HOST"); v != "" {
		cfg.Host = v
	}
	if v := envInt("RELAYCHAT_PORT"); v > 0 {
		cfg.Port = v
	}
	if v := os.Getenv("RELAYCHAT_NICK"); v != "" {
		cfg.Nick = v
	}
	if v, ok := envDuration("RELAYCHAT_CONNECT_TIMEOUT"); ok {
		cfg.ConnectTimeout = v
	}
	if v := envInt("RELAYCHAT_CONNECT_ATTEMPTS"); v > 0 {
		cfg.ConnectAttempts = v
	}
	loadOutputEnv(&cfg.Output)
}

func loadOutputEnv(o *Output) {
	if v := envInt("RELAYCHAT_VERBOSE"); v > 0 {
		o.Verbose = v
	}
	if envBool("RELAYCHAT_QUIET") {
		o.Quiet = true
	}
	if v := os.Getenv("RELAYCHAT_LOGS"); v != "" {
		o.LogDir = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	if sec, err := strconv.Atoi(v); err == nil {
		return time.Duration(sec) * time.Second, true
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
