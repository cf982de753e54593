package config

import (
	"testing"
	"time"
)

func TestLoadServerEnv(t *testing.T) {
	t.Setenv("RELAYCHAT_PORT", "6000")
	t.Setenv("RELAYCHAT_ADMIN", "127.0.0.1:9090")
	t.Setenv("RELAYCHAT_IDLE_TIMEOUT", "90")
	t.Setenv("RELAYCHAT_RECONNECT_GRACE", "2m")
	t.Setenv("RELAYCHAT_MAX_FRAME", "4096")
	t.Setenv("RELAYCHAT_VERBOSE", "3")
	t.Setenv("RELAYCHAT_QUIET", "yes")
	t.Setenv("RELAYCHAT_LOGS", "/tmp/relay")

	cfg := DefaultServer()
	LoadServerEnv(cfg)

	if cfg.Port != 6000 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.Admin != "127.0.0.1:9090" {
		t.Errorf("Admin = %q", cfg.Admin)
	}
	if cfg.IdleTimeout != 90*time.Second {
		t.Errorf("IdleTimeout = %v", cfg.IdleTimeout)
	}
	if cfg.ReconnectGrace != 2*time.Minute {
		t.Errorf("ReconnectGrace = %v", cfg.ReconnectGrace)
	}
	if cfg.MaxFrame != 4096 {
		t.Errorf("MaxFrame = %d", cfg.MaxFrame)
	}
	if cfg.Verbose != 3 || !cfg.Quiet || cfg.LogDir != "/tmp/relay" {
		t.Errorf("Output = %+v", cfg.Output)
	}
}

func TestLoadClientEnv(t *testing.T) {
	t.Setenv("RELAYCHAT_HOST", "chat.example.com")
	t.Setenv("RELAYCHAT_PORT", "7000")
	t.Setenv("RELAYCHAT_NICK", "carol")
	t.Setenv("RELAYCHAT_CONNECT_TIMEOUT", "3s")
	t.Setenv("RELAYCHAT_CONNECT_ATTEMPTS", "9")

	cfg := DefaultClient()
	LoadClientEnv(cfg)

	if cfg.Addr() != "chat.example.com:7000" {
		t.Errorf("Addr = %q", cfg.Addr())
	}
	if cfg.Nick != "carol" {
		t.Errorf("Nick = %q", cfg.Nick)
	}
	if cfg.ConnectTimeout != 3*time.Second || cfg.ConnectAttempts != 9 {
		t.Errorf("connect = %v x%d", cfg.ConnectTimeout, cfg.ConnectAttempts)
	}
}

func TestLoadEnv_IgnoresMalformed(t *testing.T) {
	t.Setenv("RELAYCHAT_PORT", "not-a-number")
	t.Setenv("RELAYCHAT_RECONNECT_GRACE", "soon")
	t.Setenv("RELAYCHAT_QUIET", "maybe")

	cfg := DefaultServer()
	LoadServerEnv(cfg)

	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want default", cfg.Port)
	}
	if cfg.ReconnectGrace != DefaultReconnectGrace {
		t.Errorf("ReconnectGrace = %v, want default", cfg.ReconnectGrace)
	}
	if cfg.Quiet {
		t.Error("Quiet should stay false")
	}
}

func TestEnvDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"", 0, false},
		{"15", 15 * time.Second, true},
		{"0", 0, true},
		{"250ms", 250 * time.Millisecond, true},
		{"1h", time.Hour, true},
		{"later", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Setenv("RELAYCHAT_TEST_DURATION", tt.in)
			got, ok := envDuration("RELAYCHAT_TEST_DURATION")
			if got != tt.want || ok != tt.ok {
				t.Errorf("envDuration(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
