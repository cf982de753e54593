package config

import (
	"strings"
	"testing"
	"time"

	"relaychat/internal/errors"
)

// ── Defaults ─────────────────────────────────────────────────────────

func TestDefaultServer(t *testing.T) {
	cfg := DefaultServer()
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.ReconnectGrace != DefaultReconnectGrace {
		t.Errorf("ReconnectGrace = %v", cfg.ReconnectGrace)
	}
	if cfg.MaxFrame != DefaultMaxFrame {
		t.Errorf("MaxFrame = %d", cfg.MaxFrame)
	}
	if cfg.Verbose != 1 {
		t.Errorf("Verbose = %d, want 1", cfg.Verbose)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	if got := cfg.ListenAddr(); got != ":5050" {
		t.Errorf("ListenAddr = %q", got)
	}
}

func TestDefaultClient(t *testing.T) {
	cfg := DefaultClient()
	if cfg.Host != DefaultHost || cfg.Port != DefaultPort {
		t.Errorf("Addr = %s", cfg.Addr())
	}
	// A nick must be chosen explicitly.
	if err := cfg.Validate(); err == nil {
		t.Error("expected error without nick")
	}
	cfg.Nick = "alice"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got := cfg.Addr(); got != "127.0.0.1:5050" {
		t.Errorf("Addr = %q", got)
	}
}

// ── Server validation ────────────────────────────────────────────────

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*ServerConfig)
		field string
	}{
		{"ok", func(*ServerConfig) {}, ""},
		{"port zero", func(c *ServerConfig) { c.Port = 0 }, "port"},
		{"port high", func(c *ServerConfig) { c.Port = 70000 }, "port"},
		{"negative idle", func(c *ServerConfig) { c.IdleTimeout = -time.Second }, "idle-timeout"},
		{"negative grace", func(c *ServerConfig) { c.ReconnectGrace = -1 }, "reconnect-grace"},
		{"negative write", func(c *ServerConfig) { c.WriteTimeout = -1 }, "write-timeout"},
		{"negative frame", func(c *ServerConfig) { c.MaxFrame = -1 }, "max-frame"},
		{"zero grace ok", func(c *ServerConfig) { c.ReconnectGrace = 0 }, ""},
		{"admin no port", func(c *ServerConfig) { c.Admin = "localhost" }, "admin"},
		{"admin ok", func(c *ServerConfig) { c.Admin = "127.0.0.1:9090" }, ""},
		{"verbose high", func(c *ServerConfig) { c.Verbose = 4 }, "verbose"},
		{"quiet ok", func(c *ServerConfig) { c.Verbose = 0; c.Quiet = true }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServer()
			tt.edit(cfg)
			checkField(t, cfg.Validate(), tt.field)
		})
	}
}

// ── Client validation ────────────────────────────────────────────────

func TestClientConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*ClientConfig)
		field string
	}{
		{"ok", func(*ClientConfig) {}, ""},
		{"no host", func(c *ClientConfig) { c.Host = "" }, "host"},
		{"bad port", func(c *ClientConfig) { c.Port = -1 }, "port"},
		{"no nick", func(c *ClientConfig) { c.Nick = "" }, "nick"},
		{"zero attempts", func(c *ClientConfig) { c.ConnectAttempts = 0 }, "attempts"},
		{"negative history", func(c *ClientConfig) { c.History = -5 }, "history"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultClient()
			cfg.Nick = "bob"
			tt.edit(cfg)
			checkField(t, cfg.Validate(), tt.field)
		})
	}
}

func TestValidateNick(t *testing.T) {
	tests := []struct {
		nick string
		ok   bool
	}{
		{"alice", true},
		{"Zoë", true},
		{"a-b_c.d", true},
		{"", false},
		{"two words", false},
		{"tab\there", false},
		{"bell\a", false},
		{string([]byte{0xff, 0xfe}), false},
		{strings.Repeat("x", MaxNickLength), true},
		{strings.Repeat("x", MaxNickLength+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.nick, func(t *testing.T) {
			err := ValidateNick(tt.nick)
			if (err == nil) != tt.ok {
				t.Errorf("ValidateNick(%q) = %v, want ok=%v", tt.nick, err, tt.ok)
			}
		})
	}
}

func TestValidate_HintInMessage(t *testing.T) {
	cfg := DefaultClient()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "hint:") {
		t.Errorf("missing hint: %q", err.Error())
	}
}

func checkField(t *testing.T, err error, field string) {
	t.Helper()
	if field == "" {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		return
	}
	var ce *errors.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
	if ce.Field != field {
		t.Errorf("Field = %q, want %q", ce.Field, field)
	}
}
