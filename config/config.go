// Package config defines the runtime configuration for the relaychat
// server and client, with defaults, environment overlays and
// validation.  The core packages receive these as plain values and
// never read argv or the environment themselves.
package config

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"relaychat/internal/errors"
	"relaychat/util"
)

// Output holds the logging options shared by both binaries.
type Output struct {
	Verbose int    // -v count: 1 normal, 2 verbose, 3 debug
	Quiet   bool   // errors only, or log-file only with LogDir
	LogDir  string // also write logs under this directory
}

// ServerConfig holds every tuneable for a chat server.
type ServerConfig struct {
	// ── Listener ─────────────────────────────────────────────────────
	Port  int
	Admin string // admin HTTP address; empty disables it

	// ── Sessions ─────────────────────────────────────────────────────
	IdleTimeout    time.Duration
	KeepAlive      time.Duration
	ReconnectGrace time.Duration
	WriteTimeout   time.Duration
	MaxFrame       int

	Output
}

// ClientConfig holds every tuneable for a chat client.
type ClientConfig struct {
	Host string
	Port int
	Nick string

	ConnectTimeout  time.Duration
	ConnectAttempts int
	WriteTimeout    time.Duration
	History         int

	Output
}

// DefaultServer returns a server config populated from defaults.go.
func DefaultServer() *ServerConfig {
	return &ServerConfig{
		Port:           DefaultPort,
		IdleTimeout:    DefaultIdleTimeout,
		KeepAlive:      DefaultKeepAlive,
		ReconnectGrace: DefaultReconnectGrace,
		WriteTimeout:   DefaultWriteTimeout,
		MaxFrame:       DefaultMaxFrame,
		Output:         Output{Verbose: 1},
	}
}

// DefaultClient returns a client config populated from defaults.go.
func DefaultClient() *ClientConfig {
	return &ClientConfig{
		Host:            DefaultHost,
		Port:            DefaultPort,
		ConnectTimeout:  DefaultConnectTimeout,
		ConnectAttempts: DefaultConnectAttempts,
		WriteTimeout:    DefaultWriteTimeout,
		History:         DefaultHistory,
		Output:          Output{Verbose: 1},
	}
}

// ListenAddr is the server's TCP listen address.
func (c *ServerConfig) ListenAddr() string { return util.ListenAddr(c.Port) }

// Addr is the address the client dials.
func (c *ClientConfig) Addr() string { return util.FormatAddr(c.Host, c.Port) }

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the server configuration is usable.
func (c *ServerConfig) Validate() error {
	if !util.ValidPort(c.Port) {
		return &errors.ConfigError{
			Field: "port", Value: c.Port,
			Message: "must be between 1 and 65535",
			Hint:    fmt.Sprintf("the default chat port is %d", DefaultPort),
		}
	}
	for _, d := range []struct {
		field string
		v     time.Duration
	}{
		{"idle-timeout", c.IdleTimeout},
		{"reconnect-grace", c.ReconnectGrace},
		{"write-timeout", c.WriteTimeout},
	} {
		if d.v < 0 {
			return &errors.ConfigError{Field: d.field, Value: d.v, Message: "must not be negative", Hint: "use 0 to disable"}
		}
	}
	if c.MaxFrame < 0 {
		return &errors.ConfigError{Field: "max-frame", Value: c.MaxFrame, Message: "must not be negative", Hint: "use 0 for no limit"}
	}
	if c.Admin != "" && !strings.Contains(c.Admin, ":") {
		return &errors.ConfigError{
			Field: "admin", Value: c.Admin,
			Message: "must be a host:port address",
			Hint:    "e.g. --admin 127.0.0.1:9090",
		}
	}
	return c.Output.validate()
}

// Validate checks that the client configuration is usable.
func (c *ClientConfig) Validate() error {
	if c.Host == "" {
		return &errors.ConfigError{Field: "host", Message: "is required", Hint: "pass --host or set RELAYCHAT_HOST"}
	}
	if !util.ValidPort(c.Port) {
		return &errors.ConfigError{
			Field: "port", Value: c.Port,
			Message: "must be between 1 and 65535",
			Hint:    fmt.Sprintf("the default chat port is %d", DefaultPort),
		}
	}
	if err := ValidateNick(c.Nick); err != nil {
		return err
	}
	if c.ConnectAttempts < 1 {
		return &errors.ConfigError{Field: "attempts", Value: c.ConnectAttempts, Message: "must be at least 1"}
	}
	if c.History < 0 {
		return &errors.ConfigError{Field: "history", Value: c.History, Message: "must not be negative", Hint: "use 0 to keep everything"}
	}
	return c.Output.validate()
}

// ValidateNick checks a nickname chosen on the command line.
func ValidateNick(nick string) error {
	switch {
	case nick == "":
		return &errors.ConfigError{Field: "nick", Message: "is required", Hint: "pass --nick NAME or set RELAYCHAT_NICK"}
	case !utf8.ValidString(nick):
		return &errors.ConfigError{Field: "nick", Value: nick, Message: "is not valid UTF-8"}
	case utf8.RuneCountInString(nick) > MaxNickLength:
		return &errors.ConfigError{Field: "nick", Value: nick, Message: fmt.Sprintf("is longer than %d characters", MaxNickLength)}
	case strings.IndexFunc(nick, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0:
		return &errors.ConfigError{Field: "nick", Value: nick, Message: "must not contain spaces or control characters"}
	}
	return nil
}

func (o Output) validate() error {
	if o.Verbose < 0 || o.Verbose > int(util.LogDebug) {
		return &errors.ConfigError{Field: "verbose", Value: o.Verbose, Message: "must be between 0 and 3", Hint: "use -v, -vv or -vvv"}
	}
	return nil
}
