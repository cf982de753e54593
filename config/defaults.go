package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags and environment variable loading.

const (
	// DefaultPort is the chat port for both server and client.
	DefaultPort = 5050

	// DefaultHost is where the client connects when no host is given.
	DefaultHost = "127.0.0.1"

	// DefaultWriteTimeout bounds a single frame write, so one stalled
	// peer cannot hold up a broadcast for long.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultKeepAlive is the TCP keepalive period on accepted sockets.
	// A failed keepalive is what marks a session as timed out.
	DefaultKeepAlive = 15 * time.Second

	// DefaultIdleTimeout disables the read idle timeout; chat sessions
	// may sit silent for hours.
	DefaultIdleTimeout = 0

	// DefaultReconnectGrace is how long a timed-out session waits for
	// its host to reconnect before it is dropped.
	DefaultReconnectGrace = 30 * time.Second

	// DefaultMaxFrame caps a single frame (1 MiB).
	DefaultMaxFrame = 1 << 20

	// DefaultConnectTimeout is the client's per-attempt dial timeout.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultConnectAttempts is how many times the client dials before
	// giving up.
	DefaultConnectAttempts = 5

	// DefaultHistory is how many chat lines the client keeps.
	DefaultHistory = 1000

	// MaxNickLength bounds nicknames accepted by the client.
	MaxNickLength = 32
)
