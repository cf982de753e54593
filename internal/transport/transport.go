// Package transport opens the client's outbound connection.  It keeps
// the how of reaching a server (timeouts, source binding, keepalive)
// apart from the chat protocol spoken over it.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound network connections.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer.
	// Stateless dialers return nil.
	Close() error
}
