package transport

import (
	"context"
	"net"
	"time"

	"relaychat/internal/errors"
)

// TCPDialer establishes plain TCP connections, optionally from a fixed
// local address.
type TCPDialer struct {
	Timeout time.Duration
	// KeepAlive is the TCP keepalive period (0 = system default,
	// negative disables).
	KeepAlive time.Duration
	// LocalAddr binds the source side, e.g. "127.0.0.2:0".  Empty
	// lets the kernel choose.
	LocalAddr string
}

// Dial connects to address over TCP.  Failures are returned as
// *errors.NetworkError so callers can ask whether a retry may help.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}

	if d.LocalAddr != "" {
		a, err := net.ResolveTCPAddr(network, d.LocalAddr)
		if err != nil {
			return nil, errors.Wrap("resolve", d.LocalAddr, err)
		}
		dialer.LocalAddr = a
	}

	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, errors.Wrap("dial", address, err)
	}
	return conn, nil
}

// Close is a no-op for stateless TCP dialers.
func (d *TCPDialer) Close() error { return nil }
