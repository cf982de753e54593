package util

import (
	"fmt"
	"net"
	"strconv"
)

// ValidPort reports whether p is usable as a TCP port.
func ValidPort(p int) bool { return p >= 1 && p <= 65535 }

// FormatAddr returns "host:port", bracketing IPv6 hosts.
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ListenAddr returns the wildcard listen address for port.
func ListenAddr(port int) string {
	return FormatAddr("", port)
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
