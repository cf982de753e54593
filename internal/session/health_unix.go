//go:build unix

package session

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// socketTimedOut reads the pending socket error and reports whether it
// is ETIMEDOUT, which is what a failed TCP keepalive leaves behind.
func socketTimedOut(conn net.Conn) bool {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return false
	}

	var soErr int
	var getErr error
	if err := raw.Control(func(fd uintptr) {
		soErr, getErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
	}); err != nil {
		return false
	}
	return getErr == nil && syscall.Errno(soErr) == unix.ETIMEDOUT
}
