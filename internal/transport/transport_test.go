package transport

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"relaychat/internal/errors"
)

// TestTCPDialer_Connect verifies that TCPDialer can reach a local
// TCP server and exchange data.
func TestTCPDialer_Connect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	// Server: accept, send greeting, close.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("hello from server\n")) //nolint:errcheck
	}()

	d := &TCPDialer{Timeout: 2 * time.Second}
	conn, err := d.Dial(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "hello from server\n" {
		t.Errorf("got %q, want %q", got, "hello from server\n")
	}
}

// TestTCPDialer_LocalAddr verifies the source address binding that lets
// one machine appear as several hosts on loopback.
func TestTCPDialer_LocalAddr(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	remote := make(chan net.Addr, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		remote <- conn.RemoteAddr()
		conn.Close()
	}()

	d := &TCPDialer{Timeout: 2 * time.Second, LocalAddr: "127.0.0.7:0"}
	conn, err := d.Dial(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if got := (<-remote).(*net.TCPAddr).IP.String(); got != "127.0.0.7" {
		t.Errorf("server saw %s, want 127.0.0.7", got)
	}
}

// TestTCPDialer_Refused verifies that a refused dial is wrapped and
// classified as retryable.
func TestTCPDialer_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	d := &TCPDialer{Timeout: time.Second}
	_, err = d.Dial(context.Background(), "tcp", addr)
	if err == nil {
		t.Fatal("expected error dialing a closed port")
	}
	var ne *errors.NetworkError
	if !errors.As(err, &ne) || ne.Op != "dial" || ne.Addr != addr {
		t.Fatalf("err = %#v", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("connection refused should be retryable")
	}
}

func TestTCPDialer_BadLocalAddr(t *testing.T) {
	d := &TCPDialer{LocalAddr: "not an address"}
	_, err := d.Dial(context.Background(), "tcp", "127.0.0.1:1")
	if err == nil || !strings.Contains(err.Error(), "resolve") {
		t.Fatalf("err = %v", err)
	}
}

// TestTCPDialer_ContextCancel verifies that a cancelled context stops the dial.
func TestTCPDialer_ContextCancel(t *testing.T) {
	d := &TCPDialer{Timeout: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := d.Dial(ctx, "tcp", "127.0.0.1:1")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

// TestTCPDialer_Close verifies Close is a no-op and returns nil.
func TestTCPDialer_Close(t *testing.T) {
	d := &TCPDialer{}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
