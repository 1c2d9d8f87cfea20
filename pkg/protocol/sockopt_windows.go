//go:build windows

package protocol

import "net"

// tuneSendBuffer is a no-op on Windows: golang.org/x/sys/unix's
// SetsockoptInt is unavailable there and the default winsock send
// buffer has been sufficient in practice.
func tuneSendBuffer(conn *net.UDPConn) {}
