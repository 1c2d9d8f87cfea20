//go:build !windows

package protocol

import (
	"log"
	"net"

	"golang.org/x/sys/unix"
)

// sendBufferBytes is the SO_SNDBUF target for outbound data sockets.
// ADC frames are bursty and small relative to a typical default kernel
// buffer, but a full-rate burst can still hit ENOBUFS under load.
const sendBufferBytes = 4 * 1024 * 1024

// tuneSendBuffer raises a UDP socket's send buffer the way
// pkg/dma/dma_linux.go raises F_SETPIPE_SZ on the capture pipe: best
// effort, logged but not fatal on failure.
func tuneSendBuffer(conn *net.UDPConn) {
	raw, err := conn.SyscallConn()
	if err != nil {
		log.Printf("protocol: syscallconn: %v", err)
		return
	}
	ctrlErr := raw.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, sendBufferBytes); err != nil {
			log.Printf("protocol: setsockopt SO_SNDBUF: %v", err)
		}
	})
	if ctrlErr != nil {
		log.Printf("protocol: raw control: %v", ctrlErr)
	}
}
