package protocol

import (
	"bytes"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"

	"github.com/vaosim/virtualacousticocean/pkg/wire"
)

// UASPConfig configures a UASP daemon: one UDP socket carries
// newline-delimited JSON control lines, a second UDP socket on the next
// port number carries binary data frames in both directions: DAC frames
// in, ADC frames out (spec.md §4.5).
type UASPConfig struct {
	Client     Client
	ListenAddr string // command socket, e.g. ":9200"; data socket binds port+1
}

// uaspDaemon is the UDP command + UDP data framing (spec.md §4.5).
type uaspDaemon struct {
	client     Client
	listenAddr string

	cmdConn  *net.UDPConn
	dataConn *net.UDPConn

	mu       sync.Mutex
	cmdPeer  *net.UDPAddr // reply target: source of the most recent command
	dataPeer *net.UDPAddr // ADC data-out target: (client_host, client_dport) from istart
	handler  *controlHandler
	closed   bool
}

// NewUASP builds a UASP daemon. Call Run to bind and start serving.
func NewUASP(cfg UASPConfig) Daemon {
	return &uaspDaemon{
		client:     cfg.Client,
		listenAddr: cfg.ListenAddr,
	}
}

func (d *uaspDaemon) Run() error {
	cmdAddr, err := net.ResolveUDPAddr("udp", d.listenAddr)
	if err != nil {
		return fmt.Errorf("uasp: resolve %q: %w", d.listenAddr, err)
	}
	cmdConn, err := net.ListenUDP("udp", cmdAddr)
	if err != nil {
		return fmt.Errorf("uasp: listen command socket: %w", err)
	}
	d.cmdConn = cmdConn

	dataListenAddr, err := nextPortAddr(d.listenAddr)
	if err != nil {
		cmdConn.Close()
		return fmt.Errorf("uasp: derive data socket address: %w", err)
	}
	dataAddr, err := net.ResolveUDPAddr("udp", dataListenAddr)
	if err != nil {
		cmdConn.Close()
		return fmt.Errorf("uasp: resolve %q: %w", dataListenAddr, err)
	}
	dataConn, err := net.ListenUDP("udp", dataAddr)
	if err != nil {
		cmdConn.Close()
		return fmt.Errorf("uasp: listen data socket: %w", err)
	}
	tuneSendBuffer(dataConn)
	d.dataConn = dataConn

	d.handler = newControlHandler(d.client, d.onIStart, d.onIStop, d.sendJSON)

	go d.readLoop()
	go d.dataReadLoop()
	return nil
}

// nextPortAddr rewrites a "host:port" listen address to "host:port+1",
// per spec.md §4.5's `(ipaddr, baseport+1)` data socket.
func nextPortAddr(listenAddr string) (string, error) {
	host, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "", fmt.Errorf("split %q: %w", listenAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("bad port %q: %w", portStr, err)
	}
	return net.JoinHostPort(host, strconv.Itoa(port+1)), nil
}

// readLoop is the command-read thread: newline-delimited JSON lines,
// replies routed back to each packet's source address.
func (d *uaspDaemon) readLoop() {
	buf := make([]byte, 65536)
	for {
		n, addr, err := d.cmdConn.ReadFromUDP(buf)
		if err != nil {
			return // Socket closed.
		}
		line := bytes.TrimSpace(buf[:n])
		if len(line) == 0 {
			continue
		}
		d.mu.Lock()
		d.cmdPeer = addr
		d.mu.Unlock()
		d.handler.handleLine(line, addr.IP.String())
	}
}

// dataReadLoop is the (UASP only) data-in thread of spec.md §5: binary
// header-plus-samples DAC frames arriving on the second socket.
func (d *uaspDaemon) dataReadLoop() {
	buf := make([]byte, 65536)
	for {
		n, _, err := d.dataConn.ReadFromUDP(buf)
		if err != nil {
			return // Socket closed.
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		d.handler.appendDACFrame(frame)
	}
}

func (d *uaspDaemon) onIStart(host string, port int) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		log.Printf("uasp: istart with bad host/port %s:%d: %v", host, port, err)
		return
	}
	d.mu.Lock()
	d.dataPeer = addr
	d.mu.Unlock()
}

func (d *uaspDaemon) onIStop() {
	d.mu.Lock()
	d.dataPeer = nil
	d.mu.Unlock()
}

// sendJSON writes a command reply or notification back to the most
// recent command sender's source port (spec.md §4.5: "commands and
// notifications use the sender's source port as the reply target").
func (d *uaspDaemon) sendJSON(v interface{}) error {
	line, err := marshalLine(v)
	if err != nil {
		return err
	}
	d.mu.Lock()
	peer := d.cmdPeer
	d.mu.Unlock()
	if peer == nil {
		return nil
	}
	_, err = d.cmdConn.WriteToUDP(line, peer)
	return err
}

// Stream sends one ADC frame on the data socket to the (host, dport)
// most recently designated by "istart".
func (d *uaspDaemon) Stream(tUs int64, seqno uint64, block wire.Matrix) {
	if block.Samples() > 0xFFFF || block.Channels() > 0xFFFF {
		log.Printf("uasp: block %dx%d exceeds frame header capacity, dropping", block.Channels(), block.Samples())
		return
	}

	d.mu.Lock()
	peer := d.dataPeer
	d.mu.Unlock()
	if peer == nil {
		return
	}

	h := wire.FrameHeader{
		TimestampUs: uint64(tUs),
		Seqno:       uint32(seqno),
		NSamples:    uint16(block.Samples()),
		NChannels:   uint16(block.Channels()),
	}
	frame := wire.EncodeFrame(h, block)
	if _, err := d.dataConn.WriteToUDP(frame, peer); err != nil {
		log.Printf("uasp: stream write: %v", err)
	}
}

func (d *uaspDaemon) Event(tUs int64, name string, id string) {
	obj := map[string]interface{}{
		"event": name,
		"time":  tUs,
	}
	if id != "" {
		obj["id"] = id
	}
	if err := d.sendJSON(obj); err != nil {
		log.Printf("uasp: event write: %v", err)
	}
}

func (d *uaspDaemon) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	var firstErr error
	if d.cmdConn != nil {
		if err := d.cmdConn.Close(); err != nil {
			firstErr = err
		}
	}
	if d.dataConn != nil {
		if err := d.dataConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
