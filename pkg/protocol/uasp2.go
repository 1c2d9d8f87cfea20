package protocol

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"

	"github.com/vaosim/virtualacousticocean/pkg/wire"
)

// UASP2Config configures a UASP2 daemon: a TCP listener carries
// newline-delimited JSON control lines per connection; outbound ADC
// frames go out over a single shared UDP socket to whichever peer most
// recently sent "istart" on any connection.
type UASP2Config struct {
	Client        Client
	CommandAddr   string // TCP listen address, e.g. ":9210"
	DataListen    string // UDP local address for outbound frames, e.g. ":0"
}

type uasp2Daemon struct {
	client      Client
	commandAddr string
	dataListen  string

	listener net.Listener
	dataConn *net.UDPConn

	mu     sync.Mutex
	peer   *net.UDPAddr
	conns  map[net.Conn]struct{}
	closed bool
}

// NewUASP2 builds a UASP2 daemon. Call Run to bind and start serving.
func NewUASP2(cfg UASP2Config) Daemon {
	return &uasp2Daemon{
		client:      cfg.Client,
		commandAddr: cfg.CommandAddr,
		dataListen:  cfg.DataListen,
		conns:       make(map[net.Conn]struct{}),
	}
}

func (d *uasp2Daemon) Run() error {
	ln, err := net.Listen("tcp", d.commandAddr)
	if err != nil {
		return fmt.Errorf("uasp2: listen tcp: %w", err)
	}
	d.listener = ln

	dataAddr, err := net.ResolveUDPAddr("udp", d.dataListen)
	if err != nil {
		return fmt.Errorf("uasp2: resolve data addr: %w", err)
	}
	dataConn, err := net.ListenUDP("udp", dataAddr)
	if err != nil {
		return fmt.Errorf("uasp2: listen udp: %w", err)
	}
	tuneSendBuffer(dataConn)
	d.dataConn = dataConn

	go d.acceptLoop()
	return nil
}

func (d *uasp2Daemon) acceptLoop() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return // Listener closed.
		}
		d.mu.Lock()
		d.conns[conn] = struct{}{}
		d.mu.Unlock()
		go d.serveConn(conn)
	}
}

func (d *uasp2Daemon) serveConn(conn net.Conn) {
	defer func() {
		d.mu.Lock()
		delete(d.conns, conn)
		d.mu.Unlock()
		conn.Close()
	}()

	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	send := func(v interface{}) error {
		line, err := marshalLine(v)
		if err != nil {
			return err
		}
		_, err = conn.Write(line)
		return err
	}

	handler := newControlHandler(d.client, func(_ string, port int) {
		d.onIStart(host, port)
	}, d.onIStop, send)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		handler.handleLine([]byte(line), host)
	}
}

func (d *uasp2Daemon) onIStart(host string, port int) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		log.Printf("uasp2: istart with bad host/port %s:%d: %v", host, port, err)
		return
	}
	d.mu.Lock()
	d.peer = addr
	d.mu.Unlock()
}

func (d *uasp2Daemon) onIStop() {
	d.mu.Lock()
	d.peer = nil
	d.mu.Unlock()
}

func (d *uasp2Daemon) Stream(tUs int64, seqno uint64, block wire.Matrix) {
	if block.Samples() > 0xFFFF || block.Channels() > 0xFFFF {
		log.Printf("uasp2: block %dx%d exceeds frame header capacity, dropping", block.Channels(), block.Samples())
		return
	}

	d.mu.Lock()
	peer := d.peer
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
		log.Printf("uasp2: stream write: %v", err)
	}
}

func (d *uasp2Daemon) Event(tUs int64, name string, id string) {
	obj := map[string]interface{}{
		"event": name,
		"time":  tUs,
	}
	if id != "" {
		obj["id"] = id
	}
	line, err := marshalLine(obj)
	if err != nil {
		return
	}

	d.mu.Lock()
	conns := make([]net.Conn, 0, len(d.conns))
	for c := range d.conns {
		conns = append(conns, c)
	}
	d.mu.Unlock()

	for _, c := range conns {
		if _, err := c.Write(line); err != nil {
			log.Printf("uasp2: event write: %v", err)
		}
	}
}

func (d *uasp2Daemon) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	conns := make([]net.Conn, 0, len(d.conns))
	for c := range d.conns {
		conns = append(conns, c)
	}
	d.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	if d.listener != nil {
		d.listener.Close()
	}
	if d.dataConn != nil {
		return d.dataConn.Close()
	}
	return nil
}
