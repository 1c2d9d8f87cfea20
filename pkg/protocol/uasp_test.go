package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"testing"
	"time"

	"github.com/vaosim/virtualacousticocean/pkg/wire"
)

// pickPort finds a currently-free UDP port by binding to :0 and releasing
// it immediately, so the caller can predict the (baseport, baseport+1)
// pair a uaspDaemon will bind.
func pickPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("pick port: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func newRunningUASP(t *testing.T, client Client) (*uaspDaemon, int) {
	t.Helper()
	port := pickPort(t)
	d := NewUASP(UASPConfig{Client: client, ListenAddr: fmt.Sprintf("127.0.0.1:%d", port)}).(*uaspDaemon)
	if err := d.Run(); err != nil {
		t.Fatalf("run uasp: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d, port
}

func TestUASPVersionRepliesToSenderWithoutIStart(t *testing.T) {
	client := newFakeClient()
	_, cmdPort := newRunningUASP(t, client)

	sender, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: cmdPort})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sender.Close()

	if _, err := sender.Write([]byte(`{"action":"version","id":1}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	sender.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, from, err := sender.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected a version reply even without istart, got: %v", err)
	}
	if from.Port != cmdPort {
		t.Fatalf("expected reply from command port %d, got %d", cmdPort, from.Port)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(buf[:n], &got); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if got["name"] != ServerName {
		t.Fatalf("unexpected reply: %v", got)
	}
}

func TestUASPDataInThenOstartTransmits(t *testing.T) {
	client := newFakeClient()
	d, cmdPort := newRunningUASP(t, client)
	dataPort := cmdPort + 1

	cmdConn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: cmdPort})
	if err != nil {
		t.Fatalf("dial cmd: %v", err)
	}
	defer cmdConn.Close()
	dataConn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: dataPort})
	if err != nil {
		t.Fatalf("dial data: %v", err)
	}
	defer dataConn.Close()

	m := wire.NewMatrix(2, 4)
	m[0] = []float32{1, 2, 3, 4}
	m[1] = []float32{5, 6, 7, 8}
	flat := m.Interleave()
	body := make([]byte, len(flat)*4)
	for i, s := range flat {
		binary.BigEndian.PutUint32(body[4*i:], math.Float32bits(s))
	}
	frame := append(make([]byte, wire.HeaderSize), body...)
	if _, err := dataConn.Write(frame); err != nil {
		t.Fatalf("write dac frame: %v", err)
	}

	// Give the data-in read loop a moment to consume the frame before
	// ostart drains the buffer.
	time.Sleep(50 * time.Millisecond)

	if _, err := cmdConn.Write([]byte(`{"action":"ostart"}` + "\n")); err != nil {
		t.Fatalf("write ostart: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if len(client.transmitCalls) != 1 {
		t.Fatalf("expected one transmit call from data-in DAC frame, got %d", len(client.transmitCalls))
	}
	got := client.transmitCalls[0]
	if got.Channels() != 2 || got.Samples() != 4 || got[1][3] != 8 {
		t.Fatalf("unexpected transmitted matrix: %+v", got)
	}

	_ = d
}

func TestUASPStreamSendsToIStartDesignatedDataPeer(t *testing.T) {
	client := newFakeClient()
	d, cmdPort := newRunningUASP(t, client)

	listenerPort := pickPort(t)
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: listenerPort})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	cmdConn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: cmdPort})
	if err != nil {
		t.Fatalf("dial cmd: %v", err)
	}
	defer cmdConn.Close()

	istart := fmt.Sprintf(`{"action":"istart","port":%d}`+"\n", listenerPort)
	if _, err := cmdConn.Write([]byte(istart)); err != nil {
		t.Fatalf("write istart: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	block := wire.NewMatrix(1, 2)
	block[0] = []float32{0.5, -0.5}
	d.Stream(0, 0, block)

	listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, _, err := listener.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected a stream frame at the istart-designated port, got: %v", err)
	}
	if n != wire.HeaderSize+2*4 {
		t.Fatalf("unexpected frame length %d", n)
	}
	h, decoded, err := wire.DecodeFrame(buf[:n])
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if h.NChannels != 1 || h.NSamples != 2 || decoded[0][0] != 0.5 {
		t.Fatalf("unexpected decoded frame: %+v %+v", h, decoded)
	}
}
