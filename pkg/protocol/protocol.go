// Package protocol implements the per-node streaming-protocol control
// daemon (spec.md §4.5): a line-delimited JSON request/response/
// notification control plane plus a binary framed data-out plane, with
// two concrete framings, UASP (UDP+UDP, see uasp.go) and UASP2 (TCP
// command + UDP data, see uasp2.go), sharing this file's dispatch logic.
//
// The Client/writePump/broadcastJSON hub shape in
// OcupointInc-QC_Software/server.go is the model for how a daemon here
// tracks its connections; replies, events and frames are written
// directly from the calling goroutine, with no separate writer
// goroutine. other_examples/
// madpsy-ka9q_ubersdr__protocol1.go and __protocol2.go ground the shape
// of a dual real-time streaming protocol (one UDP data-out path with
// sequence numbers, one control path, per-connection state under a
// mutex) that UASP/UASP2 mirror.
package protocol

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"

	"github.com/vaosim/virtualacousticocean/pkg/params"
	"github.com/vaosim/virtualacousticocean/pkg/wire"
)

// Server identification echoed by the "version" action.
const (
	ServerName      = "VirtualAcousticOcean"
	ServerVersion   = "1.0.0"
	ProtocolVersion = "0.2.0"
)

// Client is the daemon's view of the Node/Simulation pair it fronts
// (spec.md §9 "Opaque client indirection"). Get/Set expose the Node
// parameter bag; Transmit hands a decoded DAC burst to the transmit
// pipeline and returns the actual start sample.
type Client interface {
	params.Bag
	Transmit(tRequestSample int64, x wire.Matrix, id string) (int64, error)
}

// Daemon is the common contract every framing implements (spec.md §4.5).
type Daemon interface {
	// Run binds sockets/listeners and spins up handler goroutines.
	Run() error
	// Stream sends one ADC data frame to the client currently
	// registered via "istart", if any.
	Stream(tUs int64, seqno uint64, block wire.Matrix)
	// Event sends an asynchronous notification to the client.
	Event(tUs int64, name string, id string)
	// Close releases all sockets and stops handler goroutines.
	Close() error
}

// request is the shape of an incoming control-plane line. Fields not
// relevant to a given action are simply left zero.
type request struct {
	Action string          `json:"action"`
	ID     json.RawMessage `json:"id,omitempty"`
	Port   int             `json:"port,omitempty"`
	Time   int64           `json:"time,omitempty"`
	Param  string          `json:"param,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Data   string          `json:"data,omitempty"`
}

// controlHandler dispatches one decoded control-plane line against a
// Client and a per-connection/per-daemon DAC burst buffer. UASP shares
// one controlHandler across all packets (there is one implicit "peer" at
// a time); UASP2 constructs a fresh one per TCP connection.
type controlHandler struct {
	client   Client
	obufsize int

	dacBuf []float32

	onIStart func(host string, port int)
	onIStop  func()
	send     func(v interface{}) error
	logf     func(format string, args ...interface{})
}

func newControlHandler(client Client, onIStart func(string, int), onIStop func(), send func(interface{}) error) *controlHandler {
	obufsize := 1920000
	if v, ok := client.Get("obufsize"); ok {
		obufsize = int(v.Int64())
	}
	logf := log.Printf
	return &controlHandler{
		client:   client,
		obufsize: obufsize,
		onIStart: onIStart,
		onIStop:  onIStop,
		send:     send,
		logf:     logf,
	}
}

// handleLine decodes and dispatches one newline-delimited JSON command.
// senderHost is the IP address to associate with a subsequent "istart"
// (UDP: the packet's source IP; TCP: the connection's remote IP).
func (h *controlHandler) handleLine(line []byte, senderHost string) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		h.logf("protocol: malformed command, dropping: %v", err)
		return
	}

	switch req.Action {
	case "version":
		h.reply(req.ID, map[string]interface{}{
			"name":     ServerName,
			"version":  ServerVersion,
			"protocol": ProtocolVersion,
		})
	case "ireset":
		h.client.Set("iseqno", params.Int(0))
	case "istart":
		if h.onIStart != nil {
			h.onIStart(senderHost, req.Port)
		}
	case "istop":
		if h.onIStop != nil {
			h.onIStop()
		}
	case "oclear":
		h.dacBuf = h.dacBuf[:0]
	case "odata":
		h.handleOdata(req.Data)
	case "ostart":
		h.handleOstart(req)
	case "ostop":
		// No-op: an in-flight transmission cannot be cancelled.
	case "get":
		h.handleGet(req)
	case "set":
		h.handleSet(req)
	case "quit":
		// No-op.
	default:
		h.logf("protocol: unrecognized action %q", req.Action)
	}
}

func (h *controlHandler) handleOdata(b64 string) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		h.logf("protocol: bad odata payload: %v", err)
		return
	}
	h.appendDACFrame(raw)
}

// appendDACFrame decodes one header-plus-samples DAC data frame and
// appends the samples to the burst buffer, skipping the 16-byte header
// (spec.md §4.5: "for incoming DAC data the header is ignored but
// consumed"). Used by odata's base64 body (UASP2) and directly by
// UASP's binary data-in socket.
func (h *controlHandler) appendDACFrame(raw []byte) {
	if len(raw) < wire.HeaderSize {
		h.logf("protocol: bad dac frame: %d bytes shorter than header", len(raw))
		return
	}
	body := raw[wire.HeaderSize:]
	if len(body)%4 != 0 {
		h.logf("protocol: bad dac frame: %d bytes not a multiple of 4", len(body))
		return
	}

	n := len(body) / 4
	if h.obufsize > 0 && len(h.dacBuf)+n > h.obufsize {
		h.logf("protocol: dac buffer would overflow obufsize=%d, dropping %d samples", h.obufsize, n)
		return
	}

	for i := 0; i < n; i++ {
		bits := binary.BigEndian.Uint32(body[4*i:])
		h.dacBuf = append(h.dacBuf, math.Float32frombits(bits))
	}
}

func (h *controlHandler) handleOstart(req request) {
	ochVal, ok := h.client.Get("ochannels")
	if !ok {
		h.logf("protocol: ostart with no ochannels parameter, dropping burst")
		return
	}
	ochannels := int(ochVal.Int64())
	if ochannels <= 0 {
		return
	}

	buf := h.dacBuf
	h.dacBuf = nil

	usable := (len(buf) / ochannels) * ochannels
	if usable != len(buf) {
		h.logf("protocol: dropping %d trailing samples not a multiple of %d channels", len(buf)-usable, ochannels)
	}
	buf = buf[:usable]

	m, err := wire.Deinterleave(buf, ochannels)
	if err != nil {
		h.logf("protocol: ostart: %v", err)
		return
	}

	var tRequest int64
	if req.Time > 0 {
		irateVal, ok := h.client.Get("irate")
		if ok {
			tRequest = int64(math.Round(float64(req.Time) * irateVal.Float64() / 1e6))
		}
	}

	id := rawID(req.ID)
	if _, err := h.client.Transmit(tRequest, m, id); err != nil {
		h.logf("protocol: transmit failed: %v", err)
	}
}

func (h *controlHandler) handleGet(req request) {
	v, ok := h.client.Get(req.Param)
	if !ok {
		return // No response for an unknown key, per spec.md §4.5.
	}
	h.reply(req.ID, map[string]interface{}{
		"param": req.Param,
		"value": v,
	})
}

func (h *controlHandler) handleSet(req request) {
	if len(req.Value) == 0 {
		return
	}
	var v params.Value
	if err := json.Unmarshal(req.Value, &v); err != nil {
		h.logf("protocol: bad set value for %q: %v", req.Param, err)
		return
	}
	h.client.Set(req.Param, v)
}

func (h *controlHandler) reply(id json.RawMessage, obj map[string]interface{}) {
	if len(id) > 0 {
		var raw interface{}
		if err := json.Unmarshal(id, &raw); err == nil {
			obj["id"] = raw
		}
	}
	if h.send == nil {
		return
	}
	if err := h.send(obj); err != nil {
		// Peer gone or write failure: swallow per spec.md §7. The next
		// istart re-establishes the destination.
		return
	}
}

func rawID(id json.RawMessage) string {
	if len(id) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(id, &s); err == nil {
		return s
	}
	return string(id)
}

func marshalLine(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal: %w", err)
	}
	return append(b, '\n'), nil
}
