// Package vao implements VirtualAcousticOcean: a real-time
// underwater-acoustic modem network simulator. It paces a simulated ADC
// clock against wall time, streams synthesized received samples to
// clients over a small streaming protocol, and routes client-transmitted
// samples through a supplied propagation model so every other simulated
// node hears them with the right delay, gain, and reverberation.
package vao

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/vaosim/virtualacousticocean/pkg/monitor"
	"github.com/vaosim/virtualacousticocean/pkg/params"
	"github.com/vaosim/virtualacousticocean/pkg/propagation"
	"github.com/vaosim/virtualacousticocean/pkg/protocol"
	"github.com/vaosim/virtualacousticocean/pkg/recorder"
	"github.com/vaosim/virtualacousticocean/pkg/tape"
	"github.com/vaosim/virtualacousticocean/pkg/wire"
)

// Node is a simulated modem: a position, a set of hydrophone offsets
// (the first Ochannels of which are transmit-capable), gains, mute, an
// input block sequence counter, one signal tape per hydrophone, and a
// bound protocol daemon (spec.md §4.3).
type Node struct {
	sim *Simulation

	// Immutable once added to a Simulation.
	Pos       propagation.Vec3
	RelPos    []propagation.Vec3
	Ochannels int

	mu       sync.Mutex
	igain    float64
	ogain    float64
	mute     bool
	obufsize int
	tapes    []*tape.Tape
	daemon   protocol.Daemon

	seqno atomic.Uint64

	rec   *recorder.Recorder
	recMu sync.Mutex
}

// NewNode constructs a Node. pos is the node's nominal position; relPos
// lists hydrophone offsets in node-local coordinates; ochannels is how
// many of those (starting from index 0) are transmit-capable.
func NewNode(pos propagation.Vec3, relPos []propagation.Vec3, ochannels int) *Node {
	tapes := make([]*tape.Tape, len(relPos))
	for i := range tapes {
		tapes[i] = tape.New()
	}
	return &Node{
		Pos:       pos,
		RelPos:    append([]propagation.Vec3(nil), relPos...),
		Ochannels: ochannels,
		tapes:     tapes,
	}
}

// AttachDaemon binds a protocol daemon to this node. Must be called
// before the owning Simulation's Run, which invokes the daemon's Run.
func (n *Node) AttachDaemon(d protocol.Daemon) {
	n.mu.Lock()
	n.daemon = d
	n.mu.Unlock()
}

// Hydrophones returns the number of hydrophones on this node.
func (n *Node) Hydrophones() int { return len(n.RelPos) }

// TxPositions returns the absolute positions of this node's
// transmit-capable channels.
func (n *Node) TxPositions() []propagation.Vec3 {
	out := make([]propagation.Vec3, n.Ochannels)
	for i := 0; i < n.Ochannels; i++ {
		out[i] = addVec(n.Pos, n.RelPos[i])
	}
	return out
}

// RxPositions returns the absolute positions of every hydrophone on this
// node.
func (n *Node) RxPositions() []propagation.Vec3 {
	out := make([]propagation.Vec3, len(n.RelPos))
	for i, r := range n.RelPos {
		out[i] = addVec(n.Pos, r)
	}
	return out
}

func addVec(a, b propagation.Vec3) propagation.Vec3 {
	return propagation.Vec3{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z}
}

// AttachRecorder opts this node's ADC stream into Parquet capture.
func (n *Node) AttachRecorder(r *recorder.Recorder) {
	n.recMu.Lock()
	n.rec = r
	n.recMu.Unlock()
}

// DetachRecorder stops recording and closes the recorder, if any.
func (n *Node) DetachRecorder() error {
	n.recMu.Lock()
	r := n.rec
	n.rec = nil
	n.recMu.Unlock()
	if r == nil {
		return nil
	}
	return r.Close()
}

func (n *Node) recordBlock(tUs int64, seqno uint64, block wire.Matrix) {
	n.recMu.Lock()
	r := n.rec
	n.recMu.Unlock()
	if r == nil {
		return
	}
	if err := r.WriteBlock(tUs, seqno, block); err != nil {
		n.sim.logf("recorder: write block: %v", err)
	}
}

// Get implements params.Getter, exposing the parameter table of
// spec.md §6.
func (n *Node) Get(key string) (params.Value, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	sim := n.sim
	switch key {
	case "time":
		if sim == nil || sim.clock == nil {
			return params.Int(0), true
		}
		return params.Int(int64(math.Round(float64(sim.clock.Sample()) / sim.Irate))), true
	case "iseqno":
		return params.Int(int64(n.seqno.Load())), true
	case "iblksize":
		if sim == nil {
			return params.Int(0), true
		}
		return params.Int(int64(sim.Iblksize)), true
	case "irate":
		if sim == nil {
			return params.Float(0), true
		}
		return params.Float(sim.Irate), true
	case "irates":
		if sim == nil {
			return params.ListFloat(nil), true
		}
		return params.ListFloat([]float64{sim.Irate}), true
	case "ichannels":
		return params.Int(int64(len(n.RelPos))), true
	case "igain":
		return params.Float(n.igain), true
	case "orate":
		if sim == nil {
			return params.Float(0), true
		}
		return params.Float(sim.Orate), true
	case "orates":
		if sim == nil {
			return params.ListFloat(nil), true
		}
		return params.ListFloat([]float64{sim.Orate}), true
	case "ochannels":
		return params.Int(int64(n.Ochannels)), true
	case "ogain":
		return params.Float(n.ogain), true
	case "omute":
		return params.Bool(n.mute), true
	case "obufsize":
		return params.Int(int64(n.obufsizeLocked())), true
	default:
		return params.Value{}, false
	}
}

// obufsizeLocked returns the configured max DAC buffer size; n.mu must
// be held.
func (n *Node) obufsizeLocked() int {
	if n.obufsize == 0 {
		return defaultObufsize
	}
	return n.obufsize
}

const defaultObufsize = 1920000

// Set implements params.Setter. Unknown or read-only keys are silently
// ignored, per spec.md §4.3.
func (n *Node) Set(key string, v params.Value) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch key {
	case "iseqno":
		n.seqno.Store(0)
		return true
	case "igain":
		n.igain = v.Float64()
		return true
	case "ogain":
		n.ogain = v.Float64()
		return true
	case "omute":
		n.mute = v.Bool()
		return true
	case "obufsize":
		n.obufsize = int(v.Int64())
		return true
	default:
		return false
	}
}

// Transmit implements protocol.Client, forwarding to the owning
// Simulation's transmit pipeline (spec.md §4.4).
func (n *Node) Transmit(tRequestSample int64, x wire.Matrix, id string) (int64, error) {
	if n.sim == nil {
		return 0, fmt.Errorf("vao: node not attached to a running simulation")
	}
	return n.sim.transmit(n, tRequestSample, x, id)
}

// muted reports the current omute setting.
func (n *Node) muted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mute
}

// gains returns (igain, ogain) under lock.
func (n *Node) gains() (float64, float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.igain, n.ogain
}

func (n *Node) telemetrySnapshot(index int) monitor.NodeSnapshot {
	depths := make([]int, len(n.tapes))
	for i, t := range n.tapes {
		depths[i] = t.Depth()
	}
	igain, ogain := n.gains()
	return monitor.NodeSnapshot{
		Index:      index,
		Seqno:      n.seqno.Load(),
		TapeDepths: depths,
		IGain:      igain,
		OGain:      ogain,
		Mute:       n.muted(),
	}
}
