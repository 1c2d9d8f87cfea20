package vao

import (
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/vaosim/virtualacousticocean/pkg/monitor"
	"github.com/vaosim/virtualacousticocean/pkg/noise"
	"github.com/vaosim/virtualacousticocean/pkg/propagation"
)

// Default reference levels and rate multipliers, per spec.md §3.
const (
	DefaultTxRefDB = 185.0
	DefaultRxRefDB = -190.0

	defaultIrateMultiplier = 4.0
	defaultOrateMultiplier = 8.0

	// maxFrameBytes bounds the auto block-size choice so a typical
	// UDP-framed data packet stays under ~1430 bytes.
	maxFrameBytes = 353

	// defaultTxDelay gives the transmit worker headroom to finish
	// building and applying the propagation channel before the tape
	// write it produces would already be due for a scheduler read.
	defaultTxDelay = 0.05

	// unityLevelDB seeds the default NoiseSource at 0 dB (linear level
	// 1). The scheduler applies the rxref conversion itself
	// (clock.go's rxrefLinear), so a NoiseSource pre-scaled by RxRefDB
	// would apply it twice.
	unityLevelDB = 0.0
)

// Simulation is the lifecycle and configuration root: propagation model,
// nodes, rates, reference levels, and the scheduling clock (spec.md §3
// "Simulation").
type Simulation struct {
	Model     propagation.Model
	Mobility  bool
	Frequency float64
	Irate     float64
	Orate     float64
	Iblksize  int
	TxRefDB   float64
	RxRefDB   float64
	Noise     noise.Source

	// TxDelay is the minimum processing headroom, in seconds, added to
	// "now" to floor a transmission's start: a requested time earlier
	// than now+TxDelay is moved up to it (spec.md §4.4 step 6's t_start
	// floor). Not named by the spec's parameter
	// table; sized to give the propagation-model worker time to finish
	// before the tape write it produces is due to be read.
	TxDelay float64

	Logf func(format string, args ...interface{})

	Monitor *monitor.Hub

	prop *propagation.Adapter

	mu      sync.Mutex
	nodes   []*Node
	running bool

	clock   *clock
	workers *transmitWorkers
}

// NewSimulation builds a Simulation with the field defaults spec.md §3
// specifies from frequency alone; other fields may be overridden before
// calling Run.
func NewSimulation(model propagation.Model, frequency float64) *Simulation {
	return &Simulation{
		Model:     model,
		Frequency: frequency,
		Irate:     defaultIrateMultiplier * frequency,
		Orate:     defaultOrateMultiplier * frequency,
		TxRefDB:   DefaultTxRefDB,
		RxRefDB:   DefaultRxRefDB,
		TxDelay:   defaultTxDelay,
		Noise:     noise.NewRedGaussian(unityLevelDB, 0.98),
	}
}

func (s *Simulation) logf(format string, args ...interface{}) {
	if s.Logf != nil {
		s.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// AddNode registers a node with this simulation. Refused once Run has
// been called (spec.md §4.3).
func (s *Simulation) AddNode(n *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("vao: cannot add node after run")
	}
	n.sim = s
	s.nodes = append(s.nodes, n)
	return nil
}

// AttachMonitor wires an optional telemetry hub. The scheduler
// broadcasts a Snapshot to it once per block, best-effort.
func (s *Simulation) AttachMonitor(h *monitor.Hub) {
	s.mu.Lock()
	s.Monitor = h
	s.mu.Unlock()
}

// Nodes returns the current node list. Safe to call at any time; the
// returned slice must not be mutated.
func (s *Simulation) Nodes() []*Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Node(nil), s.nodes...)
}

// Run validates configuration, computes the auto block size if needed,
// binds every node's daemon, and starts the scheduler loop.
func (s *Simulation) Run() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("vao: already running")
	}
	if s.Orate <= 0 || s.Irate <= 0 {
		s.mu.Unlock()
		return fmt.Errorf("vao: irate and orate must be positive")
	}
	if math.Mod(s.Orate, s.Irate) != 0 {
		s.mu.Unlock()
		return fmt.Errorf("vao: orate (%g) must be an integer multiple of irate (%g)", s.Orate, s.Irate)
	}

	if s.Iblksize == 0 {
		s.Iblksize = autoBlockSize(s.nodes)
	}
	if s.Iblksize <= 0 {
		s.mu.Unlock()
		return fmt.Errorf("vao: computed iblksize is non-positive")
	}

	if s.prop == nil {
		s.prop = propagation.NewAdapter(s.Model, s.Mobility)
	}
	if s.Noise == nil {
		s.Noise = noise.NewRedGaussian(unityLevelDB, 0.98)
	}
	s.workers = newTransmitWorkers(4)

	nodes := append([]*Node(nil), s.nodes...)
	s.running = true
	s.mu.Unlock()

	for _, n := range nodes {
		if n.daemon != nil {
			if err := n.daemon.Run(); err != nil {
				return fmt.Errorf("vao: bind daemon: %w", err)
			}
		}
	}

	s.clock = newClock(s, nodes)
	s.clock.start()
	return nil
}

// autoBlockSize picks iblksize per spec.md §4.2 when the caller leaves
// it at 0.
func autoBlockSize(nodes []*Node) int {
	maxch := 1
	for _, n := range nodes {
		if h := n.Hydrophones(); h > maxch {
			maxch = h
		}
	}
	blk := maxFrameBytes / maxch
	if blk > 256 {
		blk = 256
	}
	if blk < 1 {
		blk = 1
	}
	return blk
}

// Close stops the scheduler, tears down every node's daemon, discards
// timers, and empties the node list (spec.md §3 "Lifecycle").
func (s *Simulation) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	nodes := append([]*Node(nil), s.nodes...)
	s.nodes = nil
	clk := s.clock
	workers := s.workers
	s.mu.Unlock()

	if clk != nil {
		clk.stop()
	}
	if workers != nil {
		workers.close()
	}

	var firstErr error
	for _, n := range nodes {
		if n.daemon == nil {
			continue
		}
		if err := n.daemon.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := n.DetachRecorder(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
