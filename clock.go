package vao

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vaosim/virtualacousticocean/pkg/monitor"
	"github.com/vaosim/virtualacousticocean/pkg/wire"
)

// timerEntry fires callback(t_fire) at most once, when the scheduler's
// simulated sample index reaches t_fire (spec.md §3 "Timer entry").
type timerEntry struct {
	tFire    int64
	callback func(tFire int64)
}

// clock drives simulated time forward in fixed ADC blocks, sleeping
// until wall-clock reaches each block's deadline (spec.md §4.2).
//
// Unlike stream_loop_linux.go's runGlobalStreamLoop, which free-runs on
// a fixed time.Sleep(frameInterval) per iteration and so drifts under
// variable per-iteration work, this loop anchors every deadline to t0
// and task.t directly, which is both the literal spec requirement and
// immune to that drift.
type clock struct {
	sim   *Simulation
	nodes []*Node

	t0 time.Time
	t  atomic.Int64

	timersMu sync.Mutex
	timers   []timerEntry

	stopCh chan struct{}
	done   chan struct{}
}

func newClock(sim *Simulation, nodes []*Node) *clock {
	return &clock{
		sim:    sim,
		nodes:  nodes,
		t0:     time.Now(),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Sample returns the current simulated sample index.
func (c *clock) Sample() int64 { return c.t.Load() }

func (c *clock) start() {
	go c.run()
}

func (c *clock) stop() {
	close(c.stopCh)
	<-c.done
}

func (c *clock) schedule(tFire int64, cb func(int64)) {
	c.timersMu.Lock()
	c.timers = append(c.timers, timerEntry{tFire: tFire, callback: cb})
	sort.Slice(c.timers, func(i, j int) bool { return c.timers[i].tFire < c.timers[j].tFire })
	c.timersMu.Unlock()
}

func (c *clock) run() {
	defer close(c.done)

	blk := c.sim.Iblksize
	irate := c.sim.Irate
	rxrefLinear := math.Pow(10, c.sim.RxRefDB/20)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		tNow := c.t.Load()
		deadline := c.t0.Add(time.Duration(float64(tNow) / irate * float64(time.Second)))
		if d := time.Until(deadline); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
			case <-c.stopCh:
				timer.Stop()
				return
			}
		}

		for _, n := range c.nodes {
			c.produceBlock(n, tNow, blk, irate, rxrefLinear)
		}

		next := tNow + int64(blk)
		c.t.Store(next)
		c.fireTimers(next)
		c.broadcastTelemetry(next)
	}
}

func (c *clock) broadcastTelemetry(tNow int64) {
	if c.sim.Monitor == nil {
		return
	}
	c.timersMu.Lock()
	timerCount := len(c.timers)
	c.timersMu.Unlock()

	nodes := make([]monitor.NodeSnapshot, len(c.nodes))
	for i, n := range c.nodes {
		nodes[i] = n.telemetrySnapshot(i)
	}
	c.sim.Monitor.Broadcast(monitor.Snapshot{
		SimulatedSample: tNow,
		TimerCount:      timerCount,
		Nodes:           nodes,
	})
}

func (c *clock) produceBlock(n *Node, tNow int64, blk int, irate, rxrefLinear float64) {
	hyd := n.Hydrophones()
	if hyd == 0 || n.daemon == nil {
		return
	}

	block := wire.NewMatrix(hyd, blk)
	noiseSrc := c.sim.Noise
	for ch := 0; ch < hyd; ch++ {
		row := n.tapes[ch].Read(tNow, blk, true)
		if noiseSrc != nil {
			w := noiseSrc.Sample(blk, irate)
			for i := range row {
				row[i] = clampUnit(row[i] + w[i]*float32(rxrefLinear))
			}
		}
		block[ch] = row
	}

	seqno := n.seqno.Add(1) - 1
	tUs := int64(math.Round(float64(tNow) / irate * 1e6))
	n.daemon.Stream(tUs, seqno, block)
	n.recordBlock(tUs, seqno, block)
}

func clampUnit(x float32) float32 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}

func (c *clock) fireTimers(tNow int64) {
	for {
		c.timersMu.Lock()
		if len(c.timers) == 0 || c.timers[0].tFire > tNow {
			c.timersMu.Unlock()
			return
		}
		e := c.timers[0]
		c.timers = c.timers[1:]
		c.timersMu.Unlock()

		e.callback(e.tFire)
	}
}
