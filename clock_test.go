package vao

import (
	"testing"

	"github.com/vaosim/virtualacousticocean/pkg/noise"
	"github.com/vaosim/virtualacousticocean/pkg/propagation"
	"github.com/vaosim/virtualacousticocean/pkg/tape"
	"github.com/vaosim/virtualacousticocean/pkg/wire"
)

func TestClockFireTimersInvokesDueTimersInOrder(t *testing.T) {
	sim := &Simulation{Iblksize: 10, Irate: 1000, Noise: noise.NewRedGaussianSeeded(-200, 0, 1)}
	c := newClock(sim, nil)

	var order []string
	c.schedule(50, func(int64) { order = append(order, "second") })
	c.schedule(10, func(int64) { order = append(order, "first") })
	c.schedule(1000, func(int64) { order = append(order, "never") })

	c.fireTimers(60)

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("unexpected fire order: %v", order)
	}

	c.timersMu.Lock()
	remaining := len(c.timers)
	c.timersMu.Unlock()
	if remaining != 1 {
		t.Fatalf("expected one timer left pending, got %d", remaining)
	}
}

func TestClockFireTimersPassesScheduledFireTimeNotCrossingSample(t *testing.T) {
	sim := &Simulation{Iblksize: 10, Irate: 1000, Noise: noise.NewRedGaussianSeeded(-200, 0, 1)}
	c := newClock(sim, nil)

	var got int64
	c.schedule(517, func(tFire int64) { got = tFire })

	// The block boundary (1024) crosses well past the scheduled sample
	// (517); the callback must still see 517, not the crossing sample.
	c.fireTimers(1024)

	if got != 517 {
		t.Fatalf("expected callback to receive the scheduled fire time 517, got %d", got)
	}
}

func TestClockProduceBlockMixesTapeAndNoise(t *testing.T) {
	n := NewNode(propagation.Vec3{}, []propagation.Vec3{{}}, 1)
	n.tapes[0] = tape.New()
	n.tapes[0].Append(0, []float32{0.25, 0.25, 0.25, 0.25})

	fake := &fakeDaemon{}
	n.AttachDaemon(fake)

	sim := &Simulation{Iblksize: 4, Irate: 1000, RxRefDB: -20, Noise: noise.NewRedGaussianSeeded(-200, 0, 1)}
	c := newClock(sim, []*Node{n})

	c.produceBlock(n, 0, 4, 1000, 0)

	if len(fake.blocks) != 1 {
		t.Fatalf("expected one streamed block, got %d", len(fake.blocks))
	}
	got := fake.blocks[0]
	for i, v := range got[0] {
		if v != 0.25 {
			t.Fatalf("sample %d: expected tape contribution 0.25 with zero-gain noise, got %v", i, v)
		}
	}
	if fake.seqnos[0] != 0 {
		t.Fatalf("expected first delivered seqno 0, got %d", fake.seqnos[0])
	}
}

func TestClampUnit(t *testing.T) {
	cases := []struct{ in, want float32 }{
		{0.5, 0.5}, {1.5, 1}, {-1.5, -1}, {-0.9, -0.9},
	}
	for _, c := range cases {
		if got := clampUnit(c.in); got != c.want {
			t.Fatalf("clampUnit(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

type fakeDaemon struct {
	blocks []wire.Matrix
	seqnos []uint64
	events []string
}

func (d *fakeDaemon) Run() error { return nil }
func (d *fakeDaemon) Stream(tUs int64, seqno uint64, block wire.Matrix) {
	d.blocks = append(d.blocks, block)
	d.seqnos = append(d.seqnos, seqno)
}
func (d *fakeDaemon) Event(tUs int64, name string, id string) { d.events = append(d.events, name) }
func (d *fakeDaemon) Close() error                            { return nil }
