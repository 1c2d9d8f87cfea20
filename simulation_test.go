package vao

import (
	"testing"

	"github.com/vaosim/virtualacousticocean/pkg/propagation"
)

func TestNewSimulationAppliesFrequencyDefaults(t *testing.T) {
	sim := NewSimulation(nil, 24000)
	if sim.Irate != 96000 {
		t.Fatalf("expected irate 96000, got %v", sim.Irate)
	}
	if sim.Orate != 192000 {
		t.Fatalf("expected orate 192000, got %v", sim.Orate)
	}
	if sim.TxRefDB != DefaultTxRefDB || sim.RxRefDB != DefaultRxRefDB {
		t.Fatalf("expected default reference levels, got tx=%v rx=%v", sim.TxRefDB, sim.RxRefDB)
	}
}

func TestDefaultNoiseIsNotDoublyScaledByRxRef(t *testing.T) {
	sim := NewSimulation(nil, 24000)
	sim.RxRefDB = DefaultRxRefDB

	samples := sim.Noise.Sample(2000, sim.Irate)

	var maxAbs float32
	for _, s := range samples {
		if a := s; a > maxAbs {
			maxAbs = a
		} else if -a > maxAbs {
			maxAbs = -a
		}
	}
	// The default source is seeded at unity (0 dB); the scheduler alone
	// applies the rxref conversion. A doubly-scaled source would produce
	// samples many orders of magnitude below 1, not O(1).
	if maxAbs < 1e-3 {
		t.Fatalf("expected default NoiseSource samples at unity scale, got max |sample| = %v", maxAbs)
	}
}

func TestAutoBlockSizeRespectsFrameByteBudget(t *testing.T) {
	one := NewNode(propagation.Vec3{}, []propagation.Vec3{{}}, 1)
	blk := autoBlockSize([]*Node{one})
	if blk*one.Hydrophones() > maxFrameBytes {
		t.Fatalf("auto block size %d violates frame byte budget for %d channels", blk, one.Hydrophones())
	}
	if blk != 256 {
		t.Fatalf("expected single-hydrophone auto block size to hit the 256 cap, got %d", blk)
	}

	many := NewNode(propagation.Vec3{}, make([]propagation.Vec3, 8), 1)
	blk2 := autoBlockSize([]*Node{many})
	if blk2*8 > maxFrameBytes {
		t.Fatalf("auto block size %d violates frame byte budget for 8 channels", blk2)
	}
}

func TestOrateNotMultipleOfIrateRefusesRun(t *testing.T) {
	sim := NewSimulation(nil, 24000)
	sim.Orate = sim.Irate * 1.5

	if err := sim.Run(); err == nil {
		t.Fatal("expected Run to refuse a non-integer orate/irate ratio")
	}
}

func TestAddNodeAfterRunIsRefused(t *testing.T) {
	sim := NewSimulation(nil, 100)
	n := NewNode(propagation.Vec3{}, []propagation.Vec3{{}}, 1)
	if err := sim.AddNode(n); err != nil {
		t.Fatalf("unexpected error adding node before run: %v", err)
	}
	if err := sim.Run(); err != nil {
		t.Fatalf("unexpected error running: %v", err)
	}
	defer sim.Close()

	if err := sim.AddNode(NewNode(propagation.Vec3{}, []propagation.Vec3{{}}, 1)); err == nil {
		t.Fatal("expected AddNode to be refused after Run")
	}
}
