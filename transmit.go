package vao

import (
	"math"
	"sync"

	"github.com/vaosim/virtualacousticocean/pkg/propagation"
	"github.com/vaosim/virtualacousticocean/pkg/wire"
)

// rxRef pairs a hydrophone with the node that owns it, preserving the
// (node order, hydrophone order) sequence used to assemble a receiver
// position list, so a propagation-model output column can be routed
// back to the right tape.
type rxRef struct {
	node       *Node
	hydrophone int
}

// transmit implements the TransmitPipeline of spec.md §4.4. Steps 1–3
// and 6 (mute check, decimation, position gathering, t_start
// computation) run synchronously so the caller observes t_start
// immediately; steps 4-5 and 7 (channel build/apply and the resulting
// tape writes) are handed to a worker, with ordering against the
// scheduler's tape reads preserved by each tape's own mutex.
func (s *Simulation) transmit(tx *Node, tRequestSample int64, xOriginal wire.Matrix, id string) (int64, error) {
	if tx.muted() {
		return s.clock.Sample(), nil
	}

	nsampDAC := xOriginal.Samples()
	x := xOriginal
	if factor := int(s.Orate / s.Irate); factor > 1 {
		x = decimate(x, factor)
	}

	txPositions := tx.TxPositions()

	var rxPositions []propagation.Vec3
	var rxRefs []rxRef
	for _, n := range s.Nodes() {
		if n == tx {
			continue
		}
		positions := n.RxPositions()
		for h, p := range positions {
			rxPositions = append(rxPositions, p)
			rxRefs = append(rxRefs, rxRef{node: n, hydrophone: h})
		}
	}

	nowSample := s.clock.Sample()
	txDelaySamples := int64(math.Round(s.TxDelay * s.Irate))
	tStart := tRequestSample
	if floor := nowSample + txDelaySamples; floor > tStart {
		tStart = floor
	}

	ostopDelay := int64(math.Round(float64(nsampDAC) * s.Irate / s.Orate))
	s.clock.schedule(tStart, func(tFire int64) {
		if tx.daemon != nil {
			tx.daemon.Event(sampleToUs(tFire, s.Irate), "ostart", id)
		}
	})
	s.clock.schedule(tStart+ostopDelay, func(tFire int64) {
		if tx.daemon != nil {
			tx.daemon.Event(sampleToUs(tFire, s.Irate), "ostop", id)
		}
	})

	if len(rxPositions) == 0 {
		return tStart, nil
	}

	_, ogain := tx.gains()
	txrefLinear := math.Pow(10, (s.TxRefDB+ogain)/20)
	xScaled := scaleMatrix(x, txrefLinear)

	s.workers.submit(func() {
		s.applyAndDeliver(xScaled, txPositions, rxPositions, rxRefs, tStart)
	})

	return tStart, nil
}

func (s *Simulation) applyAndDeliver(xScaled wire.Matrix, txPositions, rxPositions []propagation.Vec3, rxRefs []rxRef, tStart int64) {
	ch, err := s.prop.Channel(txPositions, rxPositions, s.Irate)
	if err != nil {
		s.logf("transmit: build channel: %v", err)
		return
	}
	y, err := ch.Apply(xScaled, s.Irate)
	if err != nil {
		s.logf("transmit: apply channel: %v", err)
		return
	}

	if lateness := s.clock.Sample() - tStart; lateness > 0 {
		s.logf("transmit: worker finished %.1f ms after t_start", float64(lateness)/s.Irate*1000)
	}

	for k, ref := range rxRefs {
		if k >= y.Channels() {
			break
		}
		igain, _ := ref.node.gains()
		rxrefLinear := math.Pow(10, (s.RxRefDB+igain)/20)
		ref.node.tapes[ref.hydrophone].Append(tStart, scaleRow(y[k], rxrefLinear))
	}
}

func decimate(x wire.Matrix, factor int) wire.Matrix {
	n := x.Samples() / factor
	out := wire.NewMatrix(x.Channels(), n)
	for ch := range x {
		for i := 0; i < n; i++ {
			out[ch][i] = x[ch][i*factor]
		}
	}
	return out
}

func scaleMatrix(x wire.Matrix, g float64) wire.Matrix {
	out := wire.NewMatrix(x.Channels(), x.Samples())
	gf := float32(g)
	for ch := range x {
		for i, v := range x[ch] {
			out[ch][i] = v * gf
		}
	}
	return out
}

func scaleRow(row []float32, g float64) []float32 {
	out := make([]float32, len(row))
	gf := float32(g)
	for i, v := range row {
		out[i] = v * gf
	}
	return out
}

func sampleToUs(t int64, irate float64) int64 {
	return int64(math.Round(float64(t) / irate * 1e6))
}

// transmitWorkers is a small fixed-size goroutine pool for propagation-
// model work, mirroring recording_loop_linux.go's split between a
// synchronous control path and a background production loop.
type transmitWorkers struct {
	jobs      chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newTransmitWorkers(n int) *transmitWorkers {
	w := &transmitWorkers{jobs: make(chan func(), 64)}
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.loop()
	}
	return w
}

func (w *transmitWorkers) loop() {
	defer w.wg.Done()
	for job := range w.jobs {
		job()
	}
}

func (w *transmitWorkers) submit(job func()) {
	w.jobs <- job
}

func (w *transmitWorkers) close() {
	w.closeOnce.Do(func() { close(w.jobs) })
	w.wg.Wait()
}
