// Command vaosim wires up a small VirtualAcousticOcean simulation for
// manual exercise: a handful of nodes on a line, a free-space delay-only
// propagation model, and UASP2 daemons a client can connect to with
// nothing more than netcat and a UDP listener. It is not part of the
// library's contract; real deployments build a Simulation directly with
// a real propagation model (see main.go's flag parsing for the shape a
// caller would otherwise do in code).
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	vao "github.com/vaosim/virtualacousticocean"
	"github.com/vaosim/virtualacousticocean/pkg/monitor"
	"github.com/vaosim/virtualacousticocean/pkg/propagation"
	"github.com/vaosim/virtualacousticocean/pkg/protocol"
	"github.com/vaosim/virtualacousticocean/pkg/wire"
)

func main() {
	frequency := flag.Float64("frequency", 24000, "carrier frequency (Hz); irate=4x, orate=8x by default")
	nodeCount := flag.Int("nodes", 2, "number of simulated nodes")
	spacing := flag.Float64("spacing", 1000, "meters between adjacent nodes on the line")
	baseCmdPort := flag.Int("cmd-port", 19809, "first UASP2 command port; node i binds cmd-port+i")
	baseDataPort := flag.Int("data-port", 0, "UDP data-out local port base; 0 lets the OS choose")
	monitorAddr := flag.String("monitor-addr", "", "if set, serve websocket telemetry at this address (e.g. :8090)")
	soundSpeed := flag.Float64("sound-speed", 1500, "meters/second, for the demo free-space propagation model")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	model := &freeSpaceModel{soundSpeed: *soundSpeed}
	sim := vao.NewSimulation(model, *frequency)

	for i := 0; i < *nodeCount; i++ {
		pos := propagation.Vec3{X: float64(i) * *spacing, Y: 0, Z: -10}
		n := vao.NewNode(pos, []propagation.Vec3{{}}, 1)

		dataAddr := ":0"
		if *baseDataPort != 0 {
			dataAddr = fmt.Sprintf(":%d", *baseDataPort+i)
		}
		daemon := protocol.NewUASP2(protocol.UASP2Config{
			Client:      n,
			CommandAddr: fmt.Sprintf(":%d", *baseCmdPort+i),
			DataListen:  dataAddr,
		})
		n.AttachDaemon(daemon)

		if err := sim.AddNode(n); err != nil {
			log.Fatalf("vaosim: add node %d: %v", i, err)
		}
	}

	if *monitorAddr != "" {
		hub := monitor.NewHub()
		sim.AttachMonitor(hub)
		http.HandleFunc("/ws", hub.Handler)
		go func() {
			log.Printf("vaosim: telemetry on ws://%s/ws", *monitorAddr)
			if err := http.ListenAndServe(*monitorAddr, nil); err != nil {
				log.Printf("vaosim: telemetry server: %v", err)
			}
		}()
	}

	if err := sim.Run(); err != nil {
		log.Fatalf("vaosim: run: %v", err)
	}
	log.Printf("vaosim: %d nodes running, irate=%.0f orate=%.0f iblksize=%d", *nodeCount, sim.Irate, sim.Orate, sim.Iblksize)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Printf("vaosim: shutting down")
	if err := sim.Close(); err != nil {
		log.Printf("vaosim: close: %v", err)
	}
}

// freeSpaceModel is a minimal propagation.Model for manual exercise: a
// pure delay line at a fixed sound speed with no loss or reverberation.
type freeSpaceModel struct {
	soundSpeed float64
}

func (m *freeSpaceModel) Channel(tx, rx []propagation.Vec3, fs float64) (propagation.Channel, error) {
	if len(tx) == 0 {
		return nil, fmt.Errorf("freeSpaceModel: no transmitters")
	}
	delays := make([]int64, len(rx))
	for k, r := range rx {
		d := distance(tx[0], r)
		delays[k] = int64(math.Round(d / m.soundSpeed * fs))
	}
	return &delayChannel{delays: delays}, nil
}

type delayChannel struct {
	delays []int64
}

func (c *delayChannel) Apply(x wire.Matrix, fs float64) (wire.Matrix, error) {
	n := x.Samples()
	mono := make([]float32, n)
	for _, row := range x {
		for i, v := range row {
			mono[i] += v
		}
	}

	var maxDelay int64
	for _, d := range c.delays {
		if d > maxDelay {
			maxDelay = d
		}
	}

	out := wire.NewMatrix(len(c.delays), n+int(maxDelay))
	for k, d := range c.delays {
		copy(out[k][d:], mono)
	}
	return out, nil
}

func distance(a, b propagation.Vec3) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
