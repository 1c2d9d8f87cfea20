// Package propagation is a thin facade over the external underwater
// propagation model (spec.md §6): given transmitter positions, receiver
// positions, and a sample rate it returns a Channel object that, applied
// to a source-signal matrix, produces a multi-channel received matrix
// with absolute-time alignment.
//
// The facade shape (a config-like call in, a result/handle out, wrapped
// in an error) follows OcupointInc-QC_Software/pkg/dma/dma.go's
// CaptureConfig/CaptureResult/RunCapture pattern for wrapping an opaque
// external resource.
package propagation

import (
	"fmt"
	"sync"

	"github.com/vaosim/virtualacousticocean/pkg/wire"
)

// Vec3 is a position in meters; Z is negative downward per spec.md §3.
type Vec3 struct {
	X, Y, Z float64
}

// Channel is the propagation model's operator mapping transmitted source
// signals to received ones at a fixed list of receivers.
type Channel interface {
	// Apply returns y where y[k] is the received signal at the k-th
	// receiver position this Channel was built for, aligned in absolute
	// time from simulated-time zero.
	Apply(x wire.Matrix, fs float64) (wire.Matrix, error)
}

// Model is the external, opaque propagation model this package adapts.
type Model interface {
	Channel(txPositions, rxPositions []Vec3, fs float64) (Channel, error)
}

// Adapter wraps a Model, optionally memoizing Channel objects for static
// (non-mobile) scenes, keyed by a stable serialization of
// (tx positions, rx positions, fs) as spec.md §9 requires.
type Adapter struct {
	model    Model
	mobility bool

	mu    sync.Mutex
	cache map[string]Channel
}

// NewAdapter returns an Adapter over model. When mobility is false,
// Channel objects are cached process-locally and unboundedly (static
// scenes have few unique keys, per spec.md §9).
func NewAdapter(model Model, mobility bool) *Adapter {
	return &Adapter{
		model:    model,
		mobility: mobility,
		cache:    make(map[string]Channel),
	}
}

// Channel returns a Channel for the given geometry and sample rate,
// serving it from cache when the scene is static and the key has been
// seen before.
func (a *Adapter) Channel(tx, rx []Vec3, fs float64) (Channel, error) {
	if a.mobility {
		return a.model.Channel(tx, rx, fs)
	}

	key := sceneKey(tx, rx, fs)

	a.mu.Lock()
	if c, ok := a.cache[key]; ok {
		a.mu.Unlock()
		return c, nil
	}
	a.mu.Unlock()

	c, err := a.model.Channel(tx, rx, fs)
	if err != nil {
		return nil, fmt.Errorf("propagation: build channel: %w", err)
	}

	a.mu.Lock()
	a.cache[key] = c
	a.mu.Unlock()
	return c, nil
}

func sceneKey(tx, rx []Vec3, fs float64) string {
	b := make([]byte, 0, 32*(len(tx)+len(rx))+16)
	b = appendVecs(b, tx)
	b = append(b, '|')
	b = appendVecs(b, rx)
	b = append(b, '|')
	b = fmt.Appendf(b, "%g", fs)
	return string(b)
}

func appendVecs(b []byte, vs []Vec3) []byte {
	for i, v := range vs {
		if i > 0 {
			b = append(b, ';')
		}
		b = fmt.Appendf(b, "%g,%g,%g", v.X, v.Y, v.Z)
	}
	return b
}
