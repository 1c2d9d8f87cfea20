// Package noise implements the stationary random-sample generator
// consumed by the scheduler (spec.md §4.6): sample(n, fs) -> float32[n].
// Like OcupointInc-QC_Software/dsp.go's self-contained numeric routines,
// this needs nothing beyond the standard library.
package noise

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Source produces a stationary noise process at a given sample rate.
// Any alternative generator may be plugged in as long as it implements
// this call shape.
type Source interface {
	Sample(n int, fs float64) []float32
}

// RedGaussian is a first-order low-passed ("red") Gaussian noise source
// referenced to 1 uPa, the default NoiseSource per spec.md §4.6.
type RedGaussian struct {
	levelLinear float64
	pole        float64

	mu    sync.Mutex
	state float64
	rng   *rand.Rand
}

// NewRedGaussian returns a red Gaussian noise source at the given
// reference level in dB (re 1 uPa-scaled). pole selects the one-pole
// low-pass coefficient in (0,1); values near 1 emphasize low frequencies
// more strongly. A pole of 0 degenerates to white noise.
func NewRedGaussian(levelDB, pole float64) *RedGaussian {
	return NewRedGaussianSeeded(levelDB, pole, time.Now().UnixNano())
}

// NewRedGaussianSeeded is like NewRedGaussian but with an explicit seed,
// for reproducible tests and scripted scenarios.
func NewRedGaussianSeeded(levelDB, pole float64, seed int64) *RedGaussian {
	return &RedGaussian{
		levelLinear: math.Pow(10, levelDB/20),
		pole:        pole,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Sample returns n samples of the noise process. fs is accepted to match
// the Source interface; this generator's spectral shape does not depend
// on it.
func (r *RedGaussian) Sample(n int, fs float64) []float32 {
	out := make([]float32, n)

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < n; i++ {
		white := r.rng.NormFloat64()
		r.state = r.pole*r.state + (1-r.pole)*white
		out[i] = float32(r.state * r.levelLinear)
	}
	return out
}
