// Package tape implements the per-hydrophone signal tape (spec.md §4.1):
// a time-indexed additive accumulator of future receptions with a
// read-and-purge discipline that bounds memory to in-flight arrivals.
package tape

import "sync"

// Reception is one contribution spanning samples [T, T+len(X)) on a
// hydrophone.
type Reception struct {
	T int64
	X []float32
}

func (r Reception) end() int64 { return r.T + int64(len(r.X)) }

// Tape is an ordered collection of Receptions for one hydrophone. All
// methods are safe for concurrent use; the scheduler's Read and the
// transmit pipeline's Append are expected to race by design (spec.md §5).
type Tape struct {
	mu         sync.Mutex
	receptions []Reception
}

// New returns an empty tape.
func New() *Tape {
	return &Tape{}
}

// Append adds a contribution to the tape. O(1) amortized.
func (t *Tape) Append(tStart int64, x []float32) {
	if len(x) == 0 {
		return
	}
	cp := make([]float32, len(x))
	copy(cp, x)

	t.mu.Lock()
	t.receptions = append(t.receptions, Reception{T: tStart, X: cp})
	t.mu.Unlock()
}

// Read returns the additive sum of all contributions intersecting
// [tStart, tStart+n), clamped to [-1, +1]. When purge is true, any
// Reception whose last sample index is < tStart+n is dropped afterward.
func (t *Tape) Read(tStart int64, n int, purge bool) []float32 {
	out := make([]float32, n)
	windowEnd := tStart + int64(n)

	t.mu.Lock()
	defer t.mu.Unlock()

	var kept []Reception
	if purge {
		kept = t.receptions[:0:0]
	}

	for _, r := range t.receptions {
		lo := r.T
		if tStart > lo {
			lo = tStart
		}
		hi := r.end()
		if windowEnd < hi {
			hi = windowEnd
		}
		for s := lo; s < hi; s++ {
			out[s-tStart] += r.X[s-r.T]
		}

		if purge {
			if r.end() > windowEnd {
				kept = append(kept, r)
			}
		}
	}

	if purge {
		t.receptions = kept
	}

	for i, v := range out {
		if v > 1 {
			out[i] = 1
		} else if v < -1 {
			out[i] = -1
		}
	}
	return out
}

// Purge drops Receptions entirely before tKeepFrom.
func (t *Tape) Purge(tKeepFrom int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.receptions[:0:0]
	for _, r := range t.receptions {
		if r.end() > tKeepFrom {
			kept = append(kept, r)
		}
	}
	t.receptions = kept
}

// Depth reports how many Receptions are currently retained, for
// telemetry (pkg/monitor) and tests.
func (t *Tape) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.receptions)
}
