package tape

import "testing"

func TestReadSumsOverlappingContributions(t *testing.T) {
	tp := New()
	tp.Append(10, []float32{0.5, 0.5, 0.5, 0.5})
	tp.Append(12, []float32{0.25, 0.25})

	got := tp.Read(10, 6, false)
	want := []float32{0.5, 0.5, 0.75, 0.75, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %v want %v (full=%v)", i, got[i], want[i], got)
		}
	}
}

func TestReadClampsToUnitRange(t *testing.T) {
	tp := New()
	tp.Append(0, []float32{0.9, 0.9})
	tp.Append(0, []float32{0.9, -0.9})

	got := tp.Read(0, 2, false)
	if got[0] != 1 {
		t.Errorf("expected clamp to +1, got %v", got[0])
	}
	if got[1] != 0 {
		t.Errorf("expected 0.9-0.9=0, got %v", got[1])
	}
}

func TestReadPurgeDropsFullyConsumedReceptions(t *testing.T) {
	tp := New()
	tp.Append(0, []float32{1, 1, 1, 1})
	if tp.Depth() != 1 {
		t.Fatalf("expected 1 reception before read")
	}

	tp.Read(0, 4, true)
	if tp.Depth() != 0 {
		t.Fatalf("expected reception to be purged once its span is fully read, depth=%d", tp.Depth())
	}
}

func TestReadPurgeKeepsPartiallyReadReceptions(t *testing.T) {
	tp := New()
	tp.Append(0, []float32{1, 1, 1, 1, 1, 1})

	tp.Read(0, 4, true)
	if tp.Depth() != 1 {
		t.Fatalf("expected reception extending past the read window to survive purge, depth=%d", tp.Depth())
	}

	got := tp.Read(4, 2, true)
	if got[0] != 1 || got[1] != 1 {
		t.Fatalf("expected remaining tail samples to still be readable, got %v", got)
	}
	if tp.Depth() != 0 {
		t.Fatalf("expected reception purged once fully consumed, depth=%d", tp.Depth())
	}
}

func TestAppendWithEarlierStartStillContributes(t *testing.T) {
	// Transmissions can straddle or arrive behind the current read
	// cursor (spec.md §4.1); a Reception with an earlier start than
	// receptions already appended must still be additive.
	tp := New()
	tp.Append(10, []float32{1, 1})
	tp.Append(0, []float32{2, 2, 2})

	got := tp.Read(0, 12, false)
	if got[0] != 1 || got[1] != 1 {
		t.Fatalf("expected clamped 2s at [0,1], got %v", got[:2])
	}
	if got[10] != 1 || got[11] != 1 {
		t.Fatalf("expected the later-appended earlier reception at [10,11], got %v", got[10:12])
	}
}

func TestPurgeDropsReceptionsEntirelyBeforeKeepFrom(t *testing.T) {
	tp := New()
	tp.Append(0, []float32{1, 1})
	tp.Append(100, []float32{1, 1})

	tp.Purge(50)
	if tp.Depth() != 1 {
		t.Fatalf("expected only the later reception to survive, depth=%d", tp.Depth())
	}
	got := tp.Read(100, 2, false)
	if got[0] != 1 || got[1] != 1 {
		t.Fatalf("expected surviving reception readable, got %v", got)
	}
}
