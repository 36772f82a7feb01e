package observability

import "testing"

func TestStageWindowPercentilesInPipelineOrder(t *testing.T) {
	w := NewStageWindow(8)
	w.ObserveLatency("transcribe", 500)
	w.ObserveLatency("transcribe", 700)
	w.ObserveLatency("transcribe", 1900)
	w.ObserveLatency("normalize", 12)

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(snap.Stages))
	}
	if snap.Stages[0].Stage != "normalize" || snap.Stages[1].Stage != "transcribe" {
		t.Fatalf("stage order = %s,%s, want normalize,transcribe", snap.Stages[0].Stage, snap.Stages[1].Stage)
	}
	s := snap.Stages[1]
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS != 1900 || s.MaxMS != 1900 {
		t.Fatalf("P95MS = %.2f MaxMS = %.2f, want 1900", s.P95MS, s.MaxMS)
	}
	if s.TargetP95MS != 1500 || !s.OverTarget {
		t.Fatalf("target = %.2f over = %v, want 1500 true", s.TargetP95MS, s.OverTarget)
	}
	if snap.Stages[0].OverTarget {
		t.Fatalf("normalize should be within target")
	}
}

func TestStageWindowCountsFailuresByStage(t *testing.T) {
	w := NewStageWindow(4)
	w.ObserveLatency("complete", 80)
	w.ObserveTurn("failed", "complete")
	w.ObserveTurn("failed", "complete")
	w.ObserveTurn("ok", "")
	w.ObservePersistFailure("assistant")

	snap := w.Snapshot()
	if snap.Turns.OK != 1 || snap.Turns.Failed != 2 {
		t.Fatalf("Turns = %+v, want 1 ok 2 failed", snap.Turns)
	}
	if len(snap.Stages) != 1 || snap.Stages[0].Failures != 2 {
		t.Fatalf("Stages = %+v, want complete with 2 failures", snap.Stages)
	}
	if snap.PersistFailures["assistant"] != 1 {
		t.Fatalf("PersistFailures = %+v, want assistant=1", snap.PersistFailures)
	}
}

func TestStageWindowKeepsLatestSamplesAndResets(t *testing.T) {
	w := NewStageWindow(2)
	w.ObserveLatency("complete", 1)
	w.ObserveLatency("complete", 2)
	w.ObserveLatency("complete", 300)
	w.ObserveLatency("", 10)
	w.ObserveLatency("complete", -1)
	w.ObserveLatency("warmup", 5)

	snap := w.Snapshot()
	if len(snap.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(snap.Stages))
	}
	c := snap.Stages[0]
	if c.Stage != "complete" || c.Samples != 2 || c.P50MS != 2 || c.MaxMS != 300 {
		t.Fatalf("complete = %+v, want the two latest samples", c)
	}
	if snap.Stages[1].Stage != "warmup" || snap.Stages[1].TargetP95MS != 0 {
		t.Fatalf("unknown stage = %+v, want warmup without target", snap.Stages[1])
	}

	before := snap.Since
	w.ObserveTurn("failed", "complete")
	w.Reset()
	after := w.Snapshot()
	if len(after.Stages) != 0 || after.Turns.Failed != 0 {
		t.Fatalf("after reset = %+v, want empty", after)
	}
	if after.Since.Before(before) {
		t.Fatalf("Since moved backwards on reset")
	}
}
