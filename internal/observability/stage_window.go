package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// stageOrder lists turn stages in pipeline order with their p95 budgets in
// milliseconds. Snapshots report known stages in this order.
var stageOrder = []struct {
	name     string
	targetMS float64
}{
	{"normalize", 300},
	{"resolve_session", 50},
	{"transcribe", 1500},
	{"persist_user_turn", 50},
	{"complete", 2500},
	{"persist_assistant_turn", 50},
	{"synthesize", 1500},
	{"turn_total", 6000},
}

type TurnCounts struct {
	OK     int `json:"ok"`
	Failed int `json:"failed"`
}

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	Failures    int     `json:"failures"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  bool    `json:"over_target"`
}

// LatencySnapshot is the body of GET /v1/perf/latency.
type LatencySnapshot struct {
	GeneratedAt     time.Time      `json:"generated_at"`
	Since           time.Time      `json:"since"`
	WindowSize      int            `json:"window_size"`
	Turns           TurnCounts     `json:"turns"`
	Stages          []StageStats   `json:"stages"`
	PersistFailures map[string]int `json:"persist_failures,omitempty"`
}

// StageWindow keeps the latest latency samples of each turn stage, plus
// failure counts since the last reset.
type StageWindow struct {
	mu       sync.Mutex
	size     int
	since    time.Time
	samples  map[string][]float64
	failures map[string]int
	persist  map[string]int
	turns    TurnCounts
}

func NewStageWindow(size int) *StageWindow {
	if size <= 0 {
		size = 256
	}
	w := &StageWindow{size: size}
	w.reset()
	return w
}

func (w *StageWindow) reset() {
	w.since = time.Now().UTC()
	w.samples = make(map[string][]float64)
	w.failures = make(map[string]int)
	w.persist = make(map[string]int)
	w.turns = TurnCounts{}
}

func (w *StageWindow) ObserveLatency(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := append(w.samples[stage], ms)
	if len(s) > w.size {
		s = s[len(s)-w.size:]
	}
	w.samples[stage] = s
}

// ObserveTurn counts a finished turn. A failed turn is also charged to the
// stage it failed in.
func (w *StageWindow) ObserveTurn(outcome, stage string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if outcome != "failed" {
		w.turns.OK++
		return
	}
	w.turns.Failed++
	if stage != "" {
		w.failures[stage]++
	}
}

func (w *StageWindow) ObservePersistFailure(role string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.persist[role]++
}

func (w *StageWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()
}

func (w *StageWindow) Snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		Since:       w.since,
		WindowSize:  w.size,
		Turns:       w.turns,
		Stages:      []StageStats{},
	}
	seen := make(map[string]bool, len(stageOrder))
	for _, st := range stageOrder {
		seen[st.name] = true
		if stats, ok := w.stats(st.name, st.targetMS); ok {
			snap.Stages = append(snap.Stages, stats)
		}
	}
	var extra []string
	for name := range w.samples {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	for name := range w.failures {
		if !seen[name] && len(w.samples[name]) == 0 {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		if stats, ok := w.stats(name, 0); ok {
			snap.Stages = append(snap.Stages, stats)
		}
	}

	if len(w.persist) > 0 {
		snap.PersistFailures = make(map[string]int, len(w.persist))
		for role, n := range w.persist {
			snap.PersistFailures[role] = n
		}
	}
	return snap
}

func (w *StageWindow) stats(stage string, targetMS float64) (StageStats, bool) {
	samples := w.samples[stage]
	failures := w.failures[stage]
	if len(samples) == 0 && failures == 0 {
		return StageStats{}, false
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	stats := StageStats{
		Stage:       stage,
		Samples:     len(sorted),
		Failures:    failures,
		P50MS:       percentile(sorted, 50),
		P95MS:       percentile(sorted, 95),
		P99MS:       percentile(sorted, 99),
		TargetP95MS: targetMS,
	}
	if n := len(sorted); n > 0 {
		stats.MaxMS = roundMS(sorted[n-1])
	}
	stats.OverTarget = targetMS > 0 && stats.P95MS > targetMS
	return stats, true
}

// percentile uses the nearest-rank method on ascending samples.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return roundMS(sorted[rank-1])
}

func roundMS(v float64) float64 {
	return math.Round(v*100) / 100
}
