package observability

import (
	"maps"
	"math"
	"slices"
	"sync"
	"time"
)

// Operations timed by the service. Queries are recorded as "query_" plus the
// query kind.
const (
	OpTransition       = "transition"
	OpQueryRecent      = "query_recent"
	OpQueryLeaderboard = "query_leaderboard"
	OpQueryAudit       = "query_audit"
)

// latencyBudgetsMS is the p95 each operation is expected to stay under.
// Leaderboards and audits scan a whole venue.
var latencyBudgetsMS = map[string]float64{
	OpTransition:       50,
	OpQueryRecent:      100,
	OpQueryLeaderboard: 500,
	OpQueryAudit:       500,
}

// OperationStats summarizes the retained samples for one operation.
type OperationStats struct {
	Operation  string  `json:"operation"`
	Samples    int     `json:"samples"`
	LastMS     float64 `json:"last_ms"`
	AvgMS      float64 `json:"avg_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	P99MS      float64 `json:"p99_ms"`
	MaxMS      float64 `json:"max_ms"`
	BudgetMS   float64 `json:"budget_ms,omitempty"`
	OverBudget int     `json:"over_budget,omitempty"`
}

// WithinBudget reports whether p95 meets the operation's budget. Operations
// without a budget always pass.
func (s OperationStats) WithinBudget() bool {
	return s.BudgetMS == 0 || s.P95MS <= s.BudgetMS
}

type LatencySnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Operations  []OperationStats `json:"operations"`
	// Transitions counts presence transitions by outcome since start.
	Transitions map[string]int   `json:"transitions,omitempty"`
}

// Operation returns the stats for op, if any samples were retained.
func (s LatencySnapshot) Operation(op string) (OperationStats, bool) {
	for _, st := range s.Operations {
		if st.Operation == op {
			return st, true
		}
	}
	return OperationStats{}, false
}

// latencyWindow retains the most recent samples per operation for the perf
// endpoint. Prometheus histograms cover long-run aggregation.
type latencyWindow struct {
	mu          sync.Mutex
	size        int
	samples     map[string][]float64
	transitions map[string]int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{
		size:        size,
		samples:     make(map[string][]float64),
		transitions: make(map[string]int),
	}
}

func (w *latencyWindow) observe(op string, ms float64) {
	if op == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.samples[op]
	if len(kept) == w.size {
		kept = append(kept[:0], kept[1:]...)
	}
	w.samples[op] = append(kept, ms)
}

func (w *latencyWindow) countTransition(outcome string) {
	if outcome == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.transitions[outcome]++
}

func (w *latencyWindow) snapshot(now time.Time) LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: now.UTC(),
		WindowSize:  w.size,
		Operations:  make([]OperationStats, 0, len(w.samples)),
	}
	for _, op := range slices.Sorted(maps.Keys(w.samples)) {
		kept := w.samples[op]
		if len(kept) == 0 {
			continue
		}
		snap.Operations = append(snap.Operations, summarize(op, kept))
	}
	if len(w.transitions) > 0 {
		snap.Transitions = maps.Clone(w.transitions)
	}
	return snap
}

func summarize(op string, kept []float64) OperationStats {
	sorted := slices.Clone(kept)
	slices.Sort(sorted)

	budget := latencyBudgetsMS[op]
	sum, over := 0.0, 0
	for _, v := range sorted {
		sum += v
		if budget > 0 && v > budget {
			over++
		}
	}
	return OperationStats{
		Operation:  op,
		Samples:    len(sorted),
		LastMS:     round2(kept[len(kept)-1]),
		AvgMS:      round2(sum / float64(len(sorted))),
		P50MS:      round2(nearestRank(sorted, 50)),
		P95MS:      round2(nearestRank(sorted, 95)),
		P99MS:      round2(nearestRank(sorted, 99)),
		MaxMS:      round2(sorted[len(sorted)-1]),
		BudgetMS:   budget,
		OverBudget: over,
	}
}

// nearestRank returns the smallest sample with at least pct percent of the
// samples at or below it.
func nearestRank(sorted []float64, pct float64) float64 {
	rank := int(math.Ceil(pct / 100 * float64(len(sorted))))
	return sorted[min(max(rank, 1), len(sorted))-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
