package monitor

import (
	"sort"
	"sync"
	"time"
)

const sampleWindow = 512

// ProviderStats counts calls and failures for one synthesis provider.
type ProviderStats struct {
	Calls     int64   `json:"calls"`
	Failures  int64   `json:"failures"`
	ErrorRate float64 `json:"error_rate"`
}

// RecorderStats is the rolling aggregate over recent job outcomes.
type RecorderStats struct {
	JobsCompleted int64                    `json:"jobs_completed"`
	JobsFailed    int64                    `json:"jobs_failed"`
	ErrorRate     float64                  `json:"error_rate"`
	LatencyP50    time.Duration            `json:"latency_p50"`
	LatencyP95    time.Duration            `json:"latency_p95"`
	Providers     map[string]ProviderStats `json:"providers"`
}

type sample struct {
	latency time.Duration
	failed  bool
}

// Recorder keeps a fixed ring of recent job samples plus per-provider
// counters. It implements tts.Observer for the fallback chain. Purely
// observational: it never touches job or cache state.
type Recorder struct {
	mu        sync.Mutex
	samples   [sampleWindow]sample
	count     int
	next      int
	completed int64
	failed    int64
	providers map[string]*ProviderStats
}

func NewRecorder() *Recorder {
	return &Recorder{providers: make(map[string]*ProviderStats)}
}

// ObserveJob records one finished job attempt chain (success or terminal
// failure) with its end-to-end latency.
func (r *Recorder) ObserveJob(took time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples[r.next] = sample{latency: took, failed: err != nil}
	r.next = (r.next + 1) % sampleWindow
	if r.count < sampleWindow {
		r.count++
	}
	if err != nil {
		r.failed++
	} else {
		r.completed++
	}
}

// ObserveProvider records the outcome of one provider call.
func (r *Recorder) ObserveProvider(provider string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats, ok := r.providers[provider]
	if !ok {
		stats = &ProviderStats{}
		r.providers[provider] = stats
	}
	stats.Calls++
	if err != nil {
		stats.Failures++
	}
}

// Stats snapshots the rolling window.
func (r *Recorder) Stats() RecorderStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := RecorderStats{
		JobsCompleted: r.completed,
		JobsFailed:    r.failed,
		Providers:     make(map[string]ProviderStats, len(r.providers)),
	}
	for name, s := range r.providers {
		ps := *s
		if ps.Calls > 0 {
			ps.ErrorRate = float64(ps.Failures) / float64(ps.Calls)
		}
		out.Providers[name] = ps
	}

	if r.count == 0 {
		return out
	}

	latencies := make([]time.Duration, 0, r.count)
	failures := 0
	for i := 0; i < r.count; i++ {
		latencies = append(latencies, r.samples[i].latency)
		if r.samples[i].failed {
			failures++
		}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	out.ErrorRate = float64(failures) / float64(r.count)
	out.LatencyP50 = latencies[percentileIndex(len(latencies), 50)]
	out.LatencyP95 = latencies[percentileIndex(len(latencies), 95)]
	return out
}

func percentileIndex(n, pct int) int {
	idx := n*pct/100 - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}
