// Package metrics exposes Prometheus metrics and the in-memory status the
// API serves.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gateway-fm/faucetbot/pkg/types"
)

// reservoirSize bounds the samples kept for percentile estimation.
const reservoirSize = 2048

// latencyBounds are the confirmation histogram bucket upper bounds in milliseconds.
var latencyBounds = []float64{5_000, 15_000, 30_000, 60_000}

var latencyLabels = []string{"0-5s", "5-15s", "15-30s", "30-60s", "60s+"}

// LatencyStats is a streaming confirmation latency summary. Percentiles come
// from a fixed-size reservoir (Algorithm R), so memory stays bounded for a
// bot that runs for months.
type LatencyStats struct {
	mu sync.Mutex

	count     int64
	sum       float64
	min       float64
	max       float64
	buckets   []int64
	reservoir []float64
	randState uint64
}

// NewLatencyStats creates an empty LatencyStats.
func NewLatencyStats() *LatencyStats {
	return &LatencyStats{
		min:       math.MaxFloat64,
		buckets:   make([]int64, len(latencyBounds)+1),
		reservoir: make([]float64, 0, reservoirSize),
		randState: 1,
	}
}

// Observe records one confirmation latency.
func (s *LatencyStats) Observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += ms
	s.min = math.Min(s.min, ms)
	s.max = math.Max(s.max, ms)

	i := sort.SearchFloat64s(latencyBounds, ms)
	if i < len(latencyBounds) && latencyBounds[i] == ms {
		i++
	}
	s.buckets[i]++

	if len(s.reservoir) < reservoirSize {
		s.reservoir = append(s.reservoir, ms)
		return
	}
	if j := s.rand() % uint64(s.count); j < reservoirSize {
		s.reservoir[j] = ms
	}
}

// rand is xorshift64*. Callers hold mu.
func (s *LatencyStats) rand() uint64 {
	s.randState ^= s.randState >> 12
	s.randState ^= s.randState << 25
	s.randState ^= s.randState >> 27
	return s.randState * 0x2545F4914F6CDD1D
}

// Snapshot returns the current summary, or nil when nothing was observed.
func (s *LatencyStats) Snapshot() *types.LatencyStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return nil
	}

	sorted := append([]float64(nil), s.reservoir...)
	sort.Float64s(sorted)

	out := &types.LatencyStats{
		Count:   int(s.count),
		Min:     s.min,
		Max:     s.max,
		Avg:     s.sum / float64(s.count),
		P50:     percentile(sorted, 0.50),
		P90:     percentile(sorted, 0.90),
		P99:     percentile(sorted, 0.99),
		Buckets: make([]types.LatencyBucket, len(s.buckets)),
	}
	for i, c := range s.buckets {
		out.Buckets[i] = types.LatencyBucket{Label: latencyLabels[i], Count: int(c)}
	}
	return out
}

// percentile interpolates linearly between the two nearest ranks.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[lower+1]*frac
}
