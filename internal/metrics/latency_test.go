package metrics

import (
	"math"
	"sync"
	"testing"
	"time"
)

func TestLatencyStatsBasic(t *testing.T) {
	s := NewLatencyStats()
	for i := 0; i < 100; i++ {
		s.Observe(time.Duration(i) * time.Second)
	}

	stats := s.Snapshot()
	if stats == nil {
		t.Fatal("expected non-nil stats")
	}
	if stats.Count != 100 {
		t.Errorf("count = %d, want 100", stats.Count)
	}
	if stats.Min != 0 || stats.Max != 99_000 {
		t.Errorf("min/max = %f/%f", stats.Min, stats.Max)
	}
	if math.Abs(stats.Avg-49_500) > 1 {
		t.Errorf("avg = %f, want ~49500", stats.Avg)
	}
	if math.Abs(stats.P50-49_500) > 1 {
		t.Errorf("p50 = %f, want ~49500", stats.P50)
	}
}

func TestLatencyStatsEmpty(t *testing.T) {
	if NewLatencyStats().Snapshot() != nil {
		t.Error("expected nil stats for empty collector")
	}
}

func TestLatencyStatsBuckets(t *testing.T) {
	s := NewLatencyStats()
	samples := map[time.Duration]int{
		2 * time.Second:  4, // 0-5s
		5 * time.Second:  1, // boundary goes up: 5-15s
		10 * time.Second: 2, // 5-15s
		45 * time.Second: 3, // 30-60s
		2 * time.Minute:  1, // 60s+
	}
	for d, n := range samples {
		for i := 0; i < n; i++ {
			s.Observe(d)
		}
	}

	stats := s.Snapshot()
	want := []int{4, 3, 0, 3, 1}
	if len(stats.Buckets) != len(want) {
		t.Fatalf("buckets = %d, want %d", len(stats.Buckets), len(want))
	}
	for i, w := range want {
		if stats.Buckets[i].Count != w {
			t.Errorf("bucket %s = %d, want %d", stats.Buckets[i].Label, stats.Buckets[i].Count, w)
		}
	}
}

func TestLatencyStatsReservoirBounded(t *testing.T) {
	s := NewLatencyStats()
	for i := 0; i < reservoirSize*3; i++ {
		s.Observe(time.Duration(i%60) * time.Second)
	}
	if got := len(s.reservoir); got != reservoirSize {
		t.Errorf("reservoir = %d, want %d", got, reservoirSize)
	}
	if stats := s.Snapshot(); stats.Count != reservoirSize*3 {
		t.Errorf("count = %d", stats.Count)
	}
}

func TestLatencyStatsConcurrent(t *testing.T) {
	s := NewLatencyStats()
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				s.Observe(time.Duration(id*100+j%100) * time.Millisecond)
			}
		}(g)
	}
	wg.Wait()

	if got := s.Snapshot().Count; got != 5000 {
		t.Errorf("count = %d, want 5000", got)
	}
}

func BenchmarkLatencyStatsObserve(b *testing.B) {
	s := NewLatencyStats()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Observe(time.Duration(i%1000) * time.Millisecond)
	}
}
