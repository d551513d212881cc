// Package util
//
// This file implements the sampled statistics reported by cache engines in
// GetInfo. The histogram buckets value sizes exponentially (16 B up to 4 GB)
// so an engine can estimate its footprint from a sample of entries without
// walking the whole key space.
package util

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes mean, population standard deviation and range
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	s := Stats{Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean = sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - s.Mean) * (v - s.Mean)
	}
	s.StdDeviation = math.Sqrt(sq / float64(len(values)))

	s.MinMaxRatio = 1.0
	if s.Max > 0 {
		s.MinMaxRatio = s.Min / s.Max
	}
	return s
}

type DistributionStats struct {
	Stats
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats rates how evenly entries are spread over shards.
// 1.0 means perfectly even.
func NewDistributionStats(shardSizes []float64) DistributionStats {
	stats := NewStats(shardSizes)

	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	return DistributionStats{
		Stats:               stats,
		DistributionQuality: (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

var sizeBoundaries = []int{
	16, 64, 256, 1024, 4096,
	16384, 65536, 262144, 1048576,
	4194304, 16777216, 67108864,
	268435456, 1073741824, 4294967296,
}

// SizeHistogram counts samples in exponential size buckets.
//
// Thread-safety: all methods are safe for concurrent use.
type SizeHistogram struct {
	mu      sync.Mutex
	buckets [16]int64
	count   int64
	sum     int64
}

func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{}
}

// AddSample records one value size
func (h *SizeHistogram) AddSample(size int) {
	idx := len(sizeBoundaries)
	for i, b := range sizeBoundaries {
		if size <= b {
			idx = i
			break
		}
	}

	h.mu.Lock()
	h.buckets[idx]++
	h.count++
	h.sum += int64(size)
	h.mu.Unlock()
}

// Count returns the number of samples
func (h *SizeHistogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Mean returns the exact average sample size
func (h *SizeHistogram) Mean() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// Percentile estimates the size at percentile p (0-100) from the bucket midpoints
func (h *SizeHistogram) Percentile(p int) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 || p < 0 || p > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(p) / 100.0))
	var cumulative int64
	for i, c := range h.buckets {
		cumulative += c
		if cumulative < target {
			continue
		}
		switch {
		case i == 0:
			return sizeBoundaries[0] / 2
		case i < len(sizeBoundaries):
			return (sizeBoundaries[i-1] + sizeBoundaries[i]) / 2
		default:
			return sizeBoundaries[len(sizeBoundaries)-1] * 2
		}
	}
	return int(h.sum / h.count)
}
