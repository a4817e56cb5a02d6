package stats

import (
	"sort"

	mstats "github.com/montanaflynn/stats"

	"github.com/tmater/dnswatch/internal/proto"
)

const (
	// DefaultWindow is the number of samples retained per key.
	DefaultWindow = 200

	// DefaultAlpha is the EMA smoothing factor.
	DefaultAlpha = 0.25

	// MinZScoreSamples is the history needed before ZScore reports anything
	// other than zero.
	MinZScoreSamples = 10
)

// LatencyStats keeps a rolling window of latency samples in milliseconds
// and an exponentially weighted moving average over every sample seen.
type LatencyStats struct {
	samples *Window[float64]
	alpha   float64
	ema     float64
	hasEMA  bool
}

// NewLatencyStats returns empty stats retaining at most window samples.
func NewLatencyStats(window int) *LatencyStats {
	return &LatencyStats{
		samples: NewWindow[float64](window),
		alpha:   DefaultAlpha,
	}
}

// Add folds value into the window and the EMA.
func (s *LatencyStats) Add(value float64) {
	s.samples.Push(value)
	if !s.hasEMA {
		s.ema = value
		s.hasEMA = true
		return
	}
	s.ema = s.alpha*value + (1-s.alpha)*s.ema
}

// EMA returns the smoothed latency. ok is false until the first sample.
func (s *LatencyStats) EMA() (ema float64, ok bool) {
	return s.ema, s.hasEMA
}

// Len returns the number of retained samples.
func (s *LatencyStats) Len() int { return s.samples.Len() }

// Samples returns the retained samples, oldest first.
func (s *LatencyStats) Samples() []float64 { return s.samples.Values() }

// ZScore returns how many population standard deviations value lies from
// the mean of the current window. It is 0 while fewer than
// MinZScoreSamples samples are retained and when the window has no variance.
func (s *LatencyStats) ZScore(value float64) float64 {
	if s.samples.Len() < MinZScoreSamples {
		return 0
	}
	data := mstats.Float64Data(s.samples.Values())
	mean, err := mstats.Mean(data)
	if err != nil {
		return 0
	}
	sd, err := mstats.StandardDeviationPopulation(data)
	if err != nil || sd == 0 {
		return 0
	}
	return (value - mean) / sd
}

// Summary returns count, median, nearest-rank p95 and EMA of the window.
func (s *LatencyStats) Summary() proto.Summary {
	n := s.samples.Len()
	if n == 0 {
		return proto.Summary{}
	}
	sorted := s.samples.Values()
	sort.Float64s(sorted)

	median, err := mstats.Median(sorted)
	if err != nil {
		return proto.Summary{}
	}
	return proto.Summary{
		Count:    n,
		MedianMs: median,
		P95Ms:    sorted[int(0.95*float64(n-1))],
		EMAMs:    s.ema,
	}
}
