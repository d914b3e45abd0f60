package window

import (
	"math"
	"math/rand/v2"
	"slices"

	"github.com/rewired-gh/aisstream/internal/models"
)

// DefaultSampleSize bounds the values kept for quantile estimation.
// Quantiles are exact while the count stays at or below it.
const DefaultSampleSize = 4096

// Accumulator is a streaming numeric summary: Welford running mean and
// variance, running extrema, and a reservoir sample for quantiles.
type Accumulator struct {
	count int
	mean  float64
	m2    float64
	min   float64
	max   float64

	sample   []float64
	capacity int
	rng      *rand.Rand
}

func NewAccumulator(sampleSize int) *Accumulator {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &Accumulator{
		min:      math.Inf(1),
		max:      math.Inf(-1),
		capacity: sampleSize,
		// fixed seed keeps the summary a pure function of its input
		rng: rand.New(rand.NewPCG(0x5eed, uint64(sampleSize))),
	}
}

// NewExtentAccumulator keeps no quantile sample. Its Summary reports zero
// quantiles, so read it through Extent.
func NewExtentAccumulator() *Accumulator {
	return &Accumulator{min: math.Inf(1), max: math.Inf(-1)}
}

func (a *Accumulator) Add(x float64) {
	a.count++
	delta := x - a.mean
	a.mean += delta / float64(a.count)
	a.m2 += delta * (x - a.mean)

	if x < a.min {
		a.min = x
	}
	if x > a.max {
		a.max = x
	}

	if a.capacity == 0 {
		return
	}
	if len(a.sample) < a.capacity {
		a.sample = append(a.sample, x)
		return
	}
	if j := a.rng.IntN(a.count); j < a.capacity {
		a.sample[j] = x
	}
}

func (a *Accumulator) Count() int { return a.count }

func (a *Accumulator) Mean() float64 { return a.mean }

// StdDev is the sample standard deviation (Bessel-corrected), 0 below two values.
func (a *Accumulator) StdDev() float64 {
	if a.count < 2 {
		return 0
	}
	return math.Sqrt(a.m2 / float64(a.count-1))
}

// Summary returns the zero value when nothing was added.
func (a *Accumulator) Summary() models.NumericSummary {
	if a.count == 0 {
		return models.NumericSummary{}
	}
	sorted := slices.Clone(a.sample)
	slices.Sort(sorted)
	return models.NumericSummary{
		Count:  a.count,
		Mean:   a.mean,
		Median: quantile(sorted, 0.5),
		Std:    a.StdDev(),
		Min:    a.min,
		Max:    a.max,
		Q25:    quantile(sorted, 0.25),
		Q75:    quantile(sorted, 0.75),
	}
}

// Extent reports min, max and mean; zero when empty.
func (a *Accumulator) Extent() models.Extent {
	if a.count == 0 {
		return models.Extent{}
	}
	return models.Extent{Min: a.min, Max: a.max, Avg: a.mean}
}

// quantile linearly interpolates between closest ranks of sorted.
func quantile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	h := float64(len(sorted)-1) * p
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
