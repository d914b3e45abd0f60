package window

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/aisstream/internal/models"
)

const (
	MetricSpeed  = "speed"
	MetricCourse = "course"
)

// DefaultTrendHorizons are the lookbacks reported when none are configured.
var DefaultTrendHorizons = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

type metricFunc func(models.VesselState) float64

// ResolveMetric maps a metric name (or its AIS alias) to its canonical name
// and extractor.
func ResolveMetric(name string) (string, metricFunc, bool) {
	switch strings.ToLower(name) {
	case MetricSpeed, "sog":
		return MetricSpeed, func(v models.VesselState) float64 { return v.SpeedOverGround }, true
	case MetricCourse, "cog":
		return MetricCourse, func(v models.VesselState) float64 { return v.CourseOverGround }, true
	}
	return name, nil, false
}

// TrendKey names a horizon in a TrendResult, e.g. "window_5_min".
func TrendKey(h time.Duration) string {
	return "window_" + strconv.FormatFloat(h.Minutes(), 'f', -1, 64) + "_min"
}

// Trend computes count, mean and direction of metric over each horizon
// independently. Direction compares the oldest and newest sample only; a
// single sample or a tie is decreasing. Horizons with no samples are omitted.
func Trend(b *Buffer, metric string, horizons []time.Duration) models.TrendResult {
	canonical, extract, ok := ResolveMetric(metric)
	result := models.TrendResult{
		Metric:     canonical,
		Trends:     make(map[string]models.HorizonTrend),
		ComputedAt: b.clock.Now(),
	}
	if !ok {
		return result
	}

	for _, h := range horizons {
		var (
			count       int
			sum         float64
			first, last float64
		)
		for r := range b.Within(h) {
			x := extract(r.Vessel)
			if math.IsNaN(x) {
				continue
			}
			if count == 0 {
				first = x
			}
			last = x
			sum += x
			count++
		}
		if count == 0 {
			continue
		}
		direction := models.Decreasing
		if count > 1 && last > first {
			direction = models.Increasing
		}
		result.Trends[TrendKey(h)] = models.HorizonTrend{
			Count:     count,
			Mean:      sum / float64(count),
			Direction: direction,
		}
	}
	return result
}
