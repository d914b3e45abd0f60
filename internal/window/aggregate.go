package window

import (
	"errors"
	"iter"
	"math"
	"time"

	"github.com/rewired-gh/aisstream/internal/models"
)

// StatusThresholds split speeds (knots) into status classes:
// 0 is stationary, (0, SlowMax] slow, (SlowMax, ModerateMax] moderate, above is fast.
type StatusThresholds struct {
	SlowMax     float64
	ModerateMax float64
}

func DefaultThresholds() StatusThresholds {
	return StatusThresholds{SlowMax: 5, ModerateMax: 15}
}

func (t StatusThresholds) Validate() error {
	if t.SlowMax <= 0 {
		return errors.New("slow threshold must be positive")
	}
	if t.ModerateMax <= t.SlowMax {
		return errors.New("moderate threshold must exceed slow threshold")
	}
	return nil
}

func (t StatusThresholds) classify(speed float64, s *models.StatusBreakdown) {
	switch {
	case speed == 0:
		s.Stationary++
	case speed <= t.SlowMax:
		s.Slow++
	case speed <= t.ModerateMax:
		s.Moderate++
	default:
		s.Fast++
	}
}

type AggregateOptions struct {
	Thresholds StatusThresholds
	SampleSize int
	// Horizon is only reported back as WindowMinutes.
	Horizon time.Duration
}

// Aggregate summarizes records in a single pass. An empty sequence yields a
// zero result with Count == 0 and an empty histogram.
func Aggregate(records iter.Seq[models.WindowRecord], opts AggregateOptions, now time.Time) models.AggregateResult {
	result := models.AggregateResult{
		WindowMinutes: opts.Horizon.Minutes(),
		ComputedAt:    now,
		TypeHistogram: make(map[string]int),
	}

	lat := NewExtentAccumulator()
	lon := NewExtentAccumulator()
	speed := NewAccumulator(opts.SampleSize)
	course := NewAccumulator(opts.SampleSize)
	unique := make(map[string]struct{})

	for r := range records {
		v := r.Vessel
		result.Count++
		lat.Add(v.Latitude)
		lon.Add(v.Longitude)
		if !math.IsNaN(v.SpeedOverGround) {
			speed.Add(v.SpeedOverGround)
			opts.Thresholds.classify(v.SpeedOverGround, &result.Status)
		}
		if !math.IsNaN(v.CourseOverGround) {
			course.Add(v.CourseOverGround)
		}
		result.TypeHistogram[string(v.VesselType)]++
		unique[v.ID] = struct{}{}
	}

	if result.Count == 0 {
		return result
	}
	result.Latitude = lat.Extent()
	result.Longitude = lon.Extent()
	result.Speed = speed.Summary()
	result.Course = course.Summary()
	result.UniqueVessels = len(unique)
	return result
}

// ActiveVessels returns records moving faster than the moving threshold.
func ActiveVessels(records iter.Seq[models.WindowRecord], movingThreshold float64) []models.WindowRecord {
	var out []models.WindowRecord
	for r := range records {
		if r.Vessel.SpeedOverGround > movingThreshold {
			out = append(out, r)
		}
	}
	return out
}

// StationaryVessels returns records at or below the moving threshold.
func StationaryVessels(records iter.Seq[models.WindowRecord], movingThreshold float64) []models.WindowRecord {
	var out []models.WindowRecord
	for r := range records {
		if r.Vessel.SpeedOverGround <= movingThreshold {
			out = append(out, r)
		}
	}
	return out
}
